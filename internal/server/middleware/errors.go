package middleware

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/platform/apperr"
)

// ErrorHandler is the fiber error handler. Classified errors become
// {error, details}; fiber errors keep their code; anything else is a 500 with a
// generic message and the cause logged.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	status := ResponseStatus(c, err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("http: %s %s: %v", c.Method(), c.Path(), err)
	}
	msg, detail := apperr.Public(err)
	body := fiber.Map{"error": msg}
	if detail != "" {
		body["details"] = detail
	}
	return c.Status(status).JSON(body)
}

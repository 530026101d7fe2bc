package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/platform/apperr"
)

// ResponseStatus is the status the error handler will send for err, or the
// status already written when err is nil.
func ResponseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperr.HTTPStatus(apperr.KindOf(err))
}

// Package handler exposes eSIM activation over HTTP.
package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/provisioning/service"
	"esim-gateway/internal/server/middleware"
)

// Activator is the subset of *service.Engine the handler calls.
type Activator interface {
	Activate(ctx context.Context, correlationID, subjectID string) (*service.Activation, error)
}

type ActivationHandler struct {
	engine Activator
}

// NewActivationHandler returns an ActivationHandler. A nil engine answers 501.
func NewActivationHandler(engine Activator) *ActivationHandler {
	return &ActivationHandler{engine: engine}
}

// Mount adds GET /activate/:transactionId to r behind requireAuth.
func (h *ActivationHandler) Mount(r fiber.Router, requireAuth fiber.Handler) {
	r.Get("/activate/:transactionId", requireAuth, h.activate)
}

type profileJSON struct {
	ICCID  string `json:"iccid"`
	IMSI   string `json:"imsi"`
	Status string `json:"status"`
}

func (h *ActivationHandler) activate(c *fiber.Ctx) error {
	if h.engine == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "provisioning not configured")
	}
	subjectID, _ := middleware.SubjectID(c.UserContext())
	act, err := h.engine.Activate(c.UserContext(), c.Params("transactionId"), subjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"lpaCode":   act.ActivationCode,
		"qrCodeUrl": act.QRCodeURL,
		"esimProfile": profileJSON{
			ICCID:  act.Profile.ICCID,
			IMSI:   act.Profile.IMSI,
			Status: string(act.Profile.Status),
		},
	})
}

// Package handler receives carrier and payment webhooks.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/callback/domain"
	"esim-gateway/internal/callback/service"
	"esim-gateway/internal/platform/apperr"
	txdomain "esim-gateway/internal/transaction/domain"
)

// EventHeader carries the generic webhook's event type.
const EventHeader = "X-Webhook-Event"

// Reconciler is the subset of *service.Reconciler the handlers call.
type Reconciler interface {
	ProfileStatus(ctx context.Context, ev service.ProfileStatusEvent) (*service.ProfileStatusResult, error)
	CompleteTransaction(ctx context.Context, ev service.TransactionCompletionEvent) (*txdomain.Transaction, error)
	PaymentCallback(ctx context.Context, ev service.PaymentCallbackEvent) (*txdomain.Transaction, error)
	Generic(ctx context.Context, eventType string, payload []byte) (*domain.WebhookEvent, error)
}

type WebhookHandler struct {
	rec Reconciler
}

// NewWebhookHandler returns a WebhookHandler. A nil reconciler answers 501.
func NewWebhookHandler(rec Reconciler) *WebhookHandler {
	return &WebhookHandler{rec: rec}
}

var errNotConfigured = fiber.NewError(fiber.StatusNotImplemented, "webhooks not configured")

// Mount adds the /api/webhooks routes to r.
func (h *WebhookHandler) Mount(r fiber.Router) {
	r.Post("/esim/status", h.profileStatus)
	r.Post("/payment/callback", h.PaymentCallback)
	r.Post("/activation/complete", h.activationComplete)
	r.Post("/generic", h.generic)
}

// flexibleID accepts a JSON number or a numeric string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	*f = flexibleID(n.String())
	return nil
}

type statusRequest struct {
	ESIMID       flexibleID `json:"esim_id"`
	ICCID        string     `json:"iccid"`
	IMSI         string     `json:"imsi"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
}

func (h *WebhookHandler) profileStatus(c *fiber.Ctx) error {
	if h.rec == nil {
		return errNotConfigured
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("eSIM ID or ICCID is required")
	}
	var id int64
	if req.ESIMID != "" {
		v, err := strconv.ParseInt(string(req.ESIMID), 10, 64)
		if err != nil || v <= 0 {
			return apperr.InvalidInput("Invalid eSIM ID")
		}
		id = v
	}
	res, err := h.rec.ProfileStatus(c.UserContext(), service.ProfileStatusEvent{
		ProfileID:    id,
		ICCID:        req.ICCID,
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Webhook processed successfully",
		"esim_id": res.ProfileID,
		"status":  res.Status,
	})
}

type paymentCallbackRequest struct {
	TransactionID string      `json:"transaction_id"`
	Status        string      `json:"status"`
	Amount        json.Number `json:"amount"`
}

// PaymentCallback acknowledges every gateway callback that names a known
// transaction with 200, including ones that failed to apply, so the gateway
// does not retry. It is also mounted under /api/esim/payment/callback.
func (h *WebhookHandler) PaymentCallback(c *fiber.Ctx) error {
	if h.rec == nil {
		return errNotConfigured
	}
	var req paymentCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("Transaction ID is required")
	}
	_, err := h.rec.PaymentCallback(c.UserContext(), service.PaymentCallbackEvent{
		CorrelationID: req.TransactionID,
		Status:        req.Status,
		Amount:        req.Amount.String(),
	})
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"success": true, "message": "Callback processed successfully"})
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrNotFound):
		return err
	default:
		log.Printf("callback: payment callback for %q failed: %v", req.TransactionID, err)
		return c.JSON(fiber.Map{"success": true, "message": "Callback received but processing failed"})
	}
}

type activationRequest struct {
	TransactionID  string `json:"transaction_id"`
	ActivationCode string `json:"activation_code"`
	QRURL          string `json:"qr_url"`
}

func (h *WebhookHandler) activationComplete(c *fiber.Ctx) error {
	if h.rec == nil {
		return errNotConfigured
	}
	var req activationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("Transaction ID is required")
	}
	if _, err := h.rec.CompleteTransaction(c.UserContext(), service.TransactionCompletionEvent{
		CorrelationID:  req.TransactionID,
		ActivationCode: req.ActivationCode,
		QRURL:          req.QRURL,
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"message":         "Activation webhook processed successfully",
		"transaction_id":  req.TransactionID,
		"activation_code": req.ActivationCode,
		"qr_url":          req.QRURL,
	})
}

func (h *WebhookHandler) generic(c *fiber.Ctx) error {
	if h.rec == nil {
		return errNotConfigured
	}
	// fiber reuses the body buffer after the handler returns.
	body := append([]byte(nil), c.Body()...)
	if _, err := h.rec.Generic(c.UserContext(), c.Get(EventHeader), body); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Webhook received and queued for processing"})
}

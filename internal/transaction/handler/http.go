// Package handler exposes the plan catalog and purchases over HTTP.
package handler

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	catalogdomain "esim-gateway/internal/catalog/domain"
	"esim-gateway/internal/payment"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/server/middleware"
	"esim-gateway/internal/transaction/service"
)

// Ledger is the subset of *service.Ledger the handlers call.
type Ledger interface {
	ListActivePlans(ctx context.Context) ([]*catalogdomain.Plan, error)
	Purchase(ctx context.Context, subjectID string, req service.PurchaseRequest) (*service.PurchaseResult, error)
}

// PurchaseHandler serves the plan list and purchase routes under /api/esim.
type PurchaseHandler struct {
	ledger Ledger
}

// NewPurchaseHandler returns a PurchaseHandler. A nil ledger answers 501.
func NewPurchaseHandler(ledger Ledger) *PurchaseHandler {
	return &PurchaseHandler{ledger: ledger}
}

var errNotConfigured = fiber.NewError(fiber.StatusNotImplemented, "ledger not configured")

// Mount adds the routes to r. requireAuth guards purchase.
func (h *PurchaseHandler) Mount(r fiber.Router, requireAuth fiber.Handler) {
	r.Get("/plans", h.plans)
	r.Post("/purchase", requireAuth, h.purchase)
}

type planJSON struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	DataLimit    string      `json:"data_limit"`
	ValidityDays int         `json:"validity_days"`
	PriceUSD     json.Number `json:"price_usd"`
	PriceKHR     int64       `json:"price_khr"`
}

func (h *PurchaseHandler) plans(c *fiber.Ctx) error {
	if h.ledger == nil {
		return errNotConfigured
	}
	plans, err := h.ledger.ListActivePlans(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]planJSON, 0, len(plans))
	for _, p := range plans {
		out = append(out, planJSON{
			ID:           p.ID,
			Name:         p.Name,
			DataLimit:    p.DataLimit,
			ValidityDays: p.ValidityDays,
			PriceUSD:     json.Number(p.PriceUSD()),
			PriceKHR:     p.PriceKHRRiel,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

type paymentInfoJSON struct {
	Phone          string                  `json:"phone"`
	CardNumber     string                  `json:"cardNumber"`
	ExpiryMonth    string                  `json:"expiryMonth"`
	ExpiryYear     string                  `json:"expiryYear"`
	CVV            string                  `json:"cvv"`
	CardHolderName string                  `json:"cardHolderName"`
	BillingAddress *payment.BillingAddress `json:"billingAddress"`
}

type purchaseRequest struct {
	PlanID        int64            `json:"planId"`
	PaymentMethod string           `json:"paymentMethod"`
	PaymentInfo   *paymentInfoJSON `json:"paymentInfo"`
}

func (r purchaseRequest) toService() service.PurchaseRequest {
	req := service.PurchaseRequest{PlanID: r.PlanID, PaymentMethod: r.PaymentMethod}
	pi := r.PaymentInfo
	if pi == nil {
		return req
	}
	req.PaymentInfo.Phone = pi.Phone
	if pi.CardNumber != "" || pi.CVV != "" || pi.ExpiryMonth != "" {
		req.PaymentInfo.Card = &payment.Card{
			Number:         pi.CardNumber,
			ExpiryMonth:    pi.ExpiryMonth,
			ExpiryYear:     pi.ExpiryYear,
			CVV:            pi.CVV,
			HolderName:     pi.CardHolderName,
			BillingAddress: pi.BillingAddress,
		}
	}
	return req
}

func (h *PurchaseHandler) purchase(c *fiber.Ctx) error {
	if h.ledger == nil {
		return errNotConfigured
	}
	var body purchaseRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidInput("Plan ID and payment method are required")
	}
	subjectID, _ := middleware.SubjectID(c.UserContext())
	res, err := h.ledger.Purchase(c.UserContext(), subjectID, body.toService())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":       "Purchase successful",
		"transactionId": res.TransactionID,
		"plan": fiber.Map{
			"name":      res.Plan.Name,
			"dataLimit": res.Plan.DataLimit,
			"validity":  res.Plan.ValidityDays,
		},
	})
}

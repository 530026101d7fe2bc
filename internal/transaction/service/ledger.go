package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"esim-gateway/internal/audit"
	auditdomain "esim-gateway/internal/audit/domain"
	catalogdomain "esim-gateway/internal/catalog/domain"
	"esim-gateway/internal/payment"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/transaction/domain"
	txrepo "esim-gateway/internal/transaction/repository"
	userdomain "esim-gateway/internal/user/domain"
)

const (
	maxCorrelationAttempts = 3
	meterName              = "esim-gateway/ledger"

	msgAuthRequired      = "Authentication required"
	msgPurchaseRequired  = "Plan ID and payment method are required"
	msgPlanNotFound      = "Plan not found"
	msgTxNotFound        = "Transaction not found"
	msgGatewayDown       = "Payment service temporarily unavailable"
	msgUnsupportedMethod = "Unsupported payment method"
)

// PlanReader is the catalog lookup the ledger needs.
type PlanReader interface {
	ListActive(ctx context.Context) ([]*catalogdomain.Plan, error)
	GetActive(ctx context.Context, id int64) (*catalogdomain.Plan, error)
}

// methodSupporter is implemented by gateways that can tell up front whether a
// method is routable, such as *payment.Router.
type methodSupporter interface {
	Supports(method string) bool
}

// PaymentInfo carries method-specific payer details.
type PaymentInfo struct {
	Phone string
	Card  *payment.Card
}

// PurchaseRequest is one purchase attempt by an authenticated subject.
type PurchaseRequest struct {
	PlanID        int64
	PaymentMethod string
	PaymentInfo   PaymentInfo
}

func (r PurchaseRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PlanID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.PaymentMethod, validation.Required),
	)
}

// PlanSummary is the plan part of a purchase response.
type PlanSummary struct {
	Name         string
	DataLimit    string
	ValidityDays int
}

// PurchaseResult is a completed purchase.
type PurchaseResult struct {
	TransactionID    string
	PaymentReference string
	PaymentURL       string
	Plan             PlanSummary
}

// Config holds ledger settings. Meter may be nil to use the global provider.
type Config struct {
	CallbackURL string
	Meter       metric.Meter
}

// Ledger runs purchases and owns transaction status changes.
type Ledger struct {
	plans       PlanReader
	txs         txrepo.Repository
	gateway     payment.Gateway
	audit       audit.AuditLogger
	callbackURL string
	purchases   metric.Int64Counter
	nowF        func() time.Time
	newID       func() string
}

// NewLedger returns a Ledger. auditLogger may be nil.
func NewLedger(plans PlanReader, txs txrepo.Repository, gateway payment.Gateway, auditLogger audit.AuditLogger, cfg Config) *Ledger {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	counter, err := meter.Int64Counter("esim.purchases", metric.WithDescription("Purchase attempts by outcome"))
	if err != nil {
		log.Printf("ledger: purchases counter: %v", err)
	}
	return &Ledger{
		plans:       plans,
		txs:         txs,
		gateway:     gateway,
		audit:       auditLogger,
		callbackURL: cfg.CallbackURL,
		purchases:   counter,
		nowF:        time.Now,
		newID:       domain.NewCorrelationID,
	}
}

// ListActivePlans returns the active catalog, cheapest first.
func (l *Ledger) ListActivePlans(ctx context.Context) ([]*catalogdomain.Plan, error) {
	plans, err := l.plans.ListActive(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return plans, nil
}

// Purchase charges the subject for a plan and records a completed transaction.
// Nothing is written unless the gateway accepted the payment.
func (l *Ledger) Purchase(ctx context.Context, subjectID string, req PurchaseRequest) (*PurchaseResult, error) {
	userID, err := userdomain.ParseSubjectID(subjectID)
	if err != nil {
		return nil, apperr.Unauthorized(msgAuthRequired)
	}
	if err := req.validate(); err != nil {
		return nil, apperr.InvalidInput(msgPurchaseRequired)
	}

	plan, err := l.plans.GetActive(ctx, req.PlanID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if plan == nil {
		return nil, apperr.NotFound(msgPlanNotFound)
	}

	if sg, ok := l.gateway.(methodSupporter); ok && !sg.Supports(req.PaymentMethod) {
		l.count(ctx, "unsupported_method", req.PaymentMethod)
		return nil, apperr.InvalidInput(msgUnsupportedMethod)
	}
	if req.PaymentMethod == payment.MethodCard {
		if err := payment.ValidateCard(req.PaymentInfo.Card, l.nowF()); err != nil {
			l.count(ctx, "invalid_card", req.PaymentMethod)
			return nil, apperr.InvalidInput(err.Error())
		}
	}

	res, err := l.gateway.Initiate(ctx, payment.PaymentRequest{
		Method:        req.PaymentMethod,
		AmountCents:   plan.PriceUSDCents,
		Currency:      "USD",
		Description:   "eSIM Plan: " + plan.Name,
		CustomerPhone: req.PaymentInfo.Phone,
		CallbackURL:   l.callbackURL,
		Card:          req.PaymentInfo.Card,
	})
	if err != nil {
		return nil, l.gatewayError(ctx, req.PaymentMethod, err)
	}

	tx, err := l.record(ctx, userID, plan, req.PaymentMethod, res.Reference)
	if err != nil {
		l.count(ctx, "persist_failed", req.PaymentMethod)
		log.Printf("ledger: payment %s accepted but not recorded for user %d plan %d: %v", res.Reference, userID, plan.ID, err)
		return nil, err
	}

	l.count(ctx, "completed", req.PaymentMethod)
	l.audit.LogEvent(ctx, subjectID, auditdomain.ActionPurchase, auditdomain.ResourceTransaction,
		audit.Metadata("transaction_id", tx.CorrelationID, "plan_id", strconv.FormatInt(plan.ID, 10), "payment_method", req.PaymentMethod))

	return &PurchaseResult{
		TransactionID:    tx.CorrelationID,
		PaymentReference: res.Reference,
		PaymentURL:       res.PaymentURL,
		Plan:             PlanSummary{Name: plan.Name, DataLimit: plan.DataLimit, ValidityDays: plan.ValidityDays},
	}, nil
}

// record inserts the completed transaction, regenerating the correlation id on a clash.
func (l *Ledger) record(ctx context.Context, userID int64, plan *catalogdomain.Plan, method, reference string) (*domain.Transaction, error) {
	for attempt := 0; attempt < maxCorrelationAttempts; attempt++ {
		tx := &domain.Transaction{
			UserID:           userID,
			PlanID:           plan.ID,
			CorrelationID:    l.newID(),
			AmountUSDCents:   plan.PriceUSDCents,
			PaymentMethod:    method,
			PaymentReference: reference,
			Status:           domain.StatusCompleted,
		}
		err := l.txs.Insert(ctx, tx)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, txrepo.ErrCorrelationTaken) {
			return nil, apperr.Internal(err)
		}
	}
	return nil, apperr.Conflict("Could not allocate a transaction id")
}

func (l *Ledger) gatewayError(ctx context.Context, method string, err error) error {
	if errors.Is(err, payment.ErrUnsupportedMethod) {
		l.count(ctx, "unsupported_method", method)
		return apperr.InvalidInput(msgUnsupportedMethod)
	}
	if payment.KindOf(err) == payment.Declined {
		l.count(ctx, "declined", method)
		var pe *payment.Error
		errors.As(err, &pe)
		return apperr.PaymentFailed(pe.Message)
	}
	l.count(ctx, "unavailable", method)
	log.Printf("ledger: gateway unavailable for %s: %v", method, err)
	return apperr.ServiceUnavailable(msgGatewayDown, err)
}

func (l *Ledger) count(ctx context.Context, outcome, method string) {
	if l.purchases == nil {
		return
	}
	l.purchases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("payment_method", method),
	))
}

// GetByCorrelationID returns the transaction or NotFound.
func (l *Ledger) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error) {
	tx, err := l.txs.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if tx == nil {
		return nil, apperr.NotFound(msgTxNotFound)
	}
	return tx, nil
}

// ApplyCallbackStatus moves a transaction to status. Re-applying the current
// status is a no-op; an unknown correlation id is NotFound and nothing is created.
func (l *Ledger) ApplyCallbackStatus(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, error) {
	status, ok := domain.ParseStatus(string(status))
	if !ok {
		return nil, apperr.InvalidInput("Invalid transaction status")
	}
	tx, err := l.txs.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if tx == nil {
		log.Printf("ledger: callback for unknown transaction %q", correlationID)
		return nil, apperr.NotFound(msgTxNotFound)
	}
	if tx.Status == status {
		return tx, nil
	}
	updated, err := l.txs.UpdateStatus(ctx, correlationID, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if updated == nil {
		return nil, apperr.NotFound(msgTxNotFound)
	}
	log.Printf("ledger: transaction %s %s -> %s", correlationID, tx.Status, updated.Status)
	return updated, nil
}

// FailUnlessProvisioned marks a transaction failed unless it owns a profile.
// The profile check and the write happen in one repository call. ignored is
// true when a profile blocked the change; tx is then the unchanged row.
func (l *Ledger) FailUnlessProvisioned(ctx context.Context, correlationID string) (tx *domain.Transaction, ignored bool, err error) {
	cur, err := l.txs.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if cur == nil {
		log.Printf("ledger: callback for unknown transaction %q", correlationID)
		return nil, false, apperr.NotFound(msgTxNotFound)
	}
	if cur.Status == domain.StatusFailed {
		return cur, false, nil
	}
	updated, provisioned, err := l.txs.UpdateStatusUnlessProvisioned(ctx, correlationID, domain.StatusFailed)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if updated == nil {
		return nil, false, apperr.NotFound(msgTxNotFound)
	}
	if provisioned {
		return updated, true, nil
	}
	log.Printf("ledger: transaction %s %s -> %s", correlationID, cur.Status, updated.Status)
	return updated, false, nil
}

// Package service applies carrier and payment webhooks to the ledger and the
// provisioning profiles.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"esim-gateway/internal/callback/domain"
	eventrepo "esim-gateway/internal/callback/repository"
	"esim-gateway/internal/platform/apperr"
	profiledomain "esim-gateway/internal/provisioning/domain"
	"esim-gateway/internal/telemetry"
	txdomain "esim-gateway/internal/transaction/domain"
)

const (
	meterName      = "esim-gateway/callbacks"
	eventSource    = "webhook"
	forwardTimeout = 2 * time.Second

	msgIDRequired      = "Transaction ID is required"
	msgProfileKey      = "eSIM ID or ICCID is required"
	msgProfileNotFound = "eSIM profile not found"
)

// Ledger is the transaction side the reconciler drives.
type Ledger interface {
	GetByCorrelationID(ctx context.Context, correlationID string) (*txdomain.Transaction, error)
	ApplyCallbackStatus(ctx context.Context, correlationID string, status txdomain.Status) (*txdomain.Transaction, error)
	FailUnlessProvisioned(ctx context.Context, correlationID string) (*txdomain.Transaction, bool, error)
}

// Provisioner creates the profile for a completed transaction.
type Provisioner interface {
	EnsureProfile(ctx context.Context, tx *txdomain.Transaction) (*profiledomain.Profile, error)
}

// ProfileStore is the profile lookup and status write the reconciler needs.
type ProfileStore interface {
	GetByID(ctx context.Context, id int64) (*profiledomain.Profile, error)
	GetByICCID(ctx context.Context, iccid string) (*profiledomain.Profile, error)
	UpdateStatus(ctx context.Context, id int64, status profiledomain.Status) (*profiledomain.Profile, error)
}

// ProfileStatusEvent is a carrier status report. ProfileID wins over ICCID.
type ProfileStatusEvent struct {
	ProfileID    int64
	ICCID        string
	Status       string
	ErrorMessage string
}

type ProfileStatusResult struct {
	ProfileID int64
	Status    profiledomain.Status
}

// TransactionCompletionEvent reports that the carrier finished activation.
type TransactionCompletionEvent struct {
	CorrelationID  string
	ActivationCode string
	QRURL          string
}

// PaymentCallbackEvent is the gateway's asynchronous payment result.
type PaymentCallbackEvent struct {
	CorrelationID string
	Status        string
	Amount        string
}

// Config holds optional collaborators. A nil Emitter disables forwarding of
// generic events; a nil Meter uses the global provider.
type Config struct {
	Emitter telemetry.EventEmitter
	Meter   metric.Meter
}

// Reconciler is stateless; every call reads and writes through its stores.
type Reconciler struct {
	ledger    Ledger
	engine    Provisioner
	profiles  ProfileStore
	events    eventrepo.Repository
	emitter   telemetry.EventEmitter
	callbacks metric.Int64Counter
}

func NewReconciler(ledger Ledger, engine Provisioner, profiles ProfileStore, events eventrepo.Repository, cfg Config) *Reconciler {
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	counter, err := meter.Int64Counter("esim.callbacks", metric.WithDescription("Inbound callbacks by kind and outcome"))
	if err != nil {
		log.Printf("callback: counter: %v", err)
	}
	return &Reconciler{
		ledger:    ledger,
		engine:    engine,
		profiles:  profiles,
		events:    events,
		emitter:   cfg.Emitter,
		callbacks: counter,
	}
}

// ProfileStatus applies a carrier status to a profile. Unknown statuses keep
// the stored one; the event is still acknowledged.
func (r *Reconciler) ProfileStatus(ctx context.Context, ev ProfileStatusEvent) (*ProfileStatusResult, error) {
	if ev.ProfileID == 0 && strings.TrimSpace(ev.ICCID) == "" {
		r.count(ctx, "profile_status", "invalid")
		return nil, apperr.InvalidInput(msgProfileKey)
	}
	var (
		p   *profiledomain.Profile
		err error
	)
	if ev.ProfileID != 0 {
		p, err = r.profiles.GetByID(ctx, ev.ProfileID)
	} else {
		p, err = r.profiles.GetByICCID(ctx, strings.TrimSpace(ev.ICCID))
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p == nil {
		r.count(ctx, "profile_status", "not_found")
		log.Printf("callback: status for unknown profile id=%d iccid=%q", ev.ProfileID, ev.ICCID)
		return nil, apperr.NotFound(msgProfileNotFound)
	}
	if ev.ErrorMessage != "" {
		log.Printf("callback: carrier reported error for profile %d: %s", p.ID, ev.ErrorMessage)
	}

	status, ok := profiledomain.ParseStatus(ev.Status)
	if !ok {
		r.count(ctx, "profile_status", "ignored")
		log.Printf("callback: ignoring unknown status %q for profile %d", ev.Status, p.ID)
		status = p.Status
	}
	// activated with no stamp still needs the write so activated_at gets set.
	if status != p.Status || (status == profiledomain.StatusActivated && p.ActivatedAt == nil) {
		updated, err := r.profiles.UpdateStatus(ctx, p.ID, status)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if updated == nil {
			return nil, apperr.NotFound(msgProfileNotFound)
		}
		log.Printf("callback: profile %s status %s -> %s", p.ICCID, p.Status, updated.Status)
		p = updated
	}
	if ok {
		r.count(ctx, "profile_status", "applied")
	}
	return &ProfileStatusResult{ProfileID: p.ID, Status: p.Status}, nil
}

// CompleteTransaction marks the transaction completed and makes sure it has a
// profile. Repeating it is harmless.
func (r *Reconciler) CompleteTransaction(ctx context.Context, ev TransactionCompletionEvent) (*txdomain.Transaction, error) {
	if strings.TrimSpace(ev.CorrelationID) == "" {
		r.count(ctx, "activation_complete", "invalid")
		return nil, apperr.InvalidInput(msgIDRequired)
	}
	tx, err := r.ledger.GetByCorrelationID(ctx, ev.CorrelationID)
	if err != nil {
		r.count(ctx, "activation_complete", outcomeOf(err))
		return nil, err
	}
	if tx.Status != txdomain.StatusCompleted {
		tx, err = r.ledger.ApplyCallbackStatus(ctx, ev.CorrelationID, txdomain.StatusCompleted)
		if err != nil {
			r.count(ctx, "activation_complete", outcomeOf(err))
			return nil, err
		}
	}
	if _, err := r.engine.EnsureProfile(ctx, tx); err != nil {
		r.count(ctx, "activation_complete", "provision_failed")
		return nil, err
	}
	r.count(ctx, "activation_complete", "applied")
	return tx, nil
}

// PaymentCallback applies the gateway's verdict: "completed" completes the
// transaction, anything else fails it. A failure report for a transaction
// that owns a profile, or gains one concurrently, is ignored.
func (r *Reconciler) PaymentCallback(ctx context.Context, ev PaymentCallbackEvent) (*txdomain.Transaction, error) {
	if strings.TrimSpace(ev.CorrelationID) == "" {
		r.count(ctx, "payment", "invalid")
		return nil, apperr.InvalidInput(msgIDRequired)
	}
	target := txdomain.StatusFailed
	if ev.Status == string(txdomain.StatusCompleted) {
		target = txdomain.StatusCompleted
	}

	tx, err := r.ledger.GetByCorrelationID(ctx, ev.CorrelationID)
	if err != nil {
		r.count(ctx, "payment", outcomeOf(err))
		return nil, err
	}
	if ev.Amount != "" {
		log.Printf("callback: payment %s reported amount %s (recorded %d cents)", ev.CorrelationID, ev.Amount, tx.AmountUSDCents)
	}

	if target == txdomain.StatusFailed {
		updated, ignored, err := r.ledger.FailUnlessProvisioned(ctx, ev.CorrelationID)
		if err != nil {
			r.count(ctx, "payment", outcomeOf(err))
			return nil, err
		}
		if ignored {
			r.count(ctx, "payment", "ignored")
			log.Printf("callback: WARNING ignoring %q for provisioned transaction %s", ev.Status, tx.CorrelationID)
			return updated, nil
		}
		r.count(ctx, "payment", "applied")
		return updated, nil
	}

	updated, err := r.ledger.ApplyCallbackStatus(ctx, ev.CorrelationID, target)
	if err != nil {
		r.count(ctx, "payment", outcomeOf(err))
		return nil, err
	}
	if _, err := r.engine.EnsureProfile(ctx, updated); err != nil {
		r.count(ctx, "payment", "provision_failed")
		return nil, err
	}
	r.count(ctx, "payment", "applied")
	return updated, nil
}

// Generic stores an arbitrary webhook body under eventType and forwards it to
// the event stream as webhook.<eventType>. A body that is not JSON is stored
// as a JSON string. Only the store is required to succeed.
func (r *Reconciler) Generic(ctx context.Context, eventType string, payload []byte) (*domain.WebhookEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = domain.DefaultEventType
	}
	if len(payload) > 0 && !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			r.count(ctx, "generic", "error")
			return nil, apperr.Internal(err)
		}
		payload = quoted
	}
	ev := &domain.WebhookEvent{EventType: eventType, Payload: json.RawMessage(payload)}
	if err := r.events.Append(ctx, ev); err != nil {
		r.count(ctx, "generic", "error")
		return nil, apperr.Internal(err)
	}
	log.Printf("callback: stored %s webhook as event %d", eventType, ev.ID)
	r.forward(ctx, ev)
	r.count(ctx, "generic", "stored")
	return ev, nil
}

func (r *Reconciler) forward(ctx context.Context, ev *domain.WebhookEvent) {
	if r.emitter == nil {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardTimeout)
	defer cancel()
	event := telemetry.NewEvent(telemetry.EventTypeWebhookPrefix+ev.EventType, eventSource, "", ev.Payload)
	if err := r.emitter.Emit(fctx, event); err != nil {
		log.Printf("callback: forward event %d: %v", ev.ID, err)
		return
	}
	if err := r.events.MarkProcessed(fctx, ev.ID); err != nil {
		log.Printf("callback: mark event %d processed: %v", ev.ID, err)
		return
	}
	ev.Processed = true
}

func (r *Reconciler) count(ctx context.Context, kind, outcome string) {
	if r.callbacks == nil {
		return
	}
	r.callbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

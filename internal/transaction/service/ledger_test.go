package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	auditdomain "esim-gateway/internal/audit/domain"
	catalogdomain "esim-gateway/internal/catalog/domain"
	"esim-gateway/internal/payment"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/transaction/domain"
	txrepo "esim-gateway/internal/transaction/repository"
)

type memPlans struct {
	plans []*catalogdomain.Plan
	err   error
}

func (m *memPlans) ListActive(ctx context.Context) ([]*catalogdomain.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*catalogdomain.Plan
	for _, p := range m.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPlans) GetActive(ctx context.Context, id int64) (*catalogdomain.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.plans {
		if p.ID == id && p.Active {
			return p, nil
		}
	}
	return nil, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls []payment.PaymentRequest
}

func (g *fakeGateway) Initiate(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.PaymentResult{Reference: "WP-REF-1", PaymentURL: "https://pay/1"}, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

type failingTxRepo struct {
	txrepo.Repository
	err error
}

func (r failingTxRepo) Insert(context.Context, *domain.Transaction) error { return r.err }

type fixture struct {
	ledger  *Ledger
	plans   *memPlans
	txs     *txrepo.MemoryRepository
	gateway *fakeGateway
	audit   *recordingAudit
	reader  *sdkmetric.ManualReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	f := &fixture{
		plans: &memPlans{plans: []*catalogdomain.Plan{
			{ID: 1, Name: "Traveler 10GB", DataLimit: "10GB", ValidityDays: 30, PriceUSDCents: 1500, Active: true},
			{ID: 2, Name: "Starter 1GB", DataLimit: "1GB", ValidityDays: 7, PriceUSDCents: 299, Active: true},
			{ID: 3, Name: "Retired", DataLimit: "2GB", ValidityDays: 7, PriceUSDCents: 100, Active: false},
		}},
		txs:     txrepo.NewMemoryRepository(),
		gateway: &fakeGateway{},
		audit:   &recordingAudit{},
		reader:  reader,
	}
	f.ledger = NewLedger(f.plans, f.txs, f.gateway, f.audit, Config{
		CallbackURL: "http://localhost:8080/api/esim/payment/callback",
		Meter:       mp.Meter("test"),
	})
	f.ledger.nowF = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

// outcomes returns the esim.purchases counter values keyed by outcome.
func (f *fixture) outcomes(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "esim.purchases" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("esim.purchases data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestListActivePlans(t *testing.T) {
	f := newFixture(t)
	plans, err := f.ledger.ListActivePlans(context.Background())
	if err != nil {
		t.Fatalf("ListActivePlans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2 active", len(plans))
	}

	f.plans.err = errors.New("db down")
	if _, err := f.ledger.ListActivePlans(context.Background()); !errors.Is(err, apperr.ErrInternal) {
		t.Errorf("err = %v, want Internal", err)
	}
}

func TestPurchase_Success(t *testing.T) {
	f := newFixture(t)
	res, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{
		PlanID: 2, PaymentMethod: payment.MethodWingPay, PaymentInfo: PaymentInfo{Phone: "+85512345678"},
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if res.PaymentReference != "WP-REF-1" || res.Plan.Name != "Starter 1GB" || res.Plan.ValidityDays != 7 {
		t.Errorf("result = %+v", res)
	}

	tx, err := f.ledger.GetByCorrelationID(context.Background(), res.TransactionID)
	if err != nil {
		t.Fatalf("GetByCorrelationID: %v", err)
	}
	if tx.Status != domain.StatusCompleted || tx.UserID != 7 || tx.AmountUSDCents != 299 || tx.PaymentReference != "WP-REF-1" {
		t.Errorf("stored tx = %+v", tx)
	}

	call := f.gateway.calls[0]
	if call.AmountCents != 299 || call.Description != "eSIM Plan: Starter 1GB" || call.CustomerPhone != "+85512345678" {
		t.Errorf("gateway request = %+v", call)
	}
	if call.CallbackURL != "http://localhost:8080/api/esim/payment/callback" {
		t.Errorf("callback url = %q", call.CallbackURL)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != auditdomain.ActionPurchase {
		t.Errorf("audit = %v", f.audit.actions)
	}
	if got := f.outcomes(t)["completed"]; got != 1 {
		t.Errorf("completed count = %d", got)
	}
}

func TestPurchase_GatewayDeclineWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &payment.Error{Kind: payment.Declined, Message: "Insufficient balance"}

	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: payment.MethodWingPay})
	if !errors.Is(err, apperr.ErrPaymentFailed) {
		t.Fatalf("err = %v, want PaymentFailed", err)
	}
	if _, detail := apperr.Public(err); detail != "Insufficient balance" {
		t.Errorf("detail = %q", detail)
	}
	if f.txs.Len() != 0 {
		t.Errorf("rows written = %d, want 0", f.txs.Len())
	}
	if len(f.audit.actions) != 0 {
		t.Errorf("audit = %v, want none", f.audit.actions)
	}
	if got := f.outcomes(t)["declined"]; got != 1 {
		t.Errorf("declined count = %d", got)
	}
}

func TestPurchase_GatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &payment.Error{Kind: payment.Unavailable, Message: "timeout", Err: context.DeadlineExceeded}

	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: payment.MethodWingPay})
	if !errors.Is(err, apperr.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ServiceUnavailable", err)
	}
	if f.txs.Len() != 0 {
		t.Errorf("rows written = %d, want 0", f.txs.Len())
	}
}

func TestPurchase_UnsupportedMethod(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = payment.ErrUnsupportedMethod
	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "bitcoin"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestPurchase_Validation(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		req     PurchaseRequest
		want    error
	}{
		{"no subject", "", PurchaseRequest{PlanID: 1, PaymentMethod: "wingpay"}, apperr.ErrUnauthorized},
		{"bad subject", "abc", PurchaseRequest{PlanID: 1, PaymentMethod: "wingpay"}, apperr.ErrUnauthorized},
		{"missing plan", "7", PurchaseRequest{PaymentMethod: "wingpay"}, apperr.ErrInvalidInput},
		{"missing method", "7", PurchaseRequest{PlanID: 1}, apperr.ErrInvalidInput},
		{"unknown plan", "7", PurchaseRequest{PlanID: 99, PaymentMethod: "wingpay"}, apperr.ErrNotFound},
		{"inactive plan", "7", PurchaseRequest{PlanID: 3, PaymentMethod: "wingpay"}, apperr.ErrNotFound},
		{"card missing", "7", PurchaseRequest{PlanID: 1, PaymentMethod: "card"}, apperr.ErrInvalidInput},
		{"card expired", "7", PurchaseRequest{PlanID: 1, PaymentMethod: "card", PaymentInfo: PaymentInfo{Card: &payment.Card{
			Number: "4242424242424242", ExpiryMonth: "01", ExpiryYear: "2026", CVV: "123",
		}}}, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.ledger.Purchase(context.Background(), tt.subject, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.gateway.calls) != 0 {
				t.Error("gateway must not be called for rejected requests")
			}
			if f.txs.Len() != 0 {
				t.Error("nothing should be written")
			}
		})
	}
}

func TestPurchase_CardExpiredMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "card", PaymentInfo: PaymentInfo{Card: &payment.Card{
		Number: "4242424242424242", ExpiryMonth: "01", ExpiryYear: "2026", CVV: "123",
	}}})
	if msg, _ := apperr.Public(err); msg != "Card has expired" {
		t.Errorf("message = %q", msg)
	}
}

func TestPurchase_CorrelationCollisionRetries(t *testing.T) {
	f := newFixture(t)
	_ = f.txs.Insert(context.Background(), &domain.Transaction{CorrelationID: "TXN-TAKEN", Status: domain.StatusCompleted})

	ids := []string{"TXN-TAKEN", "TXN-TAKEN", "TXN-FRESH"}
	f.ledger.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	res, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "wingpay"})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if res.TransactionID != "TXN-FRESH" {
		t.Errorf("transaction id = %q", res.TransactionID)
	}
}

func TestPurchase_CorrelationCollisionExhausted(t *testing.T) {
	f := newFixture(t)
	_ = f.txs.Insert(context.Background(), &domain.Transaction{CorrelationID: "TXN-TAKEN"})
	f.ledger.newID = func() string { return "TXN-TAKEN" }

	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "wingpay"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
	if f.txs.Len() != 1 {
		t.Errorf("rows = %d, want only the pre-existing one", f.txs.Len())
	}
}

func TestPurchase_PersistFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.ledger.txs = failingTxRepo{Repository: f.txs, err: errors.New("db down")}
	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "wingpay"})
	if !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("err = %v, want Internal", err)
	}
	if got := f.outcomes(t)["persist_failed"]; got != 1 {
		t.Errorf("persist_failed count = %d", got)
	}
}

func TestApplyCallbackStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.txs.Insert(ctx, &domain.Transaction{CorrelationID: "TXN-1", Status: domain.StatusPending})

	tx, err := f.ledger.ApplyCallbackStatus(ctx, "TXN-1", domain.StatusCompleted)
	if err != nil {
		t.Fatalf("ApplyCallbackStatus: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Errorf("status = %q", tx.Status)
	}
	first := tx.UpdatedAt

	again, err := f.ledger.ApplyCallbackStatus(ctx, "TXN-1", domain.StatusCompleted)
	if err != nil {
		t.Fatalf("duplicate ApplyCallbackStatus: %v", err)
	}
	if !again.UpdatedAt.Equal(first) {
		t.Error("re-applying the same status must not touch the row")
	}

	if _, err := f.ledger.ApplyCallbackStatus(ctx, "TXN-404", domain.StatusCompleted); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v, want NotFound", err)
	}
	if f.txs.Len() != 1 {
		t.Error("unknown id must not create a row")
	}
	if _, err := f.ledger.ApplyCallbackStatus(ctx, "TXN-1", domain.Status("refunded")); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad status err = %v, want InvalidInput", err)
	}
}

func TestApplyCallbackStatus_StoresCanonicalStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.txs.Insert(ctx, &domain.Transaction{CorrelationID: "TXN-1", Status: domain.StatusPending})

	tx, err := f.ledger.ApplyCallbackStatus(ctx, "TXN-1", domain.Status(" Completed "))
	if err != nil {
		t.Fatalf("ApplyCallbackStatus: %v", err)
	}
	stored, _ := f.txs.GetByCorrelationID(ctx, "TXN-1")
	if tx.Status != domain.StatusCompleted || stored.Status != domain.StatusCompleted {
		t.Errorf("status = %q, stored = %q, want %q", tx.Status, stored.Status, domain.StatusCompleted)
	}
}

type profileSet map[int64]bool

func (p profileSet) HasProfile(id int64) bool { return p[id] }

func TestFailUnlessProvisioned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plain := &domain.Transaction{CorrelationID: "TXN-1", Status: domain.StatusCompleted}
	owned := &domain.Transaction{CorrelationID: "TXN-2", Status: domain.StatusCompleted}
	_ = f.txs.Insert(ctx, plain)
	_ = f.txs.Insert(ctx, owned)
	f.txs.LinkProfiles(profileSet{owned.ID: true})

	tx, ignored, err := f.ledger.FailUnlessProvisioned(ctx, "TXN-1")
	if err != nil || ignored || tx.Status != domain.StatusFailed {
		t.Errorf("unprovisioned: tx=%+v ignored=%v err=%v, want failed", tx, ignored, err)
	}

	tx, ignored, err = f.ledger.FailUnlessProvisioned(ctx, "TXN-2")
	if err != nil || !ignored || tx.Status != domain.StatusCompleted {
		t.Errorf("provisioned: tx=%+v ignored=%v err=%v, want unchanged", tx, ignored, err)
	}
	if stored, _ := f.txs.GetByCorrelationID(ctx, "TXN-2"); stored.Status != domain.StatusCompleted {
		t.Errorf("stored status = %q", stored.Status)
	}

	if _, _, err := f.ledger.FailUnlessProvisioned(ctx, "TXN-404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v, want NotFound", err)
	}
}

func TestPurchase_RouterRejectsMethodBeforeCharging(t *testing.T) {
	f := newFixture(t)
	f.ledger.gateway = payment.NewRouter(f.gateway, nil)

	_, err := f.ledger.Purchase(context.Background(), "7", PurchaseRequest{PlanID: 1, PaymentMethod: "aba"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
	if len(f.gateway.calls) != 0 || f.txs.Len() != 0 {
		t.Errorf("gateway calls = %d, rows = %d, want none", len(f.gateway.calls), f.txs.Len())
	}
	if got := f.outcomes(t)["unsupported_method"]; got != 1 {
		t.Errorf("unsupported_method count = %d", got)
	}
}

func TestGetByCorrelationID_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.GetByCorrelationID(context.Background(), "TXN-X"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

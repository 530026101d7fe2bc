package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/callback/domain"
	"esim-gateway/internal/callback/service"
	"esim-gateway/internal/platform/apperr"
	profiledomain "esim-gateway/internal/provisioning/domain"
	"esim-gateway/internal/server/middleware"
	txdomain "esim-gateway/internal/transaction/domain"
)

type fakeReconciler struct {
	err         error
	gotStatus   service.ProfileStatusEvent
	gotPayment  service.PaymentCallbackEvent
	gotComplete service.TransactionCompletionEvent
	gotType     string
	gotPayload  []byte
}

func (f *fakeReconciler) ProfileStatus(ctx context.Context, ev service.ProfileStatusEvent) (*service.ProfileStatusResult, error) {
	f.gotStatus = ev
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProfileStatusResult{ProfileID: 3, Status: profiledomain.StatusActivated}, nil
}

func (f *fakeReconciler) CompleteTransaction(ctx context.Context, ev service.TransactionCompletionEvent) (*txdomain.Transaction, error) {
	f.gotComplete = ev
	if f.err != nil {
		return nil, f.err
	}
	return &txdomain.Transaction{CorrelationID: ev.CorrelationID, Status: txdomain.StatusCompleted}, nil
}

func (f *fakeReconciler) PaymentCallback(ctx context.Context, ev service.PaymentCallbackEvent) (*txdomain.Transaction, error) {
	f.gotPayment = ev
	if f.err != nil {
		return nil, f.err
	}
	return &txdomain.Transaction{CorrelationID: ev.CorrelationID, Status: txdomain.StatusCompleted}, nil
}

func (f *fakeReconciler) Generic(ctx context.Context, eventType string, payload []byte) (*domain.WebhookEvent, error) {
	f.gotType, f.gotPayload = eventType, payload
	if f.err != nil {
		return nil, f.err
	}
	return &domain.WebhookEvent{ID: 1, EventType: eventType}, nil
}

func newTestApp(rec Reconciler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	h := NewWebhookHandler(rec)
	h.Mount(app.Group("/api/webhooks"))
	app.Post("/api/esim/payment/callback", h.PaymentCallback)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var m map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&m)
	return resp.StatusCode, m
}

func TestProfileStatus(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID int64
	}{
		{"numeric id", `{"esim_id":3,"status":"activated"}`, 3},
		{"string id", `{"esim_id":"3","status":"activated"}`, 3},
		{"iccid only", `{"iccid":"8901260000001234567","status":"activated"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeReconciler{}
			status, m := post(t, newTestApp(rec), "/api/webhooks/esim/status", tt.body, nil)
			if status != http.StatusOK {
				t.Fatalf("status = %d body = %v", status, m)
			}
			if m["success"] != true || m["message"] != "Webhook processed successfully" || m["esim_id"] != float64(3) || m["status"] != "activated" {
				t.Errorf("body = %v", m)
			}
			if rec.gotStatus.ProfileID != tt.wantID || rec.gotStatus.Status != "activated" {
				t.Errorf("event = %+v", rec.gotStatus)
			}
		})
	}
}

func TestProfileStatus_Errors(t *testing.T) {
	status, _ := post(t, newTestApp(&fakeReconciler{}), "/api/webhooks/esim/status", `{"esim_id":"abc"}`, nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", status)
	}
	status, m := post(t, newTestApp(&fakeReconciler{err: apperr.NotFound("eSIM profile not found")}), "/api/webhooks/esim/status", `{"esim_id":9}`, nil)
	if status != http.StatusNotFound || m["error"] != "eSIM profile not found" {
		t.Errorf("got %d %v", status, m)
	}
	status, _ = post(t, newTestApp(&fakeReconciler{err: apperr.Internal(errors.New("db"))}), "/api/webhooks/esim/status", `{"esim_id":9}`, nil)
	if status != http.StatusInternalServerError {
		t.Errorf("internal status = %d, want 500", status)
	}
}

func TestPaymentCallback_BothPaths(t *testing.T) {
	for _, path := range []string{"/api/esim/payment/callback", "/api/webhooks/payment/callback"} {
		rec := &fakeReconciler{}
		status, m := post(t, newTestApp(rec), path, `{"transaction_id":"TXN-1","status":"completed","amount":4.99}`, nil)
		if status != http.StatusOK || m["message"] != "Callback processed successfully" {
			t.Errorf("%s: got %d %v", path, status, m)
		}
		if rec.gotPayment.CorrelationID != "TXN-1" || rec.gotPayment.Status != "completed" || rec.gotPayment.Amount != "4.99" {
			t.Errorf("%s: event = %+v", path, rec.gotPayment)
		}
	}
}

func TestPaymentCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"missing id", apperr.InvalidInput("Transaction ID is required"), 400, "Transaction ID is required"},
		{"unknown id", apperr.NotFound("Transaction not found"), 404, "Transaction not found"},
		{"internal failure masked", apperr.Internal(errors.New("db down")), 200, "Callback received but processing failed"},
		{"provisioning failure masked", apperr.Conflict("Could not allocate eSIM identifiers"), 200, "Callback received but processing failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, m := post(t, newTestApp(&fakeReconciler{err: tt.err}), "/api/esim/payment/callback", `{"transaction_id":"TXN-1"}`, nil)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			got := m["error"]
			if tt.wantStatus == http.StatusOK {
				got = m["message"]
				if m["success"] != true {
					t.Error("masked failure should still report success")
				}
			}
			if got != tt.wantBody {
				t.Errorf("body = %v, want %q", m, tt.wantBody)
			}
		})
	}
}

func TestActivationComplete(t *testing.T) {
	rec := &fakeReconciler{}
	status, m := post(t, newTestApp(rec), "/api/webhooks/activation/complete",
		`{"transaction_id":"TXN-1","activation_code":"LPA:1$lpa.example.com$1","qr_url":"https://qr/1"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %v", status, m)
	}
	if m["transaction_id"] != "TXN-1" || m["activation_code"] != "LPA:1$lpa.example.com$1" || m["qr_url"] != "https://qr/1" {
		t.Errorf("body = %v", m)
	}

	status, _ = post(t, newTestApp(&fakeReconciler{err: apperr.Internal(errors.New("db"))}), "/api/webhooks/activation/complete", `{"transaction_id":"TXN-1"}`, nil)
	if status != http.StatusInternalServerError {
		t.Errorf("provisioning failure status = %d, want 500", status)
	}
}

func TestGeneric(t *testing.T) {
	rec := &fakeReconciler{}
	status, m := post(t, newTestApp(rec), "/api/webhooks/generic", `{"k":"v"}`, map[string]string{EventHeader: "payment_completed"})
	if status != http.StatusOK || m["message"] != "Webhook received and queued for processing" {
		t.Errorf("got %d %v", status, m)
	}
	if rec.gotType != "payment_completed" || string(rec.gotPayload) != `{"k":"v"}` {
		t.Errorf("got %q %s", rec.gotType, rec.gotPayload)
	}

	rec = &fakeReconciler{}
	post(t, newTestApp(rec), "/api/webhooks/generic", `{}`, nil)
	if rec.gotType != "" {
		t.Errorf("missing header should pass an empty type, got %q", rec.gotType)
	}

	status, _ = post(t, newTestApp(&fakeReconciler{err: apperr.Internal(errors.New("db"))}), "/api/webhooks/generic", `{}`, nil)
	if status != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", status)
	}
}

func TestNilReconciler(t *testing.T) {
	app := newTestApp(nil)
	for _, path := range []string{"/api/webhooks/esim/status", "/api/webhooks/payment/callback", "/api/webhooks/activation/complete", "/api/webhooks/generic"} {
		if status, _ := post(t, app, path, `{}`, nil); status != http.StatusNotImplemented {
			t.Errorf("%s status = %d, want 501", path, status)
		}
	}
}

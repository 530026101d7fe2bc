package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	wingPayWalletPath = "/api/v1/payments/initiate"
	wingPayCardPath   = "/api/v1/payments/card/initiate"
	maxResponseBytes  = 1 << 20
)

// WingPayConfig configures WingPayClient.
type WingPayConfig struct {
	BaseURL    string
	APIKey     string
	MerchantID string
	Timeout    time.Duration
}

// WingPayClient initiates wallet and card payments against the WingPay API.
// Requests are signed with HMAC-SHA256 keyed by the API key.
type WingPayClient struct {
	baseURL    string
	apiKey     string
	merchantID string
	http       *http.Client
	nowF       func() time.Time
}

// NewWingPayClient returns a client whose every call is bounded by cfg.Timeout (30s when zero).
func NewWingPayClient(cfg WingPayConfig) *WingPayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WingPayClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		merchantID: cfg.MerchantID,
		http:       &http.Client{Timeout: timeout},
		nowF:       time.Now,
	}
}

type wingPayCardDetails struct {
	Number         string          `json:"number"`
	ExpiryMonth    string          `json:"expiry_month"`
	ExpiryYear     string          `json:"expiry_year"`
	CVV            string          `json:"cvv"`
	HolderName     string          `json:"holder_name"`
	BillingAddress *BillingAddress `json:"billing_address,omitempty"`
}

type wingPayPayload struct {
	MerchantID    string              `json:"merchant_id"`
	Amount        json.Number         `json:"amount"`
	Currency      string              `json:"currency"`
	Description   string              `json:"description"`
	CustomerPhone string              `json:"customer_phone,omitempty"`
	CallbackURL   string              `json:"callback_url,omitempty"`
	PaymentMethod string              `json:"payment_method,omitempty"`
	CardDetails   *wingPayCardDetails `json:"card_details,omitempty"`
	Timestamp     string              `json:"timestamp"`
	Signature     string              `json:"signature,omitempty"`
}

type wingPayResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
	Message       string `json:"message"`
}

// Initiate sends a wallet payment, or a card payment when req.Card is set.
func (c *WingPayClient) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	payload := wingPayPayload{
		MerchantID:    c.merchantID,
		Amount:        decimalAmount(req.AmountCents),
		Currency:      currency,
		Description:   req.Description,
		CustomerPhone: req.CustomerPhone,
		CallbackURL:   req.CallbackURL,
		Timestamp:     c.nowF().UTC().Format(time.RFC3339Nano),
	}
	path, declineMsg := wingPayWalletPath, "Payment initiation failed"
	if req.Card != nil {
		path, declineMsg = wingPayCardPath, "Card payment initiation failed"
		payload.PaymentMethod = MethodCard
		payload.CardDetails = &wingPayCardDetails{
			Number:         NormalizeCardNumber(req.Card.Number),
			ExpiryMonth:    req.Card.ExpiryMonth,
			ExpiryYear:     req.Card.ExpiryYear,
			CVV:            req.Card.CVV,
			HolderName:     req.Card.HolderName,
			BillingAddress: req.Card.BillingAddress,
		}
	}

	body, err := c.sign(payload)
	if err != nil {
		return nil, unavailable("Payment service error", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, unavailable("Payment service error", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, unavailable("Payment service temporarily unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable("Payment service temporarily unavailable", err)
	}
	var out wingPayResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return nil, unavailable("Payment service temporarily unavailable", fmt.Errorf("wingpay: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		if decodeErr == nil && out.Message != "" {
			return nil, declined(out.Message)
		}
		return nil, declined(declineMsg)
	case decodeErr != nil:
		return nil, unavailable("Payment service error", fmt.Errorf("wingpay: decode response: %w", decodeErr))
	case !out.Success:
		if out.Message != "" {
			return nil, declined(out.Message)
		}
		return nil, declined(declineMsg)
	case out.TransactionID == "":
		return nil, unavailable("Payment service error", errors.New("wingpay: success without transaction_id"))
	}
	return &PaymentResult{Reference: out.TransactionID, PaymentURL: out.PaymentURL}, nil
}

// sign marshals p with its HMAC-SHA256 signature over the unsigned JSON.
func (c *WingPayClient) sign(p wingPayPayload) ([]byte, error) {
	p.Signature = ""
	unsigned, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	p.Signature = Signature(c.apiKey, unsigned)
	return json.Marshal(p)
}

// Signature returns the hex HMAC-SHA256 of body keyed by key.
func Signature(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

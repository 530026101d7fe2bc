// Package payment talks to payment processors. The ledger depends only on
// Gateway; the concrete processor is chosen per purchase by Router.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
)

// Methods accepted on purchase requests.
const (
	MethodWingPay = "wingpay"
	MethodCard    = "card"
)

// BillingAddress is forwarded verbatim to the card endpoint.
type BillingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// Card holds raw card details. It is never persisted or logged.
type Card struct {
	Number         string
	ExpiryMonth    string
	ExpiryYear     string
	CVV            string
	HolderName     string
	BillingAddress *BillingAddress
}

// PaymentRequest is one charge. Card is set only for card payments.
type PaymentRequest struct {
	Method        string
	AmountCents   int64
	Currency      string
	Description   string
	CustomerPhone string
	CallbackURL   string
	Card          *Card
}

// PaymentResult is a successful initiation.
type PaymentResult struct {
	Reference  string
	PaymentURL string
}

// Gateway initiates a payment. Failures are *Error values.
type Gateway interface {
	Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// decimalAmount renders minor units as a JSON number with two decimals.
func decimalAmount(cents int64) json.Number {
	return json.Number(fmt.Sprintf("%d.%02d", cents/100, cents%100))
}

package payment

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"esim-gateway/internal/platform/luhn"
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{13,19}$`)
	cvvRe        = regexp.MustCompile(`^\d{3,4}$`)
)

// CardError is a local validation failure; no processor call was made.
type CardError struct {
	Reason string
}

func (e *CardError) Error() string { return e.Reason }

// NormalizeCardNumber strips spaces and dashes.
func NormalizeCardNumber(n string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(n)
}

// ValidateCard checks number format and Luhn digit, expiry against now, and CVV.
// A card is valid through the last day of its expiry month.
func ValidateCard(c *Card, now time.Time) error {
	if c == nil {
		return &CardError{Reason: "Card details are required"}
	}
	number := NormalizeCardNumber(c.Number)
	if !cardNumberRe.MatchString(number) {
		return &CardError{Reason: "Invalid card number format"}
	}
	if !luhn.Valid(number) {
		return &CardError{Reason: "Invalid card number"}
	}
	month, err := strconv.Atoi(strings.TrimSpace(c.ExpiryMonth))
	if err != nil || month < 1 || month > 12 {
		return &CardError{Reason: "Invalid expiry date"}
	}
	year, err := strconv.Atoi(strings.TrimSpace(c.ExpiryYear))
	if err != nil {
		return &CardError{Reason: "Invalid expiry date"}
	}
	if year < 100 {
		year += 2000
	}
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return &CardError{Reason: "Card has expired"}
	}
	if !cvvRe.MatchString(strings.TrimSpace(c.CVV)) {
		return &CardError{Reason: "Invalid CVV"}
	}
	return nil
}

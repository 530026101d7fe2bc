package domain

import (
	"fmt"
	"time"
)

// Plan is a purchasable data plan. Prices are in minor units.
type Plan struct {
	ID            int64
	Name          string
	DataLimit     string // e.g. "5GB"
	ValidityDays  int
	PriceUSDCents int64
	PriceKHRRiel  int64
	Active        bool
	CreatedAt     time.Time
}

// PriceUSD renders the USD price with two decimals, e.g. "4.99".
func (p *Plan) PriceUSD() string {
	return FormatCents(p.PriceUSDCents)
}

// FormatCents renders a non-negative minor-unit amount as a two-decimal string.
func FormatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

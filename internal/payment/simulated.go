package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const refAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// SimulatedGateway approves every charge with a PAY_<unix-ms>_<random> reference.
// It is only wired when simulated payments are allowed.
type SimulatedGateway struct {
	nowF func() time.Time
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{nowF: time.Now}
}

func (g *SimulatedGateway) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Payment service temporarily unavailable", err)
	}
	suffix := make([]byte, 9)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(refAlphabet))))
		if err != nil {
			return nil, unavailable("Payment service error", err)
		}
		suffix[i] = refAlphabet[n.Int64()]
	}
	return &PaymentResult{Reference: fmt.Sprintf("PAY_%d_%s", g.nowF().UnixMilli(), suffix)}, nil
}

package payment

import (
	"context"
	"errors"
)

// ErrUnsupportedMethod is returned for a method with no configured gateway.
var ErrUnsupportedMethod = errors.New("unsupported payment method")

// Router dispatches by PaymentRequest.Method: wingpay and card go to the
// processor, anything else to the fallback when one is configured.
type Router struct {
	processor Gateway
	fallback  Gateway
}

// NewRouter returns a Router. fallback may be nil to reject other methods.
func NewRouter(processor, fallback Gateway) *Router {
	return &Router{processor: processor, fallback: fallback}
}

// Initiate routes req. Wallet requests never carry card details.
func (r *Router) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	switch req.Method {
	case MethodWingPay:
		req.Card = nil
		return r.processor.Initiate(ctx, req)
	case MethodCard:
		return r.processor.Initiate(ctx, req)
	default:
		if r.fallback == nil {
			return nil, ErrUnsupportedMethod
		}
		return r.fallback.Initiate(ctx, req)
	}
}

// Supports reports whether method can be routed.
func (r *Router) Supports(method string) bool {
	return method == MethodWingPay || method == MethodCard || (method != "" && r.fallback != nil)
}

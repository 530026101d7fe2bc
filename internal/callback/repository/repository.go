package repository

import (
	"context"

	"esim-gateway/internal/callback/domain"
)

// Repository appends webhook events and flags them once forwarded.
type Repository interface {
	Append(ctx context.Context, e *domain.WebhookEvent) error
	MarkProcessed(ctx context.Context, id int64) error
}

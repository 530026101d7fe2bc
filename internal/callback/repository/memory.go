package repository

import (
	"context"
	"sync"
	"time"

	"esim-gateway/internal/callback/domain"
)

type MemoryRepository struct {
	mu     sync.Mutex
	events []domain.WebhookEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Append(ctx context.Context, e *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	e.CreatedAt = time.Now().UTC()
	m.events = append(m.events, *e)
	return nil
}

func (m *MemoryRepository) MarkProcessed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.events) {
		return nil
	}
	e := &m.events[id-1]
	if !e.Processed {
		now := time.Now().UTC()
		e.Processed, e.ProcessedAt = true, &now
	}
	return nil
}

// Events returns a copy of the stored log in append order.
func (m *MemoryRepository) Events() []domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WebhookEvent(nil), m.events...)
}

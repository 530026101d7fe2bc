package repository

import (
	"context"
	"sync"
	"time"

	"esim-gateway/internal/transaction/domain"
)

// ProfileIndex reports whether a transaction owns a provisioning profile.
type ProfileIndex interface {
	HasProfile(transactionID int64) bool
}

// MemoryRepository is an in-process Repository with the same uniqueness rule
// on correlation ids as the Postgres schema. Used by tests across services.
// Linked to a profile store with LinkProfiles, it also mirrors the row locking
// between guarded status updates and profile inserts.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	byCorr   map[string]*domain.Transaction
	profiles ProfileIndex
	nowF     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byCorr: make(map[string]*domain.Transaction), nowF: time.Now}
}

func (m *MemoryRepository) Insert(ctx context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCorr[t.CorrelationID]; ok {
		return ErrCorrelationTaken
	}
	m.nextID++
	now := m.nowF().UTC()
	t.ID, t.CreatedAt, t.UpdatedAt = m.nextID, now, now
	cp := *t
	m.byCorr[t.CorrelationID] = &cp
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byCorr {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCorr[correlationID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCorr[correlationID]
	if !ok {
		return nil, nil
	}
	t.Status = status
	t.UpdatedAt = m.nowF().UTC()
	cp := *t
	return &cp, nil
}

// UpdateStatusUnlessProvisioned consults the linked ProfileIndex while holding
// the repository lock. Without a linked index no transaction counts as provisioned.
func (m *MemoryRepository) UpdateStatusUnlessProvisioned(ctx context.Context, correlationID string, status domain.Status) (*domain.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCorr[correlationID]
	if !ok {
		return nil, false, nil
	}
	if m.profiles != nil && m.profiles.HasProfile(t.ID) {
		cp := *t
		return &cp, true, nil
	}
	t.Status = status
	t.UpdatedAt = m.nowF().UTC()
	cp := *t
	return &cp, false, nil
}

// LinkProfiles sets the profile store consulted by UpdateStatusUnlessProvisioned.
func (m *MemoryRepository) LinkProfiles(idx ProfileIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = idx
}

// WhileCompleted runs fn under the repository lock if transactionID is
// completed. ok is false, and fn is not run, otherwise.
func (m *MemoryRepository) WhileCompleted(transactionID int64, fn func() error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byCorr {
		if t.ID == transactionID {
			if t.Status != domain.StatusCompleted {
				return false, nil
			}
			return true, fn()
		}
	}
	return false, nil
}

// Len returns the number of stored transactions.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byCorr)
}

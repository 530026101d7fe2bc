package repository

import (
	"context"
	"sync"
	"time"

	"esim-gateway/internal/provisioning/domain"
)

// CompletionGate runs fn only while a transaction is completed.
// *transaction/repository.MemoryRepository implements it.
type CompletionGate interface {
	WhileCompleted(transactionID int64, fn func() error) (bool, error)
}

// MemoryRepository is an in-process Repository enforcing the same three
// uniqueness rules as the esim_profiles table. The completed-transaction rule
// on Insert applies only once a gate is linked with LinkTransactions.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	profiles map[int64]*domain.Profile
	gate     CompletionGate
	nowF     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[int64]*domain.Profile), nowF: time.Now}
}

func (m *MemoryRepository) Insert(ctx context.Context, p *domain.Profile) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate == nil {
		return m.insert(p)
	}
	ok, err := gate.WhileCompleted(p.TransactionID, func() error { return m.insert(p) })
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransactionNotCompleted
	}
	return nil
}

// LinkTransactions sets the gate Insert checks transactions through.
func (m *MemoryRepository) LinkTransactions(gate CompletionGate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// HasProfile reports whether transactionID owns a profile.
func (m *MemoryRepository) HasProfile(transactionID int64) bool {
	return m.find(func(p *domain.Profile) bool { return p.TransactionID == transactionID }) != nil
}

func (m *MemoryRepository) insert(p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.TransactionID == p.TransactionID {
			return ErrTransactionProvisioned
		}
		if existing.ICCID == p.ICCID || existing.IMSI == p.IMSI {
			return ErrIdentifierTaken
		}
	}
	m.nextID++
	now := m.nowF().UTC()
	p.ID, p.CreatedAt, p.UpdatedAt = m.nextID, now, now
	m.profiles[p.ID] = clone(p)
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id int64) (*domain.Profile, error) {
	return m.find(func(p *domain.Profile) bool { return p.ID == id }), nil
}

func (m *MemoryRepository) GetByICCID(ctx context.Context, iccid string) (*domain.Profile, error) {
	return m.find(func(p *domain.Profile) bool { return p.ICCID == iccid }), nil
}

func (m *MemoryRepository) GetByTransaction(ctx context.Context, transactionID int64) (*domain.Profile, error) {
	return m.find(func(p *domain.Profile) bool { return p.TransactionID == transactionID }), nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, id int64, status domain.Status) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	now := m.nowF().UTC()
	p.Status = status
	if status == domain.StatusActivated && p.ActivatedAt == nil {
		p.ActivatedAt = &now
	}
	p.UpdatedAt = now
	return clone(p), nil
}

// Len returns the number of stored profiles.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles)
}

func (m *MemoryRepository) find(match func(*domain.Profile) bool) *domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if match(p) {
			return clone(p)
		}
	}
	return nil
}

func clone(p *domain.Profile) *domain.Profile {
	cp := *p
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

package security

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31.
// Zero or negative cost falls back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash. Returns nil on match and
// bcrypt.ErrMismatchedHashAndPassword (or a hash format error) otherwise.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// CompareDummy spends one bcrypt comparison at the configured cost against a fixed hash.
// Login calls it for unknown emails so both failure paths take about the same time.
func (h *Hasher) CompareDummy(password []byte) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("esim-gateway-dummy-password"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, password)
}

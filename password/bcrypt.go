// Package password hashes and verifies credential secrets with bcrypt.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the fixed work factor the account records were hashed
// with; changing it only affects newly stored hashes.
const DefaultCost = 10

// Hasher wraps bcrypt with a fixed cost.
type Hasher struct {
	cost int
}

// New returns a Hasher. Cost 0 selects DefaultCost; out-of-range costs are
// rejected rather than silently clamped.
func New(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Hasher{cost: cost}, nil
}

// Hash derives a salted hash of the secret.
func (h *Hasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether the secret matches the stored hash. A mismatch is
// never an error, and the underlying comparison is timing-safe.
func (h *Hasher) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

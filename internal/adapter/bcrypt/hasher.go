// Package bcrypt implements the password hashing port with bcrypt.
package bcrypt

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/chin-flags/fixapp/internal/port/passwordhash"
)

var _ passwordhash.Hasher = (*Hasher)(nil)

// Hasher hashes with a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// New returns a Hasher. Costs outside bcrypt's range fall back to the default.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. bcrypt compares in constant
// time once the hash is parsed.
func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	dummySecretLength = 24
)

// Hasher hashes and verifies account secrets with bcrypt.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's valid range.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashed), nil
}

// Compare reports whether secret matches hash. bcrypt compares in constant time.
func (h *Hasher) Compare(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// CompareDummy burns the same bcrypt work as a real comparison. It is used when
// no account exists so response timing does not reveal account existence.
func (h *Hasher) CompareDummy(secret string) {
	h.dummyOnce.Do(func() {
		random := make([]byte, dummySecretLength)
		if _, err := rand.Read(random); err != nil {
			random = []byte("paysecure-dummy-secret-value")
		}
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(base64.StdEncoding.EncodeToString(random)), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(secret))
}

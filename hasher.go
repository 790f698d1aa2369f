package authbridge

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher performs one-way hashing and verification of local
// passwords. Hash output is safe to persist; it is never logged or echoed in
// errors by any component in this module.
type PasswordHasher interface {
	// Hash produces a salted, non-invertible hash of the plaintext.
	Hash(plaintext string) (string, error)

	// Verify reports whether plaintext matches the stored hash. A mismatch
	// is false, not an error; an empty hash is always false.
	Verify(plaintext, hash string) bool
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct {
	// Cost defaults to bcrypt.DefaultCost when zero.
	Cost int
}

func (h *BcryptHasher) cost() int {
	if h.Cost > 0 {
		return h.Cost
	}
	return bcrypt.DefaultCost
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

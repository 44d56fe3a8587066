package service

import "golang.org/x/crypto/bcrypt"

// BcryptHasher hashes and verifies credentials with bcrypt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash returns the bcrypt hash of raw.
func (h *BcryptHasher) Hash(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether raw matches hash.
func (h *BcryptHasher) Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

package binder

import "github.com/google/uuid"

// TokenGenerator mints provenance tokens for plan batches that arrive
// without one. Tokens correlate every receipt and realized node a batch
// produced; they are inherited, never regenerated mid-application.
type TokenGenerator interface {
	NewToken() (string, error)
}

// UUIDGenerator mints UUIDv7 tokens, time-ordered so token order matches
// batch arrival order in the receipt log.
type UUIDGenerator struct{}

func (UUIDGenerator) NewToken() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

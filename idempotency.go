package authsession

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDKey returns a random (v4) UUID idempotency key. Its signature fits
// RetryOptions.IdempotencyKey for any argument type.
func NewUUIDKey[A any](A) string {
	return uuid.NewString()
}

// NewULIDKey returns a time-ordered ULID idempotency key, which sorts by
// creation time in server logs.
func NewULIDKey[A any](A) string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

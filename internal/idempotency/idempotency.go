// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key header.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Header is the request header carrying the client key.
const Header = "Idempotency-Key"

// ErrInProgress is returned when a request with the same key is still running.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Response is a stored HTTP response.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Store persists key reservations and their responses.
type Store interface {
	// Reserve claims key for ttl. If the key is already taken it returns the
	// stored response, or ErrInProgress if none has been saved yet.
	Reserve(ctx context.Context, key string, ttl time.Duration) (*Response, error)
	// Save records the response for a reserved key.
	Save(ctx context.Context, key string, resp Response, ttl time.Duration) error
	// Release drops a reservation so the request may be retried.
	Release(ctx context.Context, key string) error
}

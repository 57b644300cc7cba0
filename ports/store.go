package ports

import (
	"context"
	"time"
)

// SessionStore persists the current bearer credential across restarts.
// Read returns core.ErrNoCredential when nothing is stored.
type SessionStore interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, credential string) error
	Clear(ctx context.Context) error
}

// NonceStore keeps the single active nonce per address for the reference
// identity service
type NonceStore interface {
	// Issue makes nonce the only active nonce for address, retiring any
	// previous one
	Issue(ctx context.Context, address, nonce string, ttl time.Duration) error

	// Consume atomically removes and returns the active nonce for address
	Consume(ctx context.Context, address string) (string, error)

	// Retired lists recently consumed or superseded nonces for address,
	// newest first
	Retired(ctx context.Context, address string) ([]string, error)
}

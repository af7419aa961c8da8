package ports

import (
	"context"
	"time"
)

// Store remembers access tokens that the protocol has rejected
type Store interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

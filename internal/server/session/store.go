package session

import (
	"context"
	"time"
)

// Store persists sessions by ID. Load returns common.ErrorNotFound for
// unknown or expired IDs.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

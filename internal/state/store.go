package state

import "context"

// Store persists checkpoints. Save replaces the record for its key atomically:
// a reader observes either the previous record or the new one.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Load returns exception.ErrCheckpointNotFound when no record exists.
	Load(ctx context.Context, key string) (Record, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

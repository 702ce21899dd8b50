package state

import (
	"context"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// RecoverResult holds every committed record under a prefix. Failed lists keys
// whose checkpoint could not be read; those are fatal for their owner only.
type RecoverResult struct {
	Records []Record
	Failed  map[string]error
}

// Recover loads all records under prefix. A medium failure aborts the whole load.
func Recover(ctx context.Context, store Store, prefix string) (RecoverResult, error) {
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return RecoverResult{}, err
	}
	result := RecoverResult{Failed: make(map[string]error)}
	for _, key := range keys {
		rec, err := store.Load(ctx, key)
		switch {
		case err == nil:
			result.Records = append(result.Records, rec)
		case errors.Is(err, exception.ErrCheckpointNotFound):
			// deleted between Keys and Load
		case errors.Is(err, exception.ErrStoreUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return RecoverResult{}, err
		default:
			result.Failed[key] = err
		}
	}
	return result, nil
}

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanun0323/go-autotrader/pkg/exception"
)

func TestRecover(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("a"), testBody{State: "idle"})))
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("b"), testBody{State: "holding"})))
	require.NoError(t, store.Save(ctx, mustRecord(t, PoolKey("main"), testBody{})))

	bad := mustRecord(t, WorkerKey("c"), testBody{State: "idle"})
	bad.Checksum++
	store.Put(bad)

	result, err := Recover(ctx, store, WorkerPrefix)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "worker/a", result.Records[0].Key)
	assert.Equal(t, "worker/b", result.Records[1].Key)
	require.Contains(t, result.Failed, "worker/c")
	assert.ErrorIs(t, result.Failed["worker/c"], exception.ErrCheckpointCorrupt)
}

func TestRecordDecodeKeepsDefaults(t *testing.T) {
	rec, err := NewRecord(WorkerKey("a"), "spot", map[string]any{"state": "idle"}, testTime)
	require.NoError(t, err)

	got := testBody{Qty: 7}
	require.NoError(t, rec.Decode(&got))
	assert.Equal(t, "idle", got.State)
	assert.Equal(t, 7.0, got.Qty)
}

func TestMemoryStoreFailWith(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailWith(exception.ErrStoreUnavailable)
	err := store.Save(ctx, mustRecord(t, WorkerKey("a"), testBody{}))
	require.ErrorIs(t, err, exception.ErrStoreUnavailable)

	_, err = Recover(ctx, failingKeys{}, WorkerPrefix)
	require.ErrorIs(t, err, exception.ErrStoreUnavailable)

	store.FailWith(nil)
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("a"), testBody{})))
	assert.Equal(t, 1, store.Saves())
}

type failingKeys struct{ Store }

func (failingKeys) Keys(context.Context, string) ([]string, error) {
	return nil, exception.ErrStoreUnavailable
}

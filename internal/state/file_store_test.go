package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

type testBody struct {
	State string  `json:"state"`
	Qty   float64 `json:"qty"`
}

func mustRecord(t *testing.T, key string, body testBody) Record {
	t.Helper()
	rec, err := NewRecord(key, "spot", body, time.Unix(1700000000, 0))
	require.NoError(t, err)
	return rec
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(ctx, WorkerKey("w1"))
	require.ErrorIs(t, err, exception.ErrCheckpointNotFound)

	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("w1"), testBody{State: "idle"})))
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("w1"), testBody{State: "holding", Qty: 1.5})))
	require.NoError(t, store.Save(ctx, mustRecord(t, PoolKey("main"), testBody{State: "pool"})))

	rec, err := store.Load(ctx, WorkerKey("w1"))
	require.NoError(t, err)
	var got testBody
	require.NoError(t, rec.Decode(&got))
	assert.Equal(t, testBody{State: "holding", Qty: 1.5}, got)
	assert.Equal(t, SchemaVersion, rec.Version)

	keys, err := store.Keys(ctx, WorkerPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"worker/w1"}, keys)

	require.NoError(t, store.Delete(ctx, WorkerKey("w1")))
	_, err = store.Load(ctx, WorkerKey("w1"))
	require.ErrorIs(t, err, exception.ErrCheckpointNotFound)
	require.NoError(t, store.Delete(ctx, WorkerKey("w1")))
}

func TestFileStoreInterruptedWriteAtEveryOffset(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	key := WorkerKey("w1")
	oldBody := testBody{State: "holding", Qty: 1}
	require.NoError(t, store.Save(ctx, mustRecord(t, key, oldBody)))

	next, err := encodeRecord(mustRecord(t, key, testBody{State: "exiting", Qty: 0.25}))
	require.NoError(t, err)

	canonical := store.path(key)
	for offset := 0; offset < len(next); offset++ {
		// crash before rename: a partial temp file sits next to the committed record
		tmp := canonical + ".crash" + tempExt
		require.NoError(t, os.WriteFile(tmp, next[:offset], 0o644))

		reopened, err := NewFileStore(root)
		require.NoError(t, err)
		_, err = os.Stat(tmp)
		require.True(t, os.IsNotExist(err), "offset %d: temp file not cleaned", offset)

		rec, err := reopened.Load(ctx, key)
		require.NoError(t, err, "offset %d", offset)
		var got testBody
		require.NoError(t, rec.Decode(&got))
		require.Equal(t, oldBody, got, "offset %d", offset)
	}
}

func TestFileStoreTornCanonicalIsCorrupt(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := WorkerKey("w1")
	data, err := encodeRecord(mustRecord(t, key, testBody{State: "holding", Qty: 2}))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(store.path(key)), 0o755))
	for offset := 0; offset < len(data); offset++ {
		require.NoError(t, os.WriteFile(store.path(key), data[:offset], 0o644))
		_, err := store.Load(ctx, key)
		require.ErrorIs(t, err, exception.ErrCheckpointCorrupt, "offset %d", offset)
	}
}

func TestFileStoreChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	rec := mustRecord(t, WorkerKey("w1"), testBody{State: "holding"})
	rec.Body = []byte(`{"state":"idle"}`)
	require.NoError(t, store.Save(ctx, rec))

	_, err = store.Load(ctx, WorkerKey("w1"))
	assert.ErrorIs(t, err, exception.ErrCheckpointCorrupt)
	assert.Equal(t, errors.KindFatalWorker, errors.Classify(err))
}

func TestFileStoreKeysIgnoreTemp(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("a"), testBody{})))
	require.NoError(t, store.Save(ctx, mustRecord(t, WorkerKey("b"), testBody{})))
	require.NoError(t, os.WriteFile(filepath.Join(root, "worker", "c.ckpt.123.tmp"), []byte("{"), 0o644))

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"worker/a", "worker/b"}, keys)
}

func TestValidateKey(t *testing.T) {
	testCases := []struct {
		desc string
		key  string
		ok   bool
	}{
		{"worker key", "worker/spot-btc_1", true},
		{"pool key", "pool/main", true},
		{"empty", "", false},
		{"parent dir", "worker/../etc", false},
		{"leading slash", "/worker/a", false},
		{"trailing slash", "worker/", false},
		{"space", "worker/a b", false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := ValidateKey(tc.key)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, exception.ErrInvalidKey)
			}
		})
	}
}

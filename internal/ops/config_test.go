package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanun0323/go-autotrader/internal/model/enum"
)

const sampleConfig = `{
	"account": "binance-main",
	"pools": [{"id": "main", "allocation": "2000"}, {"id": "grid", "allocation": 1500}],
	"workers": [
		{"id": "spot-btc", "symbol": "btcusdt", "kind": "spot", "pool": "main", "interval": "30s", "params": {"entryAmount": 100}},
		{"id": "grid-eth", "symbol": "ETHUSDT", "kind": "grid", "pool": "grid", "params": {"capital": 1000, "lower": 2800, "upper": 3400, "levels": 12}}
	],
	"store": {"kind": "file", "dir": "/tmp/state"},
	"paper": {"feeRate": 0.001, "filters": {"tickSize": 0.01, "stepSize": 0.0001, "minNotional": 10}},
	"chaos": {"seed": 7, "errorRate": 0.1, "blockRate": 0.01, "blockDuration": "2m"},
	"supervisor": {"stallWindow": "3m"},
	"features": {"autoStart": false}
}`

func TestParse(t *testing.T) {
	loaded, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "binance-main", loaded.Account)
	require.Len(t, loaded.Pools, 2)
	assert.Equal(t, "2000", loaded.Pools[0].Allocation.String())
	assert.Equal(t, "1500", loaded.Pools[1].Allocation.String())

	require.Len(t, loaded.Workers, 2)
	spot := loaded.Workers[0]
	assert.Equal(t, "BTCUSDT", spot.Symbol)
	assert.Equal(t, enum.StrategySpot, spot.Kind)
	assert.Equal(t, enum.RunModePaper, spot.Mode)
	assert.Equal(t, 30*time.Second, spot.Interval)
	assert.JSONEq(t, `{"entryAmount": 100}`, string(spot.Params))
	assert.Equal(t, 10*time.Second, loaded.Workers[1].Interval)

	assert.Equal(t, StoreFile, loaded.Store.Kind)
	assert.Equal(t, "/tmp/state", loaded.Store.Dir)
	assert.Equal(t, 0.01, loaded.Paper.Filters.TickSize)
	require.NotNil(t, loaded.Chaos)
	assert.Equal(t, 2*time.Minute, loaded.Chaos.BlockDuration)
	assert.Equal(t, 3*time.Minute, loaded.Supervisor.StallWindow)
	assert.Equal(t, defaultNotifyQueueSize, loaded.Notify.QueueSize)

	assert.False(t, loaded.Features.AutoStart)
	assert.False(t, loaded.Features.Telegram)
	assert.False(t, loaded.Features.Journal, "journal needs the postgres store")
	assert.True(t, loaded.Features.ReloadWorkers)
}

func TestParseInvalid(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  string
	}{
		{desc: "malformed json", cfg: `{"pools": [`},
		{desc: "empty pool id", cfg: `{"pools": [{"allocation": 10}]}`},
		{desc: "duplicate pool", cfg: `{"pools": [{"id": "a", "allocation": 10}, {"id": "a", "allocation": 5}]}`},
		{desc: "zero allocation", cfg: `{"pools": [{"id": "a", "allocation": 0}]}`},
		{desc: "unknown worker pool", cfg: `{"pools": [{"id": "a", "allocation": 10}], "workers": [{"id": "w", "symbol": "BTCUSDT", "kind": "spot", "pool": "b"}]}`},
		{desc: "unknown worker kind", cfg: `{"pools": [{"id": "a", "allocation": 10}], "workers": [{"id": "w", "symbol": "BTCUSDT", "kind": "futures", "pool": "a"}]}`},
		{desc: "duplicate worker", cfg: `{"pools": [{"id": "a", "allocation": 10}], "workers": [{"id": "w", "symbol": "BTCUSDT", "kind": "spot", "pool": "a"}, {"id": "w", "symbol": "ETHUSDT", "kind": "spot", "pool": "a"}]}`},
		{desc: "bad duration", cfg: `{"pools": [{"id": "a", "allocation": 10}], "workers": [{"id": "w", "symbol": "BTCUSDT", "kind": "spot", "pool": "a", "interval": "often"}]}`},
		{desc: "unknown store", cfg: `{"store": {"kind": "redis"}}`},
		{desc: "paper fee", cfg: `{"paper": {"feeRate": 0.5}}`},
		{desc: "chaos rate", cfg: `{"chaos": {"errorRate": 2}}`},
		{desc: "negative stall window", cfg: `{"supervisor": {"stallWindow": "-1m"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Parse([]byte(tc.cfg))
			assert.Error(t, err)
		})
	}
}

func TestResolveSecrets(t *testing.T) {
	testCases := []struct {
		desc   string
		cfg    string
		env    map[string]string
		hasErr bool
		check  func(t *testing.T, loaded Loaded)
	}{
		{
			desc:   "telegram without credentials",
			cfg:    `{"features": {"telegram": true}}`,
			hasErr: true,
		},
		{
			desc: "telegram credentials from env",
			cfg:  `{"features": {"telegram": true}}`,
			env:  map[string]string{EnvTelegramToken: "token", EnvTelegramChatID: "42"},
			check: func(t *testing.T, loaded Loaded) {
				assert.Equal(t, "token", loaded.Notify.TelegramToken)
				assert.Equal(t, "42", loaded.Notify.TelegramChatID)
			},
		},
		{
			desc:   "postgres without dsn",
			cfg:    `{"store": {"kind": "postgres"}}`,
			hasErr: true,
		},
		{
			desc: "postgres dsn from env",
			cfg:  `{"store": {"kind": "postgres", "postgres": {"host": "db"}}}`,
			env:  map[string]string{EnvPostgresDSN: "postgres://bot@db/autotrader"},
			check: func(t *testing.T, loaded Loaded) {
				assert.Equal(t, "postgres://bot@db/autotrader", loaded.Store.Postgres.ConnString)
				assert.True(t, loaded.Features.Journal)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			for _, key := range []string{EnvTelegramToken, EnvTelegramChatID, EnvPostgresDSN} {
				t.Setenv(key, tc.env[key])
			}
			loaded, err := Parse([]byte(tc.cfg))
			if tc.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, loaded)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Workers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	prev, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	next, err := Parse([]byte(`{
		"pools": [{"id": "main", "allocation": "2000"}],
		"workers": [
			{"id": "spot-btc", "symbol": "BTCUSDT", "kind": "spot", "pool": "main", "params": {"entryAmount": 150}},
			{"id": "spot-eth", "symbol": "ETHUSDT", "kind": "spot", "pool": "main", "params": {"entryAmount": 50}}
		]
	}`))
	require.NoError(t, err)

	changes := Diff(prev, next)
	require.Len(t, changes.Added, 1)
	assert.Equal(t, "spot-eth", changes.Added[0].ID)
	require.Len(t, changes.Tuned, 1)
	assert.Equal(t, "spot-btc", changes.Tuned[0].ID)

	assert.True(t, Diff(next, next).Empty())
}

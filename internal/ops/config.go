package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"github.com/yanun0323/go-autotrader/internal/chaos"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/conn"
)

const (
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvPostgresDSN    = "AUTOTRADER_PG_DSN"

	defaultStoreDir        = "data/state"
	defaultNotifyQueueSize = 256
)

// StoreKind selects the checkpoint medium.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreFile     StoreKind = "file"
	StorePostgres StoreKind = "postgres"
)

// Duration decodes "10s" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(time.Duration(d).String())
}

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Account    string             `json:"account"`
	Pools      []PoolConfig       `json:"pools"`
	Workers    []WorkerConfig     `json:"workers"`
	Store      StoreConfig        `json:"store"`
	Paper      PaperConfig        `json:"paper"`
	Chaos      *ChaosConfig       `json:"chaos"`
	Supervisor SupervisorConfig   `json:"supervisor"`
	Notify     NotifyConfig       `json:"notify"`
	Features   FeatureFlagsConfig `json:"features"`
}

type PoolConfig struct {
	ID         string          `json:"id"`
	Allocation decimal.Decimal `json:"allocation"`
}

// WorkerConfig is one worker entry. Params are passed to the strategy untouched.
type WorkerConfig struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Kind           enum.StrategyKind `json:"kind"`
	Mode           enum.RunMode      `json:"mode"`
	Pool           string            `json:"pool"`
	Interval       Duration          `json:"interval"`
	KlineInterval  string            `json:"klineInterval"`
	KlineLimit     int               `json:"klineLimit"`
	MaxRetries     int               `json:"maxRetries"`
	RetryBase      Duration          `json:"retryBase"`
	RetryMax       Duration          `json:"retryMax"`
	FailureSuspend Duration          `json:"failureSuspend"`
	AutoCompound   bool              `json:"autoCompound"`
	Params         json.RawMessage   `json:"params"`
}

type StoreConfig struct {
	Kind     StoreKind   `json:"kind"`
	Dir      string      `json:"dir"`
	Postgres conn.Option `json:"postgres"`
}

type PaperConfig struct {
	FeeRate         float64             `json:"feeRate"`
	Slippage        float64             `json:"slippage"`
	PartialRatio    float64             `json:"partialRatio"`
	QuoteAsset      string              `json:"quoteAsset"`
	Filters         model.SymbolFilters `json:"filters"`
	Balances        map[string]float64  `json:"balances"`
	EnforceBalances bool                `json:"enforceBalances"`
}

type ChaosConfig struct {
	Seed          int64    `json:"seed"`
	ErrorRate     float64  `json:"errorRate"`
	LostAckRate   float64  `json:"lostAckRate"`
	BlockRate     float64  `json:"blockRate"`
	BlockDuration Duration `json:"blockDuration"`
}

type SupervisorConfig struct {
	StallWindow     Duration `json:"stallWindow"`
	MonitorInterval Duration `json:"monitorInterval"`
}

type NotifyConfig struct {
	QueueSize int `json:"queueSize"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	AutoStart     *bool `json:"autoStart"`
	Telegram      *bool `json:"telegram"`
	Journal       *bool `json:"journal"`
	ReloadWorkers *bool `json:"reloadWorkers"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	// AutoStart starts configured workers right after they are created.
	AutoStart bool
	Telegram  bool
	// Journal records trades to postgres when the store is postgres.
	Journal bool
	// ReloadWorkers applies param changes and new workers from a reloaded file.
	ReloadWorkers bool
}

type Pool struct {
	ID         string
	Allocation decimal.Decimal
}

type Store struct {
	Kind     StoreKind
	Dir      string
	Postgres conn.Option
}

type Notify struct {
	QueueSize      int
	TelegramToken  string
	TelegramChatID string
}

type Supervisor struct {
	StallWindow     time.Duration
	MonitorInterval time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Account    string
	Pools      []Pool
	Workers    []worker.Config
	Store      Store
	Paper      og.PaperConfig
	Chaos      *chaos.Config
	Supervisor Supervisor
	Notify     Notify
	Features   FeatureFlags
}

// Load reads a JSON config file and resolves it against the environment.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	return Parse(data)
}

// Parse resolves a JSON config document.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, fmt.Errorf("decode config: %w", err)
	}
	return Resolve(cfg)
}

// Resolve applies defaults and environment secrets and validates the result.
func Resolve(cfg FileConfig) (Loaded, error) {
	pools, err := resolvePools(cfg.Pools)
	if err != nil {
		return Loaded{}, err
	}
	workers, err := resolveWorkers(cfg.Workers, pools)
	if err != nil {
		return Loaded{}, err
	}
	store, err := resolveStore(cfg.Store)
	if err != nil {
		return Loaded{}, err
	}
	chaosCfg, err := resolveChaos(cfg.Chaos)
	if err != nil {
		return Loaded{}, err
	}
	paper, err := resolvePaper(cfg.Paper)
	if err != nil {
		return Loaded{}, err
	}
	features := resolveFeatures(cfg.Features)

	notify := Notify{QueueSize: cfg.Notify.QueueSize}
	if notify.QueueSize <= 0 {
		notify.QueueSize = defaultNotifyQueueSize
	}
	if features.Telegram {
		notify.TelegramToken = os.Getenv(EnvTelegramToken)
		notify.TelegramChatID = os.Getenv(EnvTelegramChatID)
		if notify.TelegramToken == "" || notify.TelegramChatID == "" {
			return Loaded{}, fmt.Errorf("telegram enabled but %s or %s is empty", EnvTelegramToken, EnvTelegramChatID)
		}
	}
	if features.Journal && store.Kind != StorePostgres {
		features.Journal = false
	}

	account := cfg.Account
	if account == "" {
		account = "default"
	}
	if cfg.Supervisor.StallWindow < 0 || cfg.Supervisor.MonitorInterval < 0 {
		return Loaded{}, fmt.Errorf("supervisor durations must be >= 0")
	}

	return Loaded{
		Account: account,
		Pools:   pools,
		Workers: workers,
		Store:   store,
		Paper:   paper,
		Chaos:   chaosCfg,
		Supervisor: Supervisor{
			StallWindow:     time.Duration(cfg.Supervisor.StallWindow),
			MonitorInterval: time.Duration(cfg.Supervisor.MonitorInterval),
		},
		Notify:   notify,
		Features: features,
	}, nil
}

func resolvePools(cfg []PoolConfig) ([]Pool, error) {
	seen := make(map[string]struct{}, len(cfg))
	pools := make([]Pool, 0, len(cfg))
	for _, p := range cfg {
		if p.ID == "" {
			return nil, fmt.Errorf("pool id is empty")
		}
		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("duplicate pool: %s", p.ID)
		}
		if !p.Allocation.IsPositive() {
			return nil, fmt.Errorf("pool %s allocation must be > 0", p.ID)
		}
		seen[p.ID] = struct{}{}
		pools = append(pools, Pool{ID: p.ID, Allocation: p.Allocation})
	}
	return pools, nil
}

func resolveWorkers(cfg []WorkerConfig, pools []Pool) ([]worker.Config, error) {
	known := make(map[string]struct{}, len(pools))
	for _, p := range pools {
		known[p.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(cfg))
	workers := make([]worker.Config, 0, len(cfg))
	for _, w := range cfg {
		wc := worker.Config{
			ID:             w.ID,
			Symbol:         strings.ToUpper(w.Symbol),
			Kind:           w.Kind,
			Mode:           w.Mode,
			PoolID:         w.Pool,
			Interval:       time.Duration(w.Interval),
			KlineInterval:  w.KlineInterval,
			KlineLimit:     w.KlineLimit,
			MaxRetries:     w.MaxRetries,
			RetryBase:      time.Duration(w.RetryBase),
			RetryMax:       time.Duration(w.RetryMax),
			FailureSuspend: time.Duration(w.FailureSuspend),
			AutoCompound:   w.AutoCompound,
			Params:         w.Params,
		}.WithDefaults()
		if err := wc.Validate(); err != nil {
			return nil, fmt.Errorf("worker %q: %w", w.ID, err)
		}
		if _, ok := seen[wc.ID]; ok {
			return nil, fmt.Errorf("duplicate worker: %s", wc.ID)
		}
		if _, ok := known[wc.PoolID]; !ok {
			return nil, fmt.Errorf("worker %s: pool not found: %s", wc.ID, wc.PoolID)
		}
		seen[wc.ID] = struct{}{}
		workers = append(workers, wc)
	}
	return workers, nil
}

func resolveStore(cfg StoreConfig) (Store, error) {
	store := Store{Kind: cfg.Kind, Dir: cfg.Dir, Postgres: cfg.Postgres}
	if store.Kind == "" {
		store.Kind = StoreFile
	}
	switch store.Kind {
	case StoreMemory:
	case StoreFile:
		if store.Dir == "" {
			store.Dir = defaultStoreDir
		}
	case StorePostgres:
		if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
			store.Postgres.ConnString = dsn
		}
		if store.Postgres.ConnString == "" && store.Postgres.Database == "" {
			return Store{}, fmt.Errorf("postgres store needs %s or store.postgres.database", EnvPostgresDSN)
		}
	default:
		return Store{}, fmt.Errorf("unknown store kind: %s", store.Kind)
	}
	return store, nil
}

func resolvePaper(cfg PaperConfig) (og.PaperConfig, error) {
	if cfg.FeeRate < 0 || cfg.FeeRate >= 0.1 {
		return og.PaperConfig{}, fmt.Errorf("paper feeRate must be in [0, 0.1)")
	}
	if cfg.PartialRatio < 0 || cfg.PartialRatio > 1 {
		return og.PaperConfig{}, fmt.Errorf("paper partialRatio must be in [0, 1]")
	}
	if cfg.Slippage < 0 {
		return og.PaperConfig{}, fmt.Errorf("paper slippage must be >= 0")
	}
	return og.PaperConfig{
		FeeRate:         cfg.FeeRate,
		Slippage:        cfg.Slippage,
		PartialRatio:    cfg.PartialRatio,
		QuoteAsset:      cfg.QuoteAsset,
		Filters:         cfg.Filters,
		Balances:        cfg.Balances,
		EnforceBalances: cfg.EnforceBalances,
	}, nil
}

func resolveChaos(cfg *ChaosConfig) (*chaos.Config, error) {
	if cfg == nil {
		return nil, nil
	}
	out := chaos.Config{
		Seed:          cfg.Seed,
		ErrorRate:     cfg.ErrorRate,
		LostAckRate:   cfg.LostAckRate,
		BlockRate:     cfg.BlockRate,
		BlockDuration: time.Duration(cfg.BlockDuration),
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chaos config: %w", err)
	}
	return &out, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		AutoStart:     true,
		Telegram:      false,
		Journal:       true,
		ReloadWorkers: true,
	}
	if cfg.AutoStart != nil {
		flags.AutoStart = *cfg.AutoStart
	}
	if cfg.Telegram != nil {
		flags.Telegram = *cfg.Telegram
	}
	if cfg.Journal != nil {
		flags.Journal = *cfg.Journal
	}
	if cfg.ReloadWorkers != nil {
		flags.ReloadWorkers = *cfg.ReloadWorkers
	}
	return flags
}

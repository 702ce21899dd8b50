package worker

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const (
	defaultInterval       = 10 * time.Second
	defaultMaxRetries     = 5
	defaultRetryBase      = 2 * time.Second
	defaultRetryMax       = time.Minute
	defaultFailureSuspend = 15 * time.Minute
	defaultKlineInterval  = "1m"
	defaultKlineLimit     = 250
)

// Config identifies a worker and carries its initial strategy parameters.
type Config struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Kind           enum.StrategyKind `json:"kind"`
	Mode           enum.RunMode      `json:"mode"`
	PoolID         string            `json:"poolId"`
	Interval       time.Duration     `json:"interval"`
	KlineInterval  string            `json:"klineInterval"`
	KlineLimit     int               `json:"klineLimit"`
	MaxRetries     int               `json:"maxRetries"`
	RetryBase      time.Duration     `json:"retryBase"`
	RetryMax       time.Duration     `json:"retryMax"`
	FailureSuspend time.Duration     `json:"failureSuspend"`
	AutoCompound   bool              `json:"autoCompound"`
	Params         json.RawMessage   `json:"params,omitempty"`
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = enum.RunModePaper
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.KlineInterval == "" {
		c.KlineInterval = defaultKlineInterval
	}
	if c.KlineLimit <= 0 {
		c.KlineLimit = defaultKlineLimit
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.FailureSuspend <= 0 {
		c.FailureSuspend = defaultFailureSuspend
	}
	return c
}

// Validate checks identity fields.
func (c Config) Validate() error {
	if c.ID == "" || strings.Contains(c.ID, "/") || state.ValidateKey(state.WorkerKey(c.ID)) != nil {
		return errors.Wrapf(exception.ErrInvalidParams, "worker id %q", c.ID)
	}
	if c.Symbol == "" {
		return errors.Wrapf(exception.ErrInvalidParams, "worker %s: symbol is empty", c.ID)
	}
	if !c.Kind.IsAvailable() {
		return errors.Wrapf(exception.ErrUnknownKind, "worker %s: kind %q", c.ID, c.Kind)
	}
	if !c.Mode.IsAvailable() {
		return errors.Wrapf(exception.ErrInvalidParams, "worker %s: mode %q", c.ID, c.Mode)
	}
	if c.PoolID == "" {
		return errors.Wrapf(exception.ErrInvalidParams, "worker %s: pool is empty", c.ID)
	}
	return nil
}

// Policy returns the retry policy of the worker.
func (c Config) Policy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.MaxRetries,
		Base:       c.RetryBase,
		Max:        c.RetryMax,
		Suspend:    c.FailureSuspend,
	}
}

package worker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/journal"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/obs"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
)

// Capital is the part of the allocator a worker uses.
type Capital interface {
	Reserve(ctx context.Context, req capital.Request) (capital.Grant, error)
	Extend(ctx context.Context, workerID, poolID string, amount decimal.Decimal) (capital.Grant, error)
	Release(ctx context.Context, workerID, poolID string, pnl decimal.Decimal) error
	Adopt(ctx context.Context, r capital.Reservation) (capital.Grant, error)
	Holding(workerID, poolID string) (capital.Reservation, bool)
}

var _ Capital = (*capital.Allocator)(nil)

// Env holds the collaborators shared by every worker on the account.
type Env struct {
	Gateway  og.Gateway
	Feed     signal.Feed
	Capital  Capital
	Store    state.Store
	Notifier notify.Notifier
	Journal  journal.Recorder
	Metrics  *obs.Metrics
}

// WithDefaults fills optional collaborators.
func (e Env) WithDefaults() Env {
	if e.Notifier == nil {
		e.Notifier = notify.Nop{}
	}
	if e.Journal == nil {
		e.Journal = journal.NewMemoryJournal()
	}
	if e.Feed == nil {
		e.Feed = signal.NewTalibFeed()
	}
	return e
}

// Cycle is handed to a strategy for one tick.
type Cycle struct {
	Env
	Config Config
	Now    time.Time
	save   func(ctx context.Context) error
}

// Save checkpoints the worker now. Strategies call it before sending orders.
func (c *Cycle) Save(ctx context.Context) error {
	if c.save == nil {
		return nil
	}
	return c.save(ctx)
}

// Notify sends a notification tagged with the worker id.
func (c *Cycle) Notify(event notify.Event, payload notify.Payload) {
	if payload == nil {
		payload = notify.Payload{}
	}
	payload["worker"] = c.Config.ID
	payload["symbol"] = c.Config.Symbol
	c.Notifier.Notify(event, payload)
}

// Record writes a closed trade to the journal, logging failures.
func (c *Cycle) Record(ctx context.Context, trade journal.Trade) {
	trade.WorkerID = c.Config.ID
	trade.Kind = string(c.Config.Kind)
	trade.Symbol = c.Config.Symbol
	if err := c.Journal.Record(ctx, trade); err != nil {
		logs.Errorf("worker %s: journal record failed, err: %+v", c.Config.ID, err)
	}
}

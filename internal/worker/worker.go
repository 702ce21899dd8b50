package worker

import (
	"context"
	"time"

	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/state"
)

// Worker is one autonomous trading state machine. Only its own Tick mutates
// it; everything else talks to it through Enqueue or reads lock-free views.
type Worker interface {
	ID() string
	Kind() enum.StrategyKind
	Interval() time.Duration
	Tick(ctx context.Context, now time.Time) error
	Enqueue(cmd Command) error
	Status() Status
	LastTick() time.Time
	Lifecycle() enum.Lifecycle
	SuspendedUntil() time.Time
	Suspend(until time.Time)
}

// Status is a read-only snapshot published after every tick.
type Status struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Kind           enum.StrategyKind `json:"kind"`
	Mode           enum.RunMode      `json:"mode"`
	PoolID         string            `json:"poolId"`
	Lifecycle      enum.Lifecycle    `json:"lifecycle"`
	State          string            `json:"state"`
	SuspendedUntil time.Time         `json:"suspendedUntil"`
	Price          float64           `json:"price"`
	Position       state.Position    `json:"position"`
	Unrealized     float64           `json:"unrealized"`
	Reserved       float64           `json:"reserved"`
	OpenOrders     int               `json:"openOrders"`
	LastReason     string            `json:"lastReason"`
	LastError      string            `json:"lastError"`
	Params         any               `json:"params"`
	Metrics        MetricsSummary    `json:"metrics"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

package spot

import (
	"time"

	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
)

// State is the spot state machine tag.
type State string

const (
	StateIdle     State = "idle"
	StateEntering State = "entering"
	StateHolding  State = "holding"
	StateScaling  State = "scaling"
	StateExiting  State = "exiting"
	StateCooldown State = "cooldown"
)

// Tunable reports whether parameters may change in this state.
func (s State) Tunable() bool {
	switch s {
	case StateIdle, StateHolding, StateScaling, StateCooldown:
		return true
	default:
		return false
	}
}

// Purpose tells what an in-flight intent is for.
type Purpose string

const (
	PurposeEntry Purpose = "entry"
	PurposeScale Purpose = "scale"
	PurposeExit  Purpose = "exit"
)

// ExitReason explains why a position is closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTrailing   ExitReason = "trailing"
	ExitTakeProfit ExitReason = "take_profit"
	ExitPanic      ExitReason = "panic"
)

// Round accumulates one entry-to-exit trade.
type Round struct {
	Capital      float64 `json:"capital"`
	Fees         float64 `json:"fees"`
	PnL          float64 `json:"pnl"`
	EntryPrice   float64 `json:"entryPrice"`
	ExitQty      float64 `json:"exitQty"`
	ExitNotional float64 `json:"exitNotional"`
}

// Body is the checkpointed spot state.
type Body struct {
	State         State          `json:"state"`
	Depth         int            `json:"depth"`
	Params        Params         `json:"params"`
	Position      state.Position `json:"position"`
	Intent        *og.Intent     `json:"intent,omitempty"`
	Purpose       Purpose        `json:"purpose,omitempty"`
	ExitReason    ExitReason     `json:"exitReason,omitempty"`
	Peak          float64        `json:"peak"`
	Trailing      bool           `json:"trailing"`
	Reserved      float64        `json:"reserved"`
	CooldownUntil time.Time      `json:"cooldownUntil"`
	Round         Round          `json:"round"`
	Metrics       worker.Metrics `json:"metrics"`
}

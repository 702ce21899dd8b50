package errors

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Kind groups errors by how a worker must react to them.
type Kind uint8

const (
	// KindNone is a nil error.
	KindNone Kind = iota
	// KindTransient is retried with bounded backoff, the worker keeps its state.
	KindTransient
	// KindBlocked suspends every worker on the account until the lift time.
	KindBlocked
	// KindDenied is a logged decision, not a failure.
	KindDenied
	// KindReconciliation is resolved by trusting exchange-reported values.
	KindReconciliation
	// KindFatalWorker suspends and alerts the single worker.
	KindFatalWorker
	// KindFatalProcess halts the supervisor.
	KindFatalProcess
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindBlocked:
		return "blocked"
	case KindDenied:
		return "denied"
	case KindReconciliation:
		return "reconciliation"
	case KindFatalWorker:
		return "fatal_worker"
	case KindFatalProcess:
		return "fatal_process"
	default:
		return "unknown"
	}
}

// BlockedError reports that the exchange refuses access until a known time.
type BlockedError struct {
	Until  time.Time
	Reason string
}

func (e *BlockedError) Error() string {
	msg := exception.ErrAccessBlocked.Error() + " until " + e.Until.UTC().Format(time.RFC3339)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *BlockedError) Unwrap() error {
	return exception.ErrAccessBlocked
}

// NewBlocked builds a BlockedError.
func NewBlocked(until time.Time, reason string) error {
	return &BlockedError{Until: until, Reason: reason}
}

// BlockedUntil extracts the lift time of an access block.
func BlockedUntil(err error) (time.Time, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked.Until, true
	}
	return time.Time{}, false
}

// Classify maps an error onto the handling taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if _, ok := BlockedUntil(err); ok {
		return KindBlocked
	}
	switch {
	case errors.Is(err, exception.ErrStoreUnavailable):
		return KindFatalProcess
	case errors.Is(err, exception.ErrGatewayTransient),
		errors.Is(err, exception.ErrGatewayRateLimit),
		errors.Is(err, exception.ErrNoMarketData),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, exception.ErrReconcileMismatch):
		return KindReconciliation
	case errors.Is(err, exception.ErrReservationExists):
		return KindDenied
	default:
		return KindFatalWorker
	}
}

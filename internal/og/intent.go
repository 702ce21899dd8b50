package og

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

var (
	ErrInvalidTransition = errors.New("intent: invalid state transition")
	ErrInvalidIntent     = errors.New("intent: invalid quantity or price")
)

// IntentState tracks the lifecycle of an order intent.
type IntentState uint8

const (
	_intent_state_beg IntentState = iota
	IntentPending
	IntentResting
	IntentPartFilled
	IntentFilled
	IntentCancelled
	IntentRejected
	_intent_state_end
)

func (s IntentState) IsAvailable() bool {
	return s > _intent_state_beg && s < _intent_state_end
}

func (s IntentState) String() string {
	switch s {
	case IntentPending:
		return "pending"
	case IntentResting:
		return "resting"
	case IntentPartFilled:
		return "part_filled"
	case IntentFilled:
		return "filled"
	case IntentCancelled:
		return "cancelled"
	case IntentRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Intent is an order the worker has decided to send. It is checkpointed before
// it reaches the exchange; ID doubles as the client order id.
type Intent struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Side        enum.OrderSide `json:"side"`
	Type        enum.OrderType `json:"type"`
	Qty         float64        `json:"qty"`
	Price       float64        `json:"price"`
	RefPrice    float64        `json:"refPrice"`
	State       IntentState    `json:"state"`
	ExecutedQty float64        `json:"executedQty"`
	AvgPrice    float64        `json:"avgPrice"`
	Fee         float64        `json:"fee"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NewIntent builds a pending intent with a fresh correlation id. refPrice is the
// price the decision was made at, used for slippage.
func NewIntent(symbol string, side enum.OrderSide, typ enum.OrderType, qty, price, refPrice float64, now time.Time) (Intent, error) {
	if !side.IsAvailable() || !typ.IsAvailable() || qty <= 0 || (typ == enum.OrderTypeLimit && price <= 0) {
		return Intent{}, errors.Wrapf(ErrInvalidIntent, "%s %s qty=%f price=%f", side, typ, qty, price)
	}
	return Intent{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Qty:       qty,
		Price:     price,
		RefPrice:  refPrice,
		State:     IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Request converts the intent into a gateway request.
func (i Intent) Request() model.OrderRequest {
	return model.OrderRequest{
		ClientID: i.ID,
		Symbol:   i.Symbol,
		Side:     i.Side,
		Type:     i.Type,
		Qty:      i.Qty,
		Price:    i.Price,
	}
}

func (i Intent) IsTerminal() bool {
	switch i.State {
	case IntentFilled, IntentCancelled, IntentRejected:
		return true
	default:
		return false
	}
}

// Notional returns the executed quote amount.
func (i Intent) Notional() float64 {
	return i.ExecutedQty * i.AvgPrice
}

// Slippage returns the relative adverse difference between the reference price
// and the average fill price.
func (i Intent) Slippage() float64 {
	if i.RefPrice <= 0 || i.AvgPrice <= 0 {
		return 0
	}
	if i.Side == enum.OrderSideBuy {
		return (i.AvgPrice - i.RefPrice) / i.RefPrice
	}
	return (i.RefPrice - i.AvgPrice) / i.RefPrice
}

// Apply folds an exchange report into the intent. Executed values from the
// exchange always win; a report that shrinks the executed quantity is applied
// and reported as exception.ErrReconcileMismatch.
func (i *Intent) Apply(r model.OrderReport, now time.Time) error {
	if i.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "intent %s is %s", i.ID, i.State)
	}
	var mismatch error
	if r.ExecutedQty+1e-12 < i.ExecutedQty {
		mismatch = errors.Wrapf(exception.ErrReconcileMismatch, "intent %s executed %f reported %f", i.ID, i.ExecutedQty, r.ExecutedQty)
	}
	i.ExecutedQty = r.ExecutedQty
	i.AvgPrice = r.AvgPrice
	i.Fee = r.Fee
	i.UpdatedAt = now

	switch r.Status {
	case enum.OrderStatusNew, enum.OrderStatusResting:
		i.State = IntentResting
	case enum.OrderStatusPartiallyFilled:
		i.State = IntentPartFilled
	case enum.OrderStatusFilled:
		i.State = IntentFilled
	case enum.OrderStatusCancelled:
		i.State = IntentCancelled
	case enum.OrderStatusRejected:
		i.State = IntentRejected
	default:
		return errors.Wrapf(ErrInvalidTransition, "intent %s unknown report status %d", i.ID, r.Status)
	}
	return mismatch
}

// Sync drives the intent one step forward against the exchange. The exchange
// is always queried by correlation id first, so an intent persisted before a
// crash is never placed twice.
func Sync(ctx context.Context, gw Gateway, i *Intent, now time.Time) error {
	if i.IsTerminal() {
		return nil
	}
	report, err := gw.QueryOrder(ctx, i.Symbol, i.ID)
	switch {
	case err == nil:
		return apply(i, report, now)
	case !errors.Is(err, exception.ErrOrderNotFound):
		return err
	case i.State != IntentPending:
		logs.Errorf("og: intent %s was %s but is unknown to the exchange, marking cancelled", i.ID, i.State)
		i.State = IntentCancelled
		i.UpdatedAt = now
		return nil
	}

	i.Attempts++
	report, err = gw.PlaceOrder(ctx, i.Request())
	if err != nil {
		if errors.Is(err, exception.ErrOrderDuplicate) {
			if report, err = gw.QueryOrder(ctx, i.Symbol, i.ID); err == nil {
				return apply(i, report, now)
			}
		}
		return err
	}
	return apply(i, report, now)
}

// Cancel withdraws a live intent. An intent the exchange never saw is marked cancelled.
func Cancel(ctx context.Context, gw Gateway, i *Intent, now time.Time) error {
	if i.IsTerminal() {
		return nil
	}
	report, err := gw.CancelOrder(ctx, i.Symbol, i.ID)
	switch {
	case err == nil:
		return apply(i, report, now)
	case errors.Is(err, exception.ErrOrderNotFound) && i.State == IntentPending:
		i.State = IntentCancelled
		i.UpdatedAt = now
		return nil
	case errors.Is(err, exception.ErrOrderTerminal):
		report, err = gw.QueryOrder(ctx, i.Symbol, i.ID)
		if err != nil {
			return err
		}
		return apply(i, report, now)
	default:
		return err
	}
}

func apply(i *Intent, r model.OrderReport, now time.Time) error {
	err := i.Apply(r, now)
	if errors.Is(err, exception.ErrReconcileMismatch) {
		logs.Errorf("og: %v", err)
		return nil
	}
	return err
}

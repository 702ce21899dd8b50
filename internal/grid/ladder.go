package grid

import (
	"time"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Phase is the rebalance state of the ladder.
type Phase string

const (
	PhaseStable      Phase = "stable"
	PhaseRebalancing Phase = "rebalancing"
)

// LevelStatus is the order state at one price point.
type LevelStatus string

const (
	LevelIdle    LevelStatus = "idle"
	LevelPending LevelStatus = "pending"
	LevelResting LevelStatus = "resting"
	// LevelFilled marks a bought level waiting for its sell one step above.
	LevelFilled LevelStatus = "filled"
)

// Level is one price point of the ladder. It holds at most one order.
type Level struct {
	Index    int            `json:"index"`
	Price    float64        `json:"price"`
	Side     enum.OrderSide `json:"side"`
	Qty      float64        `json:"qty"`
	Cost     float64        `json:"cost"`
	OpenedAt time.Time      `json:"openedAt"`
	Status   LevelStatus    `json:"status"`
	Disabled bool           `json:"disabled"`
	Intent   *og.Intent     `json:"intent,omitempty"`
}

// Live reports whether the level has an order that is not terminal.
func (l Level) Live() bool {
	return l.Intent != nil && !l.Intent.IsTerminal()
}

// Plan is the target range of a rebalance. Cancelled and Built record the
// steps already done so a restart resumes from the next one.
type Plan struct {
	Center    float64 `json:"center"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
	Count     int     `json:"count"`
	Cancelled bool    `json:"cancelled"`
	Built     bool    `json:"built"`
}

// Step returns the price distance between two levels.
func (p Plan) Step() float64 {
	if p.Count <= 0 {
		return 0
	}
	return (p.Upper - p.Lower) / float64(p.Count)
}

// centered returns a plan spanning widthRatio of center, BuyShare of it below.
func centered(center, widthRatio float64, count int, buyShare float64) Plan {
	width := widthRatio * center
	lower := center - buyShare*width
	return Plan{Center: center, Lower: lower, Upper: lower + width, Count: count}
}

// ladder is a freshly built set of levels.
type ladder struct {
	levels   []Level
	perLevel float64
	step     float64
}

// buildLadder lays out count+1 price points. Points below price by more than
// buffer are buy levels; the lowest are disabled until the order each buy
// level would post, after fee and step rounding, meets the min notional.
func buildLadder(plan Plan, price, capital, fee, buffer float64, f model.SymbolFilters) (ladder, error) {
	if plan.Count < 2 || plan.Lower <= 0 || plan.Upper <= plan.Lower {
		return ladder{}, errors.Wrapf(exception.ErrInvalidParams, "grid range %f-%f x%d", plan.Lower, plan.Upper, plan.Count)
	}
	step := plan.Step()
	if err := checkViable(step, plan.Upper, fee); err != nil {
		return ladder{}, err
	}

	levels := make([]Level, plan.Count+1)
	buys := make([]int, 0, len(levels))
	for i := range levels {
		p := model.RoundNearest(plan.Lower+float64(i)*step, f.TickSize)
		levels[i] = Level{Index: i, Price: p, Status: LevelIdle}
		if p > 0 && p < price*(1-buffer) {
			buys = append(buys, i)
		}
	}
	candidates := len(buys)
	for len(buys) > 0 && !buysFit(levels, buys, capital/float64(len(buys)), fee, f) {
		levels[buys[0]].Disabled = true
		buys = buys[1:]
	}
	if candidates > 0 && len(buys) == 0 {
		return ladder{}, errors.Wrapf(exception.ErrGridTooSmall, "capital %.2f below min notional %.2f", capital, f.MinNotional)
	}

	out := ladder{levels: levels, step: step}
	if len(buys) > 0 {
		out.perLevel = capital / float64(len(buys))
	}
	return out, nil
}

// levelQty is the buy quantity per-level capital affords at price once the
// buy fee is held back and the quantity is floored to the step size.
func levelQty(perLevel, price, fee, stepSize float64) float64 {
	if price <= 0 {
		return 0
	}
	return model.RoundDown(perLevel/(price*(1+fee)), stepSize)
}

func buysFit(levels []Level, buys []int, perLevel, fee float64, f model.SymbolFilters) bool {
	for _, i := range buys {
		p := levels[i].Price
		qty := levelQty(perLevel, p, fee, f.StepSize)
		if qty <= 0 || qty*p < f.MinNotional {
			return false
		}
	}
	return true
}

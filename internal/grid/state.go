package grid

import (
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
)

// Body is the checkpointed grid state.
type Body struct {
	Active      bool           `json:"active"`
	Phase       Phase          `json:"phase"`
	Params      Params         `json:"params"`
	Center      float64        `json:"center"`
	Lower       float64        `json:"lower"`
	Upper       float64        `json:"upper"`
	Step        float64        `json:"step"`
	Count       int            `json:"count"`
	PerLevel    float64        `json:"perLevel"`
	Levels      []Level        `json:"levels"`
	Inventory   []state.Lot    `json:"inventory"`
	Plan        *Plan          `json:"plan,omitempty"`
	Liquidation *og.Intent     `json:"liquidation,omitempty"`
	Reserved    float64        `json:"reserved"`
	Realized    float64        `json:"realized"`
	Fees        float64        `json:"fees"`
	BuyFills    int            `json:"buyFills"`
	SellFills   int            `json:"sellFills"`
	Rebalances  int            `json:"rebalances"`
	Metrics     worker.Metrics `json:"metrics"`
}

// Committed returns the quote amount tied up in level orders and held
// inventory. Terminal intents not yet folded still count.
func (b Body) Committed() float64 {
	fee := b.Params.FeeRate
	sum := 0.0
	for _, lot := range b.Inventory {
		sum += lot.Price*lot.Qty + lot.Fee
	}
	for _, lv := range b.Levels {
		if lv.Intent == nil {
			continue
		}
		if lv.Intent.Side == enum.OrderSideBuy {
			sum += lv.Qty * lv.Price * (1 + fee)
		} else {
			sum += lv.Cost
		}
	}
	return sum
}

// Holdings returns the base quantity held and its cost, resting sells included.
func (b Body) Holdings() (qty, cost float64) {
	for _, lot := range b.Inventory {
		qty += lot.Qty
		cost += lot.Price*lot.Qty + lot.Fee
	}
	for _, lv := range b.Levels {
		if lv.Intent != nil && lv.Intent.Side == enum.OrderSideSell {
			qty += lv.Qty - lv.Intent.ExecutedQty
			cost += lv.Cost * (1 - lv.Intent.ExecutedQty/lv.Qty)
		}
	}
	return qty, cost
}

// OpenOrders counts live level intents.
func (b Body) OpenOrders() int {
	n := 0
	for _, lv := range b.Levels {
		if lv.Live() {
			n++
		}
	}
	if b.Liquidation != nil && !b.Liquidation.IsTerminal() {
		n++
	}
	return n
}

func (b Body) position() state.Position {
	qty, cost := b.Holdings()
	if qty <= 1e-12 {
		return state.Position{Realized: b.Realized}
	}
	return state.Position{Qty: qty, Cost: cost, AvgPrice: cost / qty, Realized: b.Realized}
}

package state

import (
	"math"
	"time"
)

// Lot is one filled buy.
type Lot struct {
	Price    float64   `json:"price"`
	Qty      float64   `json:"qty"`
	Fee      float64   `json:"fee"`
	FilledAt time.Time `json:"filledAt"`
}

// Position is a weighted-average-cost ledger for one symbol.
type Position struct {
	Qty      float64   `json:"qty"`
	AvgPrice float64   `json:"avgPrice"`
	Cost     float64   `json:"cost"`
	Fees     float64   `json:"fees"`
	OpenedAt time.Time `json:"openedAt"`
	Fills    int       `json:"fills"`
	LastFill float64   `json:"lastFillCapital"`
	Realized float64   `json:"realized"`
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Qty <= 1e-12
}

// ApplyBuy folds a buy fill into the average cost. fee is in quote currency.
func (p *Position) ApplyBuy(price, qty, fee float64, at time.Time) {
	if qty <= 0 {
		return
	}
	if p.IsFlat() {
		*p = Position{OpenedAt: at, Realized: p.Realized}
	}
	notional := price * qty
	p.Cost += notional
	p.Fees += fee
	p.Qty += qty
	p.AvgPrice = p.Cost / p.Qty
	p.Fills++
	p.LastFill = notional
}

// ApplySell reduces the position and returns realized pnl net of the sell fee
// and the proportional share of buy fees.
func (p *Position) ApplySell(price, qty, fee float64) float64 {
	if qty <= 0 || p.IsFlat() {
		return 0
	}
	qty = math.Min(qty, p.Qty)
	share := qty / p.Qty
	costOut := p.Cost * share
	buyFees := p.Fees * share
	pnl := price*qty - costOut - fee - buyFees

	p.Qty -= qty
	p.Cost -= costOut
	p.Fees -= buyFees
	p.Realized += pnl
	if p.IsFlat() {
		p.Qty, p.Cost, p.Fees, p.AvgPrice = 0, 0, 0, 0
	}
	return pnl
}

// Unrealized returns mark-to-market pnl at price, before exit fees.
func (p Position) Unrealized(price float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return (price-p.AvgPrice)*p.Qty - p.Fees
}

// Capital returns the quote amount committed to the position.
func (p Position) Capital() float64 {
	return p.Cost + p.Fees
}

// BreakEven is the sell price at which proceeds net of sellFee cover the
// position cost and its buy fees.
func (p Position) BreakEven(sellFee float64) float64 {
	if p.IsFlat() || sellFee >= 1 {
		return 0
	}
	return p.Capital() / p.Qty / (1 - sellFee)
}

package og

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Operation names used for call counters and failure injection.
const (
	OpPrice     = "price"
	OpKlines    = "klines"
	OpOrderBook = "orderbook"
	OpPlace     = "place"
	OpCancel    = "cancel"
	OpQuery     = "query"
	OpBalance   = "balance"
	OpFilters   = "filters"
)

const (
	defaultPaperFee   = 0.001
	defaultQuoteAsset = "USDT"
	paperBookSpread   = 0.0005
)

// PaperConfig controls the simulated exchange.
type PaperConfig struct {
	FeeRate float64
	// Slippage moves market fills against the taker by this fraction.
	Slippage float64
	// PartialRatio fills only this fraction of a limit order on its first match. 0 fills fully.
	PartialRatio    float64
	QuoteAsset      string
	Filters         model.SymbolFilters
	Balances        map[string]float64
	EnforceBalances bool
}

type paperOrder struct {
	req    model.OrderRequest
	report model.OrderReport
}

// PaperGateway is an in-memory exchange for paper trading, backtests and tests.
type PaperGateway struct {
	mu  sync.Mutex
	cfg PaperConfig
	now func() time.Time

	prices   map[string]float64
	klines   map[string][]model.Kline
	orders   map[string]*paperOrder
	balances map[string]float64
	seq      int

	blockedUntil time.Time
	blockReason  string
	failures     map[string][]error
	calls        map[string]int
}

// NewPaperGateway creates a paper exchange. now may be nil for wall clock.
func NewPaperGateway(cfg PaperConfig, now func() time.Time) *PaperGateway {
	if cfg.FeeRate == 0 {
		cfg.FeeRate = defaultPaperFee
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaultQuoteAsset
	}
	if now == nil {
		now = time.Now
	}
	balances := make(map[string]float64, len(cfg.Balances))
	for k, v := range cfg.Balances {
		balances[k] = v
	}
	return &PaperGateway{
		cfg:      cfg,
		now:      now,
		prices:   make(map[string]float64),
		klines:   make(map[string][]model.Kline),
		orders:   make(map[string]*paperOrder),
		balances: balances,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetPrice moves the market and matches resting limit orders at their limit price.
func (g *PaperGateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
	g.match(symbol, price, price)
}

// PushKline appends a candle, sets the price to its close and matches resting
// orders against its high and low.
func (g *PaperGateway) PushKline(symbol string, k model.Kline) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.klines[symbol] = append(g.klines[symbol], k)
	g.prices[symbol] = k.Close
	g.match(symbol, k.Low, k.High)
}

// SetKlines replaces the candle history without matching.
func (g *PaperGateway) SetKlines(symbol string, klines []model.Kline) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.klines[symbol] = append([]model.Kline(nil), klines...)
	if n := len(klines); n > 0 {
		g.prices[symbol] = klines[n-1].Close
	}
}

// Block refuses every call until the lift time.
func (g *PaperGateway) Block(until time.Time, reason string) {
	g.mu.Lock()
	g.blockedUntil = until
	g.blockReason = reason
	g.mu.Unlock()
}

// FailNext queues errors returned by the next calls of op.
func (g *PaperGateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	g.failures[op] = append(g.failures[op], errs...)
	g.mu.Unlock()
}

// Calls returns how many times op was invoked, including failed calls.
func (g *PaperGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// TotalCalls returns the number of invocations of every operation.
func (g *PaperGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

// OpenOrders returns resting orders sorted by price.
func (g *PaperGateway) OpenOrders(symbol string) []model.OrderReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.OrderReport
	for _, o := range g.orders {
		if o.req.Symbol == symbol && !o.report.Status.IsTerminal() {
			out = append(out, o.report)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

func (g *PaperGateway) Price(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpPrice); err != nil {
		return 0, err
	}
	price, ok := g.prices[symbol]
	if !ok {
		return 0, errors.Wrapf(exception.ErrNoMarketData, "symbol %s", symbol)
	}
	return price, nil
}

func (g *PaperGateway) Klines(ctx context.Context, symbol, _ string, limit int) ([]model.Kline, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpKlines); err != nil {
		return nil, err
	}
	series := g.klines[symbol]
	if len(series) == 0 {
		return nil, errors.Wrapf(exception.ErrNoMarketData, "symbol %s", symbol)
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return append([]model.Kline(nil), series...), nil
}

func (g *PaperGateway) OrderBook(ctx context.Context, symbol string, _ int) (model.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpOrderBook); err != nil {
		return model.OrderBook{}, err
	}
	price, ok := g.prices[symbol]
	if !ok {
		return model.OrderBook{}, errors.Wrapf(exception.ErrNoMarketData, "symbol %s", symbol)
	}
	return model.OrderBook{
		Bids: []model.BookLevel{{Price: price * (1 - paperBookSpread), Qty: 1}},
		Asks: []model.BookLevel{{Price: price * (1 + paperBookSpread), Qty: 1}},
	}, nil
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpPlace); err != nil {
		return model.OrderReport{}, err
	}
	if req.ClientID == "" || !req.Side.IsAvailable() || !req.Type.IsAvailable() {
		return model.OrderReport{}, errors.Wrapf(exception.ErrOrderInvalid, "request %+v", req)
	}
	if existing, ok := g.orders[req.ClientID]; ok {
		return existing.report, errors.Wrapf(exception.ErrOrderDuplicate, "client id %s", req.ClientID)
	}
	price, ok := g.prices[req.Symbol]
	if !ok {
		return model.OrderReport{}, errors.Wrapf(exception.ErrUnknownSymbol, "symbol %s", req.Symbol)
	}

	g.seq++
	o := &paperOrder{
		req: req,
		report: model.OrderReport{
			ClientID:   req.ClientID,
			ExchangeID: "paper-" + strconv.Itoa(g.seq),
			Symbol:     req.Symbol,
			Side:       req.Side,
			Status:     enum.OrderStatusResting,
			Qty:        req.Qty,
			Price:      req.Price,
			UpdatedAt:  g.now(),
		},
	}
	g.orders[req.ClientID] = o

	if reason := g.validate(req, price); reason != "" {
		o.report.Status = enum.OrderStatusRejected
		return o.report, nil
	}

	switch req.Type {
	case enum.OrderTypeMarket:
		fill := price * (1 + g.cfg.Slippage)
		if req.Side == enum.OrderSideSell {
			fill = price * (1 - g.cfg.Slippage)
		}
		g.fill(o, req.Qty, fill)
	case enum.OrderTypeLimit:
		if crosses(req.Side, req.Price, price, price) {
			g.fill(o, req.Qty, req.Price)
		}
	}
	return o.report, nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpCancel); err != nil {
		return model.OrderReport{}, err
	}
	o, ok := g.orders[clientID]
	if !ok || o.req.Symbol != symbol {
		return model.OrderReport{}, errors.Wrapf(exception.ErrOrderNotFound, "client id %s", clientID)
	}
	if o.report.Status.IsTerminal() {
		return o.report, errors.Wrapf(exception.ErrOrderTerminal, "client id %s is %s", clientID, o.report.Status)
	}
	o.report.Status = enum.OrderStatusCancelled
	o.report.UpdatedAt = g.now()
	return o.report, nil
}

func (g *PaperGateway) QueryOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpQuery); err != nil {
		return model.OrderReport{}, err
	}
	o, ok := g.orders[clientID]
	if !ok || o.req.Symbol != symbol {
		return model.OrderReport{}, errors.Wrapf(exception.ErrOrderNotFound, "client id %s", clientID)
	}
	return o.report, nil
}

func (g *PaperGateway) Balance(ctx context.Context, asset string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpBalance); err != nil {
		return 0, err
	}
	return g.balances[asset], nil
}

func (g *PaperGateway) Filters(ctx context.Context, _ string) (model.SymbolFilters, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(ctx, OpFilters); err != nil {
		return model.SymbolFilters{}, err
	}
	return g.cfg.Filters, nil
}

// enter must be called with g.mu held.
func (g *PaperGateway) enter(ctx context.Context, op string) error {
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if now := g.now(); now.Before(g.blockedUntil) {
		return errors.NewBlocked(g.blockedUntil, g.blockReason)
	}
	if queued := g.failures[op]; len(queued) > 0 {
		err := queued[0]
		g.failures[op] = queued[1:]
		return err
	}
	return nil
}

func (g *PaperGateway) validate(req model.OrderRequest, price float64) string {
	if req.Qty <= 0 {
		return "quantity"
	}
	ref := req.Price
	if req.Type == enum.OrderTypeMarket {
		ref = price
	}
	if g.cfg.Filters.MinNotional > 0 && req.Qty*ref < g.cfg.Filters.MinNotional-1e-9 {
		return "min notional"
	}
	if !g.cfg.EnforceBalances {
		return ""
	}
	base, quote := g.assets(req.Symbol)
	switch req.Side {
	case enum.OrderSideBuy:
		if g.balances[quote] < req.Qty*ref*(1+g.cfg.FeeRate+g.cfg.Slippage)-1e-9 {
			return "insufficient " + quote
		}
	case enum.OrderSideSell:
		if g.balances[base] < req.Qty-1e-12 {
			return "insufficient " + base
		}
	}
	return ""
}

func (g *PaperGateway) match(symbol string, low, high float64) {
	ids := make([]string, 0, len(g.orders))
	for id, o := range g.orders {
		if o.req.Symbol == symbol && o.req.Type == enum.OrderTypeLimit && !o.report.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := g.orders[id]
		if !crosses(o.req.Side, o.req.Price, low, high) {
			continue
		}
		remaining := o.req.Qty - o.report.ExecutedQty
		qty := remaining
		if g.cfg.PartialRatio > 0 && g.cfg.PartialRatio < 1 && o.report.ExecutedQty == 0 {
			qty = model.RoundDown(o.req.Qty*g.cfg.PartialRatio, g.cfg.Filters.StepSize)
		}
		g.fill(o, qty, o.req.Price)
	}
}

func (g *PaperGateway) fill(o *paperOrder, qty, price float64) {
	remaining := o.req.Qty - o.report.ExecutedQty
	qty = math.Min(qty, remaining)
	if qty <= 0 {
		return
	}
	notional := qty * price
	fee := notional * g.cfg.FeeRate

	prevQty := o.report.ExecutedQty
	o.report.ExecutedQty += qty
	o.report.AvgPrice = (o.report.AvgPrice*prevQty + notional) / o.report.ExecutedQty
	o.report.Fee += fee
	o.report.UpdatedAt = g.now()
	if o.report.ExecutedQty >= o.req.Qty-1e-12 {
		o.report.Status = enum.OrderStatusFilled
	} else {
		o.report.Status = enum.OrderStatusPartiallyFilled
	}

	base, quote := g.assets(o.req.Symbol)
	switch o.req.Side {
	case enum.OrderSideBuy:
		g.balances[quote] -= notional + fee
		g.balances[base] += qty
	case enum.OrderSideSell:
		g.balances[quote] += notional - fee
		g.balances[base] -= qty
	}
}

func (g *PaperGateway) assets(symbol string) (string, string) {
	return strings.TrimSuffix(symbol, g.cfg.QuoteAsset), g.cfg.QuoteAsset
}

func crosses(side enum.OrderSide, limit, low, high float64) bool {
	switch side {
	case enum.OrderSideBuy:
		return low <= limit
	case enum.OrderSideSell:
		return high >= limit
	default:
		return false
	}
}

package chaos

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

var _ og.Gateway = (*Gateway)(nil)

// Stats counts injected faults.
type Stats struct {
	Errors    uint64
	LostAcks  uint64
	Blocks    uint64
	Forwarded uint64
}

// Gateway decorates an og.Gateway with seeded faults.
type Gateway struct {
	next og.Gateway
	eng  *engine
	now  func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time

	errs      uint64
	lostAcks  uint64
	blocks    uint64
	forwarded uint64
}

// NewGateway wraps next. now may be nil for wall clock.
func NewGateway(next og.Gateway, cfg Config, now func() time.Time) (*Gateway, error) {
	if next == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "chaos gateway next")
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Gateway{next: next, eng: eng, now: now}, nil
}

// Stats returns the injected fault counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Errors:    atomic.LoadUint64(&g.errs),
		LostAcks:  atomic.LoadUint64(&g.lostAcks),
		Blocks:    atomic.LoadUint64(&g.blocks),
		Forwarded: atomic.LoadUint64(&g.forwarded),
	}
}

func (g *Gateway) Price(ctx context.Context, symbol string) (float64, error) {
	if err := g.inject("price"); err != nil {
		return 0, err
	}
	return g.next.Price(ctx, symbol)
}

func (g *Gateway) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	if err := g.inject("klines"); err != nil {
		return nil, err
	}
	return g.next.Klines(ctx, symbol, interval, limit)
}

func (g *Gateway) OrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := g.inject("orderbook"); err != nil {
		return model.OrderBook{}, err
	}
	return g.next.OrderBook(ctx, symbol, depth)
}

func (g *Gateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderReport, error) {
	if err := g.inject("place"); err != nil {
		return model.OrderReport{}, err
	}
	report, err := g.next.PlaceOrder(ctx, req)
	if err == nil && g.eng.hit(g.eng.cfg.LostAckRate) {
		atomic.AddUint64(&g.lostAcks, 1)
		return model.OrderReport{}, errors.Wrapf(exception.ErrGatewayTransient, "chaos: lost ack for %s", req.ClientID)
	}
	return report, err
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error) {
	if err := g.inject("cancel"); err != nil {
		return model.OrderReport{}, err
	}
	return g.next.CancelOrder(ctx, symbol, clientID)
}

func (g *Gateway) QueryOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error) {
	if err := g.inject("query"); err != nil {
		return model.OrderReport{}, err
	}
	return g.next.QueryOrder(ctx, symbol, clientID)
}

func (g *Gateway) Balance(ctx context.Context, asset string) (float64, error) {
	if err := g.inject("balance"); err != nil {
		return 0, err
	}
	return g.next.Balance(ctx, asset)
}

func (g *Gateway) Filters(ctx context.Context, symbol string) (model.SymbolFilters, error) {
	if err := g.inject("filters"); err != nil {
		return model.SymbolFilters{}, err
	}
	return g.next.Filters(ctx, symbol)
}

func (g *Gateway) inject(op string) error {
	now := g.now()
	g.mu.Lock()
	until := g.blockedUntil
	if now.Before(until) {
		g.mu.Unlock()
		return errors.NewBlocked(until, "chaos")
	}
	if g.eng.hit(g.eng.cfg.BlockRate) {
		g.blockedUntil = now.Add(g.eng.cfg.BlockDuration)
		until = g.blockedUntil
		g.mu.Unlock()
		atomic.AddUint64(&g.blocks, 1)
		return errors.NewBlocked(until, "chaos")
	}
	g.mu.Unlock()

	if g.eng.hit(g.eng.cfg.ErrorRate) {
		atomic.AddUint64(&g.errs, 1)
		return errors.Wrapf(exception.ErrGatewayTransient, "chaos: %s", op)
	}
	atomic.AddUint64(&g.forwarded, 1)
	return nil
}

package grid

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/journal"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const maxPostRounds = 3

var ErrOrdersPending = errors.New("grid: orders still open")

var _ worker.Strategy = (*Strategy)(nil)

// Strategy runs a bounded limit-order ladder on one reservation.
type Strategy struct {
	body    Body
	filters *model.SymbolFilters
	price   float64
	reason  string
}

// New creates an inactive grid from the worker params.
func New(cfg worker.Config) (*Strategy, error) {
	p, err := ParseParams(cfg.Params)
	if err != nil {
		return nil, err
	}
	return &Strategy{body: Body{Phase: PhaseStable, Params: p}}, nil
}

// Build creates a grid worker.
func Build(cfg worker.Config, env worker.Env) (*worker.Runner, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return worker.NewRunner(cfg, env, s)
}

func (s *Strategy) State() string {
	switch {
	case s.body.Liquidation != nil:
		return "liquidating"
	case !s.body.Active:
		return "idle"
	default:
		return string(s.body.Phase)
	}
}

func (s *Strategy) Body() any { return s.body }

// Snapshot returns a copy of the checkpointed state.
func (s *Strategy) Snapshot() Body {
	b := s.body
	b.Levels = append([]Level(nil), s.body.Levels...)
	b.Inventory = append([]state.Lot(nil), s.body.Inventory...)
	return b
}

func (s *Strategy) Flat() bool {
	b := s.body
	return b.OpenOrders() == 0 && len(b.Inventory) == 0
}

func (s *Strategy) Describe(st *worker.Status) {
	b := s.body
	st.Price = s.price
	st.Position = b.position()
	st.Unrealized = st.Position.Unrealized(s.price)
	st.OpenOrders = b.OpenOrders()
	st.LastReason = s.reason
	st.Params = b.Params
	st.Metrics = b.Metrics.Summary()
}

// Tune merges a JSON patch into the params. Range changes apply on the next rebalance.
func (s *Strategy) Tune(patch []byte) error {
	p := s.body.Params
	// unmarshal writes through a shared pointer
	if p.AutoRebalance != nil {
		on := *p.AutoRebalance
		p.AutoRebalance = &on
	}
	if err := sonic.Unmarshal(patch, &p); err != nil {
		return errors.Wrapf(exception.ErrInvalidParams, "grid tune: %v", err)
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	s.body.Params = p
	return nil
}

// Restore decodes the body and re-derives the reservation against the allocator.
func (s *Strategy) Restore(ctx context.Context, c *worker.Cycle, raw []byte) error {
	var b Body
	if err := sonic.Unmarshal(raw, &b); err != nil {
		return errors.Wrapf(exception.ErrCheckpointCorrupt, "grid body: %v", err)
	}
	if b.Phase == "" {
		b.Phase = PhaseStable
	}
	b.Params = b.Params.withDefaults()
	s.body = b

	id, pool := c.Config.ID, c.Config.PoolID
	res, held := c.Capital.Holding(id, pool)
	switch {
	case !b.Active && s.Flat() && held:
		logs.Infof("grid %s: releasing orphan reservation %s", id, res.Amount)
		if err := c.Capital.Release(ctx, id, pool, decimal.Zero); err != nil {
			return err
		}
		s.body.Reserved = 0
	case held:
		s.body.Reserved = res.Amount.InexactFloat64()
	case b.Reserved > 0:
		grant, err := c.Capital.Adopt(ctx, capital.Reservation{
			ID:           uuid.New().String(),
			WorkerID:     id,
			PoolID:       pool,
			Amount:       decimal.NewFromFloat(b.Reserved),
			AutoCompound: c.Config.AutoCompound,
			CreatedAt:    c.Now,
		})
		if err != nil {
			return err
		}
		if !grant.Granted {
			logs.Errorf("grid %s: reservation %.2f could not be re-adopted: %s", id, b.Reserved, grant.Reason)
		}
	}
	return nil
}

func (s *Strategy) Step(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	if err := s.loadFilters(ctx, c); err != nil {
		return err
	}
	if b.Liquidation != nil {
		return s.PanicClose(ctx, c)
	}
	price, err := c.Gateway.Price(ctx, c.Config.Symbol)
	if err != nil {
		return err
	}
	s.price = price

	if !b.Active {
		return s.open(ctx, c, price)
	}
	if b.Phase == PhaseRebalancing {
		return s.rebalance(ctx, c, price)
	}
	if err := s.reconcile(ctx, c); err != nil {
		return err
	}
	if s.outOfRange(price) {
		if !b.Params.Rebalances() {
			s.reason = fmt.Sprintf("price %.4f outside range %.4f-%.4f", price, b.Lower, b.Upper)
			return s.post(ctx, c)
		}
		return s.startRebalance(ctx, c, price)
	}
	s.replenish(c, price)
	s.reason = fmt.Sprintf("stable %d open, realized %.4f", b.OpenOrders(), b.Realized)
	return s.post(ctx, c)
}

// PanicClose cancels every level, market-sells the inventory and releases the
// reservation with the realized profit. A crash midway resumes from Step.
func (s *Strategy) PanicClose(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	if err := s.loadFilters(ctx, c); err != nil {
		return err
	}
	if b.Liquidation == nil {
		if err := s.cancelAll(ctx, c); err != nil {
			return err
		}
		qty := 0.0
		for _, lot := range b.Inventory {
			qty += lot.Qty
		}
		qty = model.RoundDown(qty, s.filterValues().StepSize)
		if qty > 1e-12 {
			price, err := c.Gateway.Price(ctx, c.Config.Symbol)
			if err != nil {
				return err
			}
			s.price = price
			in, err := og.NewIntent(c.Config.Symbol, enum.OrderSideSell, enum.OrderTypeMarket, qty, 0, price, c.Now)
			if err != nil {
				return err
			}
			b.Liquidation = &in
			logs.Infof("grid %s: panic liquidation qty=%.6f price=%.4f", c.Config.ID, qty, price)
			if err := c.Save(ctx); err != nil {
				return err
			}
		}
	}
	if b.Liquidation != nil {
		if err := og.Sync(ctx, c.Gateway, b.Liquidation, c.Now); err != nil {
			return err
		}
		if !b.Liquidation.IsTerminal() {
			return errors.Wrapf(ErrOrdersPending, "liquidation %s is %s", b.Liquidation.ID, b.Liquidation.State)
		}
		if err := s.foldLiquidation(ctx, c); err != nil {
			return err
		}
	}
	return s.close(ctx, c)
}

func (s *Strategy) loadFilters(ctx context.Context, c *worker.Cycle) error {
	if s.filters != nil {
		return nil
	}
	f, err := c.Gateway.Filters(ctx, c.Config.Symbol)
	if err != nil {
		return err
	}
	s.filters = &f
	return nil
}

func (s *Strategy) filterValues() model.SymbolFilters {
	if s.filters == nil {
		return model.SymbolFilters{}
	}
	return *s.filters
}

// open reserves the grid capital and lays out the first ladder.
func (s *Strategy) open(ctx context.Context, c *worker.Cycle, price float64) error {
	b := &s.body
	p := b.Params
	plan, err := s.plan(ctx, c, price, false)
	if err != nil {
		return err
	}
	lad, err := buildLadder(plan, price, p.Capital, p.FeeRate, p.EntryBuffer, s.filterValues())
	if err != nil {
		return err
	}
	grant, err := c.Capital.Reserve(ctx, capital.Request{
		WorkerID:     c.Config.ID,
		PoolID:       c.Config.PoolID,
		Amount:       decimal.NewFromFloat(p.Capital),
		AutoCompound: c.Config.AutoCompound,
	})
	if err != nil {
		return err
	}
	if !grant.Granted {
		s.reason = "capital denied: " + grant.Reason.String()
		logs.Infof("grid %s: open denied, %s", c.Config.ID, grant.Reason)
		return nil
	}
	b.Active = true
	b.Reserved = p.Capital
	b.Realized = 0
	b.Phase = PhaseStable
	s.apply(plan, lad)
	s.replenish(c, price)
	logs.Infof("grid %s: opened %.4f-%.4f x%d per level %.2f", c.Config.ID, b.Lower, b.Upper, b.Count, b.PerLevel)
	s.reason = "grid opened"
	return s.post(ctx, c)
}

// plan picks the next range. An explicit range is used for the first ladder,
// a rebalance keeps the current width unless VolatilitySpacing is set.
func (s *Strategy) plan(ctx context.Context, c *worker.Cycle, price float64, rebalance bool) (Plan, error) {
	b := &s.body
	p := b.Params
	switch {
	case !rebalance && p.Explicit():
		return Plan{Center: price, Lower: p.Lower, Upper: p.Upper, Count: p.Levels}, nil
	case rebalance && !p.VolatilitySpacing && b.Center > 0:
		return centered(price, (b.Upper-b.Lower)/b.Center, b.Count, p.BuyShare), nil
	}
	klines, err := c.Gateway.Klines(ctx, c.Config.Symbol, c.Config.KlineInterval, c.Config.KlineLimit)
	if err != nil {
		return Plan{}, err
	}
	vol, ok := c.Feed.Volatility(klines, p.ATRPeriod)
	if !ok {
		return Plan{}, errors.Wrapf(exception.ErrNoMarketData, "grid %s volatility over %d klines", c.Config.ID, len(klines))
	}
	pct, count := p.autoRange(vol)
	if p.Levels > 0 && !p.VolatilitySpacing {
		count = p.Levels
	}
	logs.Infof("grid %s: volatility %.4f range ±%.2f%% levels %d", c.Config.ID, vol, pct*100, count)
	return centered(price, 2*pct, count, p.BuyShare), nil
}

func (s *Strategy) apply(plan Plan, lad ladder) {
	b := &s.body
	b.Center, b.Lower, b.Upper, b.Count = plan.Center, plan.Lower, plan.Upper, plan.Count
	b.Step = lad.step
	b.PerLevel = lad.perLevel
	b.Levels = lad.levels
}

func (s *Strategy) outOfRange(price float64) bool {
	b := s.body
	tol := b.Params.RebalanceTolerance
	return price < b.Lower*(1-tol) || price > b.Upper*(1+tol)
}

// reconcile queries every level with an order and folds the terminal ones,
// sells upward and buys downward so a cascade of fills finds its counter
// levels free. Counter orders created here are sent by post.
func (s *Strategy) reconcile(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	var syncErr error
	for i := range b.Levels {
		if b.Levels[i].Intent == nil {
			continue
		}
		if err := og.Sync(ctx, c.Gateway, b.Levels[i].Intent, c.Now); err != nil {
			syncErr = err
			break
		}
	}
	for i := range b.Levels {
		if in := b.Levels[i].Intent; in != nil && in.Side == enum.OrderSideSell {
			s.fold(ctx, c, i, true)
		}
	}
	for i := len(b.Levels) - 1; i >= 0; i-- {
		if in := b.Levels[i].Intent; in != nil && in.Side == enum.OrderSideBuy {
			s.fold(ctx, c, i, true)
		}
	}
	return syncErr
}

// post checkpoints pending intents, then sends them. Orders that fill on
// arrival are folded and their counters sent in the next round.
func (s *Strategy) post(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	for round := 0; round < maxPostRounds; round++ {
		pending := make([]int, 0)
		for i, lv := range b.Levels {
			if lv.Intent != nil && lv.Intent.State == og.IntentPending {
				pending = append(pending, i)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if err := c.Save(ctx); err != nil {
			return err
		}
		for _, i := range pending {
			if err := og.Sync(ctx, c.Gateway, b.Levels[i].Intent, c.Now); err != nil {
				return err
			}
			s.fold(ctx, c, i, true)
		}
	}
	return nil
}

// fold updates a level from its intent. A terminal intent is removed and
// its fill applied; with counters the opposite order is created one step away.
func (s *Strategy) fold(ctx context.Context, c *worker.Cycle, i int, counters bool) {
	b := &s.body
	lv := &b.Levels[i]
	if lv.Intent == nil {
		return
	}
	in := *lv.Intent
	if !in.IsTerminal() {
		lv.Status = LevelResting
		if in.State == og.IntentPending {
			lv.Status = LevelPending
		}
		return
	}
	c.Metrics.IncOrder(c.Config.ID, in.Side.String(), in.State.String())
	lv.Intent = nil

	switch in.Side {
	case enum.OrderSideBuy:
		lv.Qty, lv.Cost = 0, 0
		if in.ExecutedQty <= 0 {
			lv.Status = LevelIdle
			return
		}
		b.BuyFills++
		b.Fees += in.Fee
		lot := state.Lot{Price: in.AvgPrice, Qty: in.ExecutedQty, Fee: in.Fee, FilledAt: c.Now}
		lv.Status = LevelFilled
		logs.Infof("grid %s: buy filled level %d price=%.4f qty=%.6f", c.Config.ID, i, in.AvgPrice, in.ExecutedQty)
		c.Notify(notify.EventGridFill, notify.Payload{"side": "buy", "level": i, "price": in.AvgPrice, "qty": in.ExecutedQty})
		if counters {
			s.counterSell(c, i+1, lot)
		} else {
			lv.Status = LevelIdle
			b.Inventory = append(b.Inventory, lot)
		}
	case enum.OrderSideSell:
		qty, cost, openedAt := lv.Qty, lv.Cost, lv.OpenedAt
		lv.Qty, lv.Cost = 0, 0
		lv.Status = LevelIdle
		if in.ExecutedQty <= 0 {
			b.Inventory = append(b.Inventory, state.Lot{Price: cost / qty, Qty: qty, FilledAt: openedAt})
			return
		}
		basis := cost * in.ExecutedQty / qty
		pnl := in.Notional() - in.Fee - basis
		b.SellFills++
		b.Fees += in.Fee
		b.Realized += pnl
		if left := qty - in.ExecutedQty; left > 1e-12 {
			b.Inventory = append(b.Inventory, state.Lot{Price: (cost - basis) / left, Qty: left, FilledAt: openedAt})
		}
		b.Metrics.RecordTrade(pnl, basis, in.Fee, c.Now.Sub(openedAt))
		c.Metrics.SetRealizedPnL(c.Config.ID, b.Metrics.RealizedPnL)
		c.Record(ctx, journal.Trade{
			EntryPrice: basis / in.ExecutedQty,
			ExitPrice:  in.AvgPrice,
			Qty:        in.ExecutedQty,
			PnL:        pnl,
			Fees:       in.Fee,
			Reason:     "grid",
			OpenedAt:   openedAt,
			ClosedAt:   c.Now,
		})
		logs.Infof("grid %s: sell filled level %d price=%.4f qty=%.6f pnl=%.4f", c.Config.ID, i, in.AvgPrice, in.ExecutedQty, pnl)
		c.Notify(notify.EventGridFill, notify.Payload{"side": "sell", "level": i, "price": in.AvgPrice, "qty": in.ExecutedQty, "pnl": pnl})
		if counters {
			s.counterBuy(c, i-1)
		}
	}
}

// counterSell posts the lot one level above, or keeps it as inventory when
// that level is out of range or busy.
func (s *Strategy) counterSell(c *worker.Cycle, j int, lot state.Lot) {
	b := &s.body
	if j >= len(b.Levels) || b.Levels[j].Intent != nil || !s.postSell(c, j, lot) {
		b.Inventory = append(b.Inventory, lot)
	}
}

func (s *Strategy) counterBuy(c *worker.Cycle, j int) {
	b := &s.body
	if j < 0 || b.Levels[j].Intent != nil || b.Levels[j].Disabled {
		return
	}
	s.postBuy(c, j)
}

// postBuy creates a pending buy sized to the per-level capital if the
// reservation still covers it.
func (s *Strategy) postBuy(c *worker.Cycle, j int) bool {
	b := &s.body
	lv := &b.Levels[j]
	f := s.filterValues()
	fee := b.Params.FeeRate
	qty := levelQty(b.PerLevel, lv.Price, fee, f.StepSize)
	if qty <= 0 || qty*lv.Price < f.MinNotional {
		return false
	}
	if b.Committed()+qty*lv.Price*(1+fee) > b.Reserved+1e-9 {
		return false
	}
	in, err := og.NewIntent(c.Config.Symbol, enum.OrderSideBuy, enum.OrderTypeLimit, qty, lv.Price, lv.Price, c.Now)
	if err != nil {
		logs.Errorf("grid %s: buy level %d, err: %+v", c.Config.ID, j, err)
		return false
	}
	lv.Side = enum.OrderSideBuy
	lv.Qty = qty
	lv.Cost = 0
	lv.Status = LevelPending
	lv.Intent = &in
	return true
}

func (s *Strategy) postSell(c *worker.Cycle, j int, lot state.Lot) bool {
	b := &s.body
	lv := &b.Levels[j]
	f := s.filterValues()
	qty := model.RoundDown(lot.Qty, f.StepSize)
	if qty <= 0 || qty*lv.Price < f.MinNotional {
		return false
	}
	in, err := og.NewIntent(c.Config.Symbol, enum.OrderSideSell, enum.OrderTypeLimit, qty, lv.Price, lv.Price, c.Now)
	if err != nil {
		logs.Errorf("grid %s: sell level %d, err: %+v", c.Config.ID, j, err)
		return false
	}
	lv.Side = enum.OrderSideSell
	lv.Qty = qty
	lv.Cost = lot.Price*lot.Qty + lot.Fee
	lv.OpenedAt = lot.FilledAt
	lv.Status = LevelPending
	lv.Intent = &in
	return true
}

// replenish re-posts idle levels: buys below the price while the reservation
// allows, inventory sells above it at no less than break-even.
func (s *Strategy) replenish(c *worker.Cycle, price float64) {
	b := &s.body
	buffer := b.Params.EntryBuffer
	for i := range b.Levels {
		lv := b.Levels[i]
		if lv.Intent == nil && s.buyable(i) && !lv.Disabled && lv.Price < price*(1-buffer) {
			s.postBuy(c, i)
		}
	}

	lots := b.Inventory
	b.Inventory = make([]state.Lot, 0, len(lots))
	for _, lot := range lots {
		breakEven := (lot.Price*lot.Qty + lot.Fee) / lot.Qty * (1 + b.Params.FeeRate)
		placed := false
		for i := range b.Levels {
			lv := b.Levels[i]
			if lv.Intent != nil || lv.Status != LevelIdle || lv.Price <= price*(1+buffer) || lv.Price < breakEven {
				continue
			}
			placed = s.postSell(c, i, lot)
			break
		}
		if !placed {
			b.Inventory = append(b.Inventory, lot)
		}
	}
}

// buyable reports whether level i may take a new buy: it is idle, or its
// earlier buy no longer has a sell resting one level above.
func (s *Strategy) buyable(i int) bool {
	b := &s.body
	switch b.Levels[i].Status {
	case LevelIdle:
		return true
	case LevelFilled:
		return i+1 >= len(b.Levels) || !b.Levels[i+1].Live() || b.Levels[i+1].Intent.Side != enum.OrderSideSell
	default:
		return false
	}
}

// cancelAll withdraws every live level and returns unsold quantity to inventory.
func (s *Strategy) cancelAll(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	for i := range b.Levels {
		lv := &b.Levels[i]
		if lv.Intent == nil {
			continue
		}
		if err := og.Cancel(ctx, c.Gateway, lv.Intent, c.Now); err != nil {
			return err
		}
		if !lv.Intent.IsTerminal() {
			return errors.Wrapf(ErrOrdersPending, "level %d intent %s is %s", i, lv.Intent.ID, lv.Intent.State)
		}
		s.fold(ctx, c, i, false)
	}
	return nil
}

func (s *Strategy) startRebalance(ctx context.Context, c *worker.Cycle, price float64) error {
	b := &s.body
	plan, err := s.plan(ctx, c, price, true)
	if err != nil {
		return err
	}
	b.Plan = &plan
	b.Phase = PhaseRebalancing
	logs.Infof("grid %s: rebalance %.4f-%.4f to %.4f-%.4f at %.4f", c.Config.ID, b.Lower, b.Upper, plan.Lower, plan.Upper, price)
	c.Notify(notify.EventRebalance, notify.Payload{
		"price":    price,
		"oldLower": b.Lower,
		"oldUpper": b.Upper,
		"lower":    plan.Lower,
		"upper":    plan.Upper,
	})
	if err := c.Save(ctx); err != nil {
		return err
	}
	return s.rebalance(ctx, c, price)
}

// rebalance runs the remaining steps of the plan: cancel, rebuild, post.
func (s *Strategy) rebalance(ctx context.Context, c *worker.Cycle, price float64) error {
	b := &s.body
	plan := b.Plan
	if plan == nil {
		b.Phase = PhaseStable
		return nil
	}
	s.reason = fmt.Sprintf("rebalancing to %.4f-%.4f", plan.Lower, plan.Upper)
	if !plan.Cancelled {
		if err := s.cancelAll(ctx, c); err != nil {
			return err
		}
		plan.Cancelled = true
		if err := c.Save(ctx); err != nil {
			return err
		}
	}
	if !plan.Built {
		p := b.Params
		lad, err := buildLadder(*plan, price, p.Capital, p.FeeRate, p.EntryBuffer, s.filterValues())
		if err != nil {
			return err
		}
		s.apply(*plan, lad)
		s.replenish(c, price)
		plan.Built = true
	}
	if err := s.post(ctx, c); err != nil {
		return err
	}
	b.Phase = PhaseStable
	b.Plan = nil
	b.Rebalances++
	logs.Infof("grid %s: rebalanced %.4f-%.4f, inventory lots %d", c.Config.ID, b.Lower, b.Upper, len(b.Inventory))
	return c.Save(ctx)
}

func (s *Strategy) foldLiquidation(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	in := *b.Liquidation
	b.Liquidation = nil
	c.Metrics.IncOrder(c.Config.ID, in.Side.String(), in.State.String())
	qty, cost := b.Holdings()
	if in.ExecutedQty <= 0 {
		return errors.Wrapf(exception.ErrOrderRejected, "grid liquidation %s without fill", in.State)
	}
	b.Metrics.RecordSlippage(in.Slippage())
	// unsold dust is written off with the lot cost
	pnl := in.Notional() - in.Fee - cost
	b.Realized += pnl
	b.Fees += in.Fee
	b.SellFills++
	b.Inventory = nil
	b.Metrics.RecordTrade(pnl, cost, in.Fee, 0)
	c.Metrics.SetRealizedPnL(c.Config.ID, b.Metrics.RealizedPnL)
	c.Record(ctx, journal.Trade{
		EntryPrice: cost / qty,
		ExitPrice:  in.AvgPrice,
		Qty:        in.ExecutedQty,
		PnL:        pnl,
		Fees:       in.Fee,
		Reason:     "panic",
		OpenedAt:   c.Now,
		ClosedAt:   c.Now,
	})
	logs.Infof("grid %s: liquidated qty=%.6f price=%.4f pnl=%.4f", c.Config.ID, in.ExecutedQty, in.AvgPrice, pnl)
	return nil
}

// close releases the reservation with the realized profit and resets the ladder.
func (s *Strategy) close(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	err := c.Capital.Release(ctx, c.Config.ID, c.Config.PoolID, decimal.NewFromFloat(b.Realized))
	if err != nil && !errors.Is(err, exception.ErrReservationMissing) {
		return err
	}
	logs.Infof("grid %s: closed, realized %.4f over %d sells", c.Config.ID, b.Realized, b.SellFills)
	b.Active = false
	b.Phase = PhaseStable
	b.Plan = nil
	b.Levels = nil
	b.Inventory = nil
	b.Reserved = 0
	b.Realized = 0
	b.Center, b.Lower, b.Upper, b.Step, b.PerLevel, b.Count = 0, 0, 0, 0, 0, 0
	s.reason = "grid closed"
	return nil
}

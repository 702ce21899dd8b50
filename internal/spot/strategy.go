package spot

import (
	"context"
	"fmt"
	"time"

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
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

var ErrPanicPending = errors.New("spot: panic close order still open")

var _ worker.Strategy = (*Strategy)(nil)

// Strategy is the directional spot state machine.
type Strategy struct {
	body    Body
	filters *model.SymbolFilters
	price   float64
	reason  string
}

// New creates an idle strategy from the worker params.
func New(cfg worker.Config) (*Strategy, error) {
	p, err := ParseParams(cfg.Params)
	if err != nil {
		return nil, err
	}
	return &Strategy{body: Body{State: StateIdle, Params: p}}, nil
}

// Build creates a spot worker.
func Build(cfg worker.Config, env worker.Env) (*worker.Runner, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return worker.NewRunner(cfg, env, s)
}

func (s *Strategy) State() string {
	if s.body.State == StateScaling {
		return fmt.Sprintf("%s(%d)", StateScaling, s.body.Depth)
	}
	return string(s.body.State)
}

func (s *Strategy) Body() any { return s.body }

// Snapshot returns a copy of the checkpointed state.
func (s *Strategy) Snapshot() Body { return s.body }

func (s *Strategy) Flat() bool {
	b := s.body
	return (b.State == StateIdle || b.State == StateCooldown) && b.Intent == nil && b.Position.IsFlat()
}

func (s *Strategy) Describe(st *worker.Status) {
	b := s.body
	st.Price = s.price
	st.Position = b.Position
	st.Unrealized = b.Position.Unrealized(s.price)
	if b.Intent != nil && !b.Intent.IsTerminal() {
		st.OpenOrders = 1
	}
	st.LastReason = s.reason
	st.Params = b.Params
	st.Metrics = b.Metrics.Summary()
}

// Tune merges a JSON patch into the current params.
func (s *Strategy) Tune(patch []byte) error {
	p := s.body.Params
	if err := sonic.Unmarshal(patch, &p); err != nil {
		return errors.Wrapf(exception.ErrInvalidParams, "spot tune: %v", err)
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	s.body.Params = p
	return nil
}

// Restore decodes the body and re-derives cooldown expiry and reservation
// validity against the allocator.
func (s *Strategy) Restore(ctx context.Context, c *worker.Cycle, raw []byte) error {
	var b Body
	if err := sonic.Unmarshal(raw, &b); err != nil {
		return errors.Wrapf(exception.ErrCheckpointCorrupt, "spot body: %v", err)
	}
	if b.State == "" {
		b.State = StateIdle
	}
	b.Params = b.Params.withDefaults()
	if b.State == StateCooldown && !c.Now.Before(b.CooldownUntil) {
		b.State = StateIdle
		b.CooldownUntil = time.Time{}
	}
	s.body = b

	id, pool := c.Config.ID, c.Config.PoolID
	res, held := c.Capital.Holding(id, pool)
	switch {
	case s.Flat() && held:
		logs.Infof("spot %s: releasing orphan reservation %s", id, res.Amount)
		if err := c.Capital.Release(ctx, id, pool, decimal.Zero); err != nil {
			return err
		}
		s.body.Reserved = 0
	case s.Flat():
		s.body.Reserved = 0
	case !held && b.Reserved > 0:
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
			logs.Errorf("spot %s: reservation %.2f could not be re-adopted: %s", id, b.Reserved, grant.Reason)
		}
	case held:
		s.body.Reserved = res.Amount.InexactFloat64()
	}
	return nil
}

func (s *Strategy) Step(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	if err := s.loadFilters(ctx, c); err != nil {
		return err
	}
	if b.Intent != nil {
		_, err := s.resolve(ctx, c)
		return err
	}
	if b.State == StateCooldown && !c.Now.Before(b.CooldownUntil) {
		logs.Infof("spot %s: cooldown over", c.Config.ID)
		b.State = StateIdle
		b.CooldownUntil = time.Time{}
	}

	price, err := c.Gateway.Price(ctx, c.Config.Symbol)
	if err != nil {
		return err
	}
	s.price = price

	switch b.State {
	case StateEntering:
		// an entry without intent never reached the exchange
		return s.abandonEntry(ctx, c)
	case StateExiting:
		return s.exit(ctx, c, price, b.ExitReason)
	}

	klines, err := c.Gateway.Klines(ctx, c.Config.Symbol, c.Config.KlineInterval, c.Config.KlineLimit)
	if err != nil {
		return err
	}
	ind, err := signal.Compute(c.Feed, c.Config.Symbol, price, klines, b.Params.Periods)
	ready := err == nil
	if ready && b.Params.AutoTune {
		b.Params = AutoTune(b.Params, ind.Volatility, b.State, ind.Sentiment)
	}

	switch b.State {
	case StateIdle:
		return s.enter(ctx, c, price, ind, ready)
	case StateCooldown:
		s.reason = "cooldown active"
		return nil
	default:
		return s.manage(ctx, c, price, ind, ready)
	}
}

// PanicClose cancels an in-flight order, sells the position and releases capital.
func (s *Strategy) PanicClose(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	if err := s.loadFilters(ctx, c); err != nil {
		return err
	}
	if b.Intent != nil {
		if b.Purpose == PurposeExit {
			if err := og.Sync(ctx, c.Gateway, b.Intent, c.Now); err != nil {
				return err
			}
		} else if err := og.Cancel(ctx, c.Gateway, b.Intent, c.Now); err != nil {
			return err
		}
		if !b.Intent.IsTerminal() {
			return errors.Wrapf(ErrPanicPending, "intent %s is %s", b.Intent.ID, b.Intent.State)
		}
		if err := s.fold(ctx, c); err != nil {
			return err
		}
	}
	if b.State == StateIdle || b.State == StateCooldown {
		return nil
	}
	price, err := c.Gateway.Price(ctx, c.Config.Symbol)
	if err != nil {
		return err
	}
	s.price = price
	if err := s.exit(ctx, c, price, ExitPanic); err != nil {
		return err
	}
	if b.State != StateIdle {
		return errors.Wrapf(ErrPanicPending, "state %s", b.State)
	}
	return nil
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

// entryReason returns why an entry is rejected, or "" when every filter passes.
func (s *Strategy) entryReason(price float64, ind signal.Indicators, ready bool) string {
	p := s.body.Params
	if !ready {
		return "warming up"
	}
	deepDip := ind.RSI < p.DeepDipRSI
	if !p.DisableTrend && ind.HasTrend && price <= ind.MATrend && !deepDip {
		return fmt.Sprintf("trend filter: price %.4f below trend ma %.4f", price, ind.MATrend)
	}
	if ind.RSI >= p.RSIEntry {
		return fmt.Sprintf("rsi %.2f above entry %.2f", ind.RSI, p.RSIEntry)
	}
	if !p.DisableMACD && ind.HasMACD && ind.MACDHist < 0 && ind.RSI > p.MACDRSIFloor && !deepDip {
		return fmt.Sprintf("macd bearish: hist %.6f", ind.MACDHist)
	}
	if ind.MAFast <= ind.MASlow {
		return fmt.Sprintf("ma cross bearish: fast %.4f slow %.4f", ind.MAFast, ind.MASlow)
	}
	if p.MinVolumeRatio > 0 && ind.VolumeRatio < p.MinVolumeRatio {
		return fmt.Sprintf("volume ratio %.2f below %.2f", ind.VolumeRatio, p.MinVolumeRatio)
	}
	return ""
}

func (s *Strategy) enter(ctx context.Context, c *worker.Cycle, price float64, ind signal.Indicators, ready bool) error {
	b := &s.body
	if reason := s.entryReason(price, ind, ready); reason != "" {
		s.reason = reason
		return nil
	}
	amount := b.Params.EntryAmount
	qty := s.buyQty(amount, price)
	if qty <= 0 {
		s.reason = "entry amount below exchange minimum"
		return nil
	}
	grant, err := c.Capital.Reserve(ctx, capital.Request{
		WorkerID:     c.Config.ID,
		PoolID:       c.Config.PoolID,
		Amount:       decimal.NewFromFloat(amount),
		AutoCompound: c.Config.AutoCompound,
	})
	if err != nil {
		return err
	}
	if !grant.Granted {
		s.reason = "capital denied: " + grant.Reason.String()
		logs.Infof("spot %s: entry denied, %s", c.Config.ID, grant.Reason)
		return nil
	}
	b.Reserved = amount
	b.Round = Round{}
	if err := s.place(ctx, c, enum.OrderSideBuy, qty, price, PurposeEntry); err != nil {
		return err
	}
	b.State = StateEntering
	s.reason = fmt.Sprintf("entry signal rsi %.2f", ind.RSI)
	logs.Infof("spot %s: entry signal price=%.4f rsi=%.2f qty=%.6f", c.Config.ID, price, ind.RSI, qty)
	return s.persistAndSync(ctx, c)
}

func (s *Strategy) manage(ctx context.Context, c *worker.Cycle, price float64, ind signal.Indicators, ready bool) error {
	b := &s.body
	p := b.Params
	if price > b.Peak {
		b.Peak = price
	}
	avg := b.Position.AvgPrice
	s.reason = fmt.Sprintf("holding avg %.4f peak %.4f", avg, b.Peak)

	if ready && b.Depth < p.ScaleMaxDepth && price <= avg*(1-p.ScaleDrawdownPct) && ind.RSI < p.ScaleRSI {
		placed, err := s.scale(ctx, c, price)
		if placed || err != nil {
			return err
		}
	}
	if reason := s.exitReason(price); reason != "" {
		return s.exit(ctx, c, price, reason)
	}
	return nil
}

func (s *Strategy) exitReason(price float64) ExitReason {
	b := &s.body
	p := b.Params
	avg := b.Position.AvgPrice
	if price <= avg*(1-p.StopLossPct) {
		return ExitStopLoss
	}
	if p.TakeProfitPct > 0 && price >= avg*(1+p.TakeProfitPct) {
		return ExitTakeProfit
	}
	if !b.Trailing && b.Peak >= avg*(1+p.TrailingActivationPct) {
		b.Trailing = true
	}
	breakEven := b.Position.BreakEven(p.FeeRate) * (1 + p.ExitSlippagePct)
	if b.Trailing && b.Peak > breakEven && price > breakEven && price <= b.Peak*(1-p.TrailingCallbackPct) {
		return ExitTrailing
	}
	return ""
}

func (s *Strategy) scale(ctx context.Context, c *worker.Cycle, price float64) (bool, error) {
	b := &s.body
	amount := b.Params.ScaleMultiplier * b.Position.LastFill
	qty := s.buyQty(amount, price)
	if qty <= 0 {
		s.reason = "scale amount below exchange minimum"
		return false, nil
	}
	grant, err := c.Capital.Extend(ctx, c.Config.ID, c.Config.PoolID, decimal.NewFromFloat(amount))
	if err != nil {
		return false, err
	}
	if !grant.Granted {
		s.reason = "scale denied: " + grant.Reason.String()
		return false, nil
	}
	b.Reserved = grant.Reservation.Amount.InexactFloat64()
	if err := s.place(ctx, c, enum.OrderSideBuy, qty, price, PurposeScale); err != nil {
		return false, err
	}
	b.Depth++
	b.State = StateScaling
	logs.Infof("spot %s: scaling to depth %d price=%.4f amount=%.2f", c.Config.ID, b.Depth, price, amount)
	return true, s.persistAndSync(ctx, c)
}

func (s *Strategy) exit(ctx context.Context, c *worker.Cycle, price float64, reason ExitReason) error {
	b := &s.body
	qty := s.sellQty()
	b.State = StateExiting
	b.ExitReason = reason
	if qty <= 0 {
		return s.close(ctx, c)
	}
	if b.Round.EntryPrice == 0 {
		b.Round.EntryPrice = b.Position.AvgPrice
	}
	if err := s.place(ctx, c, enum.OrderSideSell, qty, price, PurposeExit); err != nil {
		return err
	}
	logs.Infof("spot %s: exit %s price=%.4f qty=%.6f", c.Config.ID, reason, price, qty)
	return s.persistAndSync(ctx, c)
}

func (s *Strategy) place(_ context.Context, c *worker.Cycle, side enum.OrderSide, qty, price float64, purpose Purpose) error {
	intent, err := og.NewIntent(c.Config.Symbol, side, enum.OrderTypeMarket, qty, 0, price, c.Now)
	if err != nil {
		return err
	}
	s.body.Intent = &intent
	s.body.Purpose = purpose
	return nil
}

// persistAndSync checkpoints the intent before it is sent.
func (s *Strategy) persistAndSync(ctx context.Context, c *worker.Cycle) error {
	if err := c.Save(ctx); err != nil {
		return err
	}
	_, err := s.resolve(ctx, c)
	return err
}

func (s *Strategy) resolve(ctx context.Context, c *worker.Cycle) (bool, error) {
	if err := og.Sync(ctx, c.Gateway, s.body.Intent, c.Now); err != nil {
		return false, err
	}
	if !s.body.Intent.IsTerminal() {
		return false, nil
	}
	return true, s.fold(ctx, c)
}

// fold applies a terminal intent to the position and moves the state machine.
func (s *Strategy) fold(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	in := *b.Intent
	purpose := b.Purpose
	b.Intent = nil
	b.Purpose = ""
	c.Metrics.IncOrder(c.Config.ID, in.Side.String(), in.State.String())
	if in.ExecutedQty > 0 {
		b.Metrics.RecordSlippage(in.Slippage())
	}

	switch purpose {
	case PurposeEntry, PurposeScale:
		if in.ExecutedQty <= 0 {
			logs.Infof("spot %s: %s order %s without fill", c.Config.ID, purpose, in.State)
			if purpose == PurposeEntry {
				return s.abandonEntry(ctx, c)
			}
			b.Depth--
			b.State = StateScaling
			if b.Depth <= 0 {
				b.Depth = 0
				b.State = StateHolding
			}
			return nil
		}
		b.Position.ApplyBuy(in.AvgPrice, in.ExecutedQty, in.Fee, c.Now)
		b.Round.Capital += in.Notional() + in.Fee
		b.Round.Fees += in.Fee
		b.Peak = in.AvgPrice
		b.Trailing = false
		payload := notify.Payload{"price": in.AvgPrice, "qty": in.ExecutedQty, "avg": b.Position.AvgPrice}
		if purpose == PurposeEntry {
			b.State = StateHolding
			b.Depth = 0
			logs.Infof("spot %s: entry filled qty=%.6f avg=%.4f", c.Config.ID, in.ExecutedQty, in.AvgPrice)
			c.Notify(notify.EventEntry, payload)
		} else {
			payload["depth"] = b.Depth
			logs.Infof("spot %s: scale %d filled qty=%.6f avg=%.4f", c.Config.ID, b.Depth, in.ExecutedQty, b.Position.AvgPrice)
			c.Notify(notify.EventScale, payload)
		}
	case PurposeExit:
		if in.ExecutedQty > 0 {
			b.Round.PnL += b.Position.ApplySell(in.AvgPrice, in.ExecutedQty, in.Fee)
			b.Round.Fees += in.Fee
			b.Round.ExitQty += in.ExecutedQty
			b.Round.ExitNotional += in.Notional()
		}
		if s.sellQty() <= 0 {
			return s.close(ctx, c)
		}
		logs.Infof("spot %s: exit %s left %.6f", c.Config.ID, in.State, b.Position.Qty)
	}
	return nil
}

func (s *Strategy) abandonEntry(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	if err := s.release(ctx, c, 0); err != nil {
		return err
	}
	b.State = StateIdle
	b.Reserved = 0
	s.reason = "entry not filled"
	return nil
}

// close finishes a round after the position is sold. It is safe to repeat.
func (s *Strategy) close(ctx context.Context, c *worker.Cycle) error {
	b := &s.body
	r := b.Round
	if err := s.release(ctx, c, r.PnL); err != nil {
		return err
	}
	hold := c.Now.Sub(b.Position.OpenedAt)
	b.Metrics.RecordTrade(r.PnL, r.Capital, r.Fees, hold)
	c.Metrics.SetRealizedPnL(c.Config.ID, b.Metrics.RealizedPnL)

	exitPrice := 0.0
	if r.ExitQty > 0 {
		exitPrice = r.ExitNotional / r.ExitQty
	}
	c.Record(ctx, journal.Trade{
		EntryPrice: r.EntryPrice,
		ExitPrice:  exitPrice,
		Qty:        r.ExitQty,
		PnL:        r.PnL,
		Fees:       r.Fees,
		Reason:     string(b.ExitReason),
		OpenedAt:   b.Position.OpenedAt,
		ClosedAt:   c.Now,
	})
	event := notify.EventExit
	if b.ExitReason == ExitStopLoss {
		event = notify.EventStopLoss
	}
	c.Notify(event, notify.Payload{"reason": string(b.ExitReason), "pnl": r.PnL, "price": exitPrice})
	logs.Infof("spot %s: closed %s pnl=%.4f hold=%s", c.Config.ID, b.ExitReason, r.PnL, hold)

	reason := b.ExitReason
	b.Position = state.Position{Realized: b.Position.Realized}
	b.Round = Round{}
	b.Reserved = 0
	b.Depth = 0
	b.Peak = 0
	b.Trailing = false
	b.ExitReason = ""
	b.State = StateIdle
	if reason == ExitStopLoss {
		b.State = StateCooldown
		b.CooldownUntil = c.Now.Add(time.Duration(b.Params.CooldownSeconds) * time.Second)
	}
	return nil
}

func (s *Strategy) release(ctx context.Context, c *worker.Cycle, pnl float64) error {
	err := c.Capital.Release(ctx, c.Config.ID, c.Config.PoolID, decimal.NewFromFloat(pnl))
	if err != nil && !errors.Is(err, exception.ErrReservationMissing) {
		return err
	}
	return nil
}

// buyQty sizes a market buy so its cost with fees and slippage stays inside amount.
func (s *Strategy) buyQty(amount, price float64) float64 {
	if price <= 0 || amount <= 0 {
		return 0
	}
	f := s.filterValues()
	qty := model.RoundDown(amount/(price*(1+2*s.body.Params.FeeRate)), f.StepSize)
	if qty <= 0 || qty*price < f.MinNotional {
		return 0
	}
	return qty
}

func (s *Strategy) sellQty() float64 {
	f := s.filterValues()
	qty := model.RoundDown(s.body.Position.Qty, f.StepSize)
	if qty <= 1e-12 {
		return 0
	}
	return qty
}

func (s *Strategy) filterValues() model.SymbolFilters {
	if s.filters == nil {
		return model.SymbolFilters{}
	}
	return *s.filters
}

package grid

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const (
	testSymbol = "BTCUSDT"
	testParams = `{"capital":1000,"lower":90,"upper":110,"levels":10}`
	autoParams = `{"capital":1000,"lower":90,"upper":110,"levels":10,"autoRebalance":true}`
)

var (
	testStart   = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	testFilters = model.SymbolFilters{TickSize: 0.01, StepSize: 0.0001, MinNotional: 10}
)

type fixture struct {
	t        *testing.T
	now      time.Time
	gw       *og.PaperGateway
	alloc    *capital.Allocator
	store    *state.MemoryStore
	notifier *notify.Memory
	journal  *journal.MemoryJournal
	env      worker.Env
	cfg      worker.Config
	strat    *Strategy
	runner   *worker.Runner
}

func newFixture(t *testing.T, params string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{t: t, now: testStart}
	f.gw = og.NewPaperGateway(og.PaperConfig{FeeRate: 0.001, Filters: testFilters}, func() time.Time { return f.now })
	f.gw.SetPrice(testSymbol, 100)
	f.alloc = capital.NewAllocator(state.NewMemoryStore(), nil)
	require.NoError(t, f.alloc.AddPool(ctx, "main", decimal.NewFromInt(2000)))
	f.store = state.NewMemoryStore()
	f.notifier = &notify.Memory{}
	f.journal = journal.NewMemoryJournal()
	f.env = worker.Env{
		Gateway:  f.gw,
		Feed:     &signal.StaticFeed{Vol: 0.03},
		Capital:  f.alloc,
		Store:    f.store,
		Notifier: f.notifier,
		Journal:  f.journal,
	}
	f.cfg = worker.Config{
		ID:     "grid-1",
		Symbol: testSymbol,
		Kind:   enum.StrategyGrid,
		PoolID: "main",
		Params: json.RawMessage(params),
	}.WithDefaults()

	var err error
	f.strat, err = New(f.cfg)
	require.NoError(t, err)
	f.runner, err = worker.NewRunner(f.cfg, f.env, f.strat)
	require.NoError(t, err)
	f.runner.Start()
	return f
}

func (f *fixture) tick(price float64) {
	f.t.Helper()
	f.gw.SetPrice(testSymbol, price)
	require.NoError(f.t, f.runner.Tick(context.Background(), f.now))
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// restart rebuilds the worker from its last checkpoint.
func (f *fixture) restart() {
	f.t.Helper()
	ctx := context.Background()
	rec, err := f.store.Load(ctx, state.WorkerKey(f.cfg.ID))
	require.NoError(f.t, err)
	f.strat, err = New(f.cfg)
	require.NoError(f.t, err)
	f.runner, err = worker.NewRunner(f.cfg, f.env, f.strat)
	require.NoError(f.t, err)
	require.NoError(f.t, f.runner.Restore(ctx, rec, f.now))
}

func (f *fixture) body() Body {
	return f.strat.Snapshot()
}

func TestGridOpen(t *testing.T) {
	f := newFixture(t, testParams)
	f.tick(100)

	b := f.body()
	require.True(t, b.Active)
	require.Len(t, b.Levels, 11)
	assert.InDelta(t, 2.0, b.Step, 1e-9)
	assert.InDelta(t, 200.0, b.PerLevel, 1e-9)
	for i, lv := range b.Levels {
		if i < 5 {
			require.NotNil(t, lv.Intent, "level %d", i)
			assert.Equal(t, LevelResting, lv.Status)
			assert.Equal(t, enum.OrderSideBuy, lv.Side)
			assert.LessOrEqual(t, lv.Qty*lv.Price*1.001, 200.0)
			continue
		}
		assert.Nil(t, lv.Intent, "level %d", i)
		assert.Equal(t, LevelIdle, lv.Status)
	}
	assert.Len(t, f.gw.OpenOrders(testSymbol), 5)
	assert.LessOrEqual(t, b.Committed(), b.Reserved+1e-9)

	res, ok := f.alloc.Holding("grid-1", "main")
	require.True(t, ok)
	assert.Equal(t, "1000", res.Amount.String())
	assert.Equal(t, "stable", f.runner.Status().State)
}

func TestGridOpenDenied(t *testing.T) {
	f := newFixture(t, `{"capital":5000,"lower":90,"upper":110,"levels":10}`)
	f.tick(100)

	assert.False(t, f.body().Active)
	assert.Equal(t, "capital denied: insufficient capital", f.runner.Status().LastReason)
	assert.Equal(t, 0, f.gw.Calls(og.OpPlace))
}

func TestGridBuyFillPostsSellSameTick(t *testing.T) {
	f := newFixture(t, testParams)
	f.tick(100)
	bought := f.body().Levels[4]

	f.advance(time.Minute)
	f.tick(98)

	b := f.body()
	assert.Equal(t, LevelFilled, b.Levels[4].Status)
	assert.Nil(t, b.Levels[4].Intent)
	sell := b.Levels[5]
	require.NotNil(t, sell.Intent)
	assert.Equal(t, enum.OrderSideSell, sell.Side)
	assert.Equal(t, LevelResting, sell.Status)
	assert.InDelta(t, bought.Price+b.Step, sell.Intent.Price, 1e-9)
	assert.InDelta(t, bought.Qty, sell.Qty, 1e-12)
	assert.Len(t, f.gw.OpenOrders(testSymbol), 5)
	assert.LessOrEqual(t, b.Committed(), b.Reserved+1e-9)

	f.advance(time.Minute)
	f.tick(100)

	b = f.body()
	assert.Equal(t, LevelIdle, b.Levels[5].Status)
	require.NotNil(t, b.Levels[4].Intent, "buy is re-posted one level below the sell")
	assert.Equal(t, enum.OrderSideBuy, b.Levels[4].Side)
	assert.Equal(t, LevelResting, b.Levels[4].Status)

	qty := bought.Qty
	want := qty*100*(1-0.001) - qty*98*(1+0.001)
	assert.InDelta(t, want, b.Realized, 1e-9)
	assert.Equal(t, 1, b.SellFills)
	assert.Equal(t, 2, f.notifier.Count(notify.EventGridFill))

	trades, err := f.journal.List(context.Background(), "grid-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "grid", trades[0].Reason)
	assert.InDelta(t, want, trades[0].PnL, 1e-9)
}

func TestGridPartialFillWaits(t *testing.T) {
	f := newFixture(t, testParams)
	f.gw = og.NewPaperGateway(og.PaperConfig{FeeRate: 0.001, Filters: testFilters, PartialRatio: 0.5}, func() time.Time { return f.now })
	f.gw.SetPrice(testSymbol, 100)
	f.env.Gateway = f.gw
	var err error
	f.strat, err = New(f.cfg)
	require.NoError(t, err)
	f.runner, err = worker.NewRunner(f.cfg, f.env, f.strat)
	require.NoError(t, err)
	f.runner.Start()

	f.tick(100)
	f.tick(98)

	lv := f.body().Levels[4]
	require.NotNil(t, lv.Intent)
	assert.Equal(t, og.IntentPartFilled, lv.Intent.State)
	assert.Greater(t, lv.Intent.ExecutedQty, 0.0)
	assert.Nil(t, f.body().Levels[5].Intent, "no sell before the buy completes")
}

func TestGridCommittedWithinReservation(t *testing.T) {
	f := newFixture(t, autoParams)
	rng := rand.New(rand.NewPCG(7, 11))
	price := 100.0
	for i := 0; i < 300; i++ {
		price += (rng.Float64() - 0.5) * 4
		price = min(max(price, 60), 140)
		f.advance(time.Minute)
		f.tick(price)

		b := f.body()
		require.True(t, b.Active)
		require.True(t, f.runner.SuspendedUntil().IsZero(), "tick %d: %s", i, f.runner.Status().LastError)
		require.LessOrEqual(t, b.Committed(), b.Reserved+1e-6, "tick %d", i)

		qty, _ := b.Holdings()
		base, err := f.gw.Balance(context.Background(), "BTC")
		require.NoError(t, err)
		require.InDelta(t, base, qty, 1e-6, "tick %d", i)
	}
}

func TestGridRebalanceResumesAfterCrash(t *testing.T) {
	f := newFixture(t, autoParams)
	f.tick(100)
	old := f.body()

	f.gw.FailNext(og.OpCancel, errors.Wrap(exception.ErrGatewayTransient, "cancel"))
	f.advance(time.Minute)
	f.tick(115)

	b := f.body()
	require.Equal(t, PhaseRebalancing, b.Phase)
	require.NotNil(t, b.Plan)
	assert.False(t, b.Plan.Cancelled)
	assert.InDelta(t, 103.5, b.Plan.Lower, 1e-9)
	assert.InDelta(t, 126.5, b.Plan.Upper, 1e-9)
	assert.Equal(t, 1, f.notifier.Count(notify.EventRebalance))

	rec, err := f.store.Load(context.Background(), state.WorkerKey("grid-1"))
	require.NoError(t, err)
	assert.Contains(t, string(rec.Body), `"rebalancing"`)

	f.restart()
	f.advance(time.Minute)
	f.tick(115)

	b = f.body()
	require.Equal(t, PhaseStable, b.Phase)
	assert.Nil(t, b.Plan)
	assert.Equal(t, 1, b.Rebalances)
	assert.InDelta(t, 103.5, b.Lower, 1e-9)
	assert.InDelta(t, 126.5, b.Upper, 1e-9)

	open := f.gw.OpenOrders(testSymbol)
	assert.Len(t, open, 5)
	for _, o := range open {
		assert.GreaterOrEqual(t, o.Price, 103.5-1e-9)
	}
	for _, lv := range old.Levels {
		if lv.Intent == nil {
			continue
		}
		r, err := f.gw.QueryOrder(context.Background(), testSymbol, lv.Intent.ID)
		require.NoError(t, err)
		assert.Equal(t, enum.OrderStatusCancelled, r.Status)
	}
	assert.LessOrEqual(t, b.Committed(), b.Reserved+1e-9)
}

func TestGridInventoryCarriedThroughRebalance(t *testing.T) {
	f := newFixture(t, autoParams)
	f.tick(100)
	f.advance(time.Minute)
	f.tick(98)
	f.advance(time.Minute)
	f.tick(85)

	b := f.body()
	require.Equal(t, PhaseStable, b.Phase)
	assert.Equal(t, 1, b.Rebalances)
	assert.InDelta(t, 76.5, b.Lower, 1e-9)
	assert.Equal(t, 5, b.BuyFills)

	qty, _ := b.Holdings()
	base, err := f.gw.Balance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, base, qty, 1e-9, "no inventory is lost")

	assert.Len(t, b.Inventory, 3)
	sells := 0
	for _, lv := range b.Levels {
		if lv.Live() {
			require.Equal(t, enum.OrderSideSell, lv.Side, "no cash left for buys")
			sells++
		}
	}
	assert.Equal(t, 2, sells)
	assert.LessOrEqual(t, b.Committed(), b.Reserved+1e-9)
}

func TestGridPanicClose(t *testing.T) {
	f := newFixture(t, testParams)
	f.tick(100)
	f.advance(time.Minute)
	f.tick(98)
	require.False(t, f.strat.Flat())

	cmd := worker.NewCommand(worker.CommandPanic, nil)
	require.NoError(t, f.runner.Enqueue(cmd))
	f.advance(time.Minute)
	f.tick(98)
	require.NoError(t, cmd.Wait(context.Background()))

	b := f.body()
	assert.True(t, f.strat.Flat())
	assert.False(t, b.Active)
	assert.Empty(t, f.gw.OpenOrders(testSymbol))
	assert.Equal(t, enum.LifecycleStopped, f.runner.Lifecycle())
	_, held := f.alloc.Holding("grid-1", "main")
	assert.False(t, held)

	base, err := f.gw.Balance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0, base, 1e-9)

	trades, err := f.journal.List(context.Background(), "grid-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "panic", trades[0].Reason)
	assert.Less(t, trades[0].PnL, 0.0)
	pool, ok := f.alloc.Snapshot("main")
	require.True(t, ok)
	assert.True(t, pool.Realized.IsNegative())
}

func TestGridRestore(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		desc     string
		body     Body
		reserve  bool
		wantHeld bool
	}{
		{
			desc:    "orphan reservation of an inactive grid is released",
			body:    Body{Phase: PhaseStable},
			reserve: true,
		},
		{
			desc:     "lost reservation of an active grid is adopted",
			body:     Body{Active: true, Phase: PhaseStable, Reserved: 1000, Inventory: []state.Lot{{Price: 95, Qty: 1}}},
			wantHeld: true,
		},
		{
			desc:     "held reservation is kept",
			body:     Body{Active: true, Phase: PhaseRebalancing, Reserved: 1000, Plan: &Plan{Center: 100, Lower: 90, Upper: 110, Count: 10}},
			reserve:  true,
			wantHeld: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t, testParams)
			if tc.reserve {
				grant, err := f.alloc.Reserve(ctx, capital.Request{WorkerID: "grid-1", PoolID: "main", Amount: decimal.NewFromInt(1000)})
				require.NoError(t, err)
				require.True(t, grant.Granted)
			}
			raw, err := sonic.Marshal(tc.body)
			require.NoError(t, err)

			s := &Strategy{}
			c := &worker.Cycle{Env: f.env, Config: f.cfg, Now: f.now}
			require.NoError(t, s.Restore(ctx, c, raw))
			assert.Equal(t, tc.body.Phase, s.Snapshot().Phase)
			_, held := f.alloc.Holding("grid-1", "main")
			assert.Equal(t, tc.wantHeld, held)
			assert.Equal(t, defaultFeeRate, s.Snapshot().Params.FeeRate)
		})
	}
}

func TestGridTune(t *testing.T) {
	f := newFixture(t, testParams)
	testCases := []struct {
		desc    string
		patch   string
		wantErr error
		want    bool
	}{
		{desc: "disable rebalance", patch: `{"autoRebalance":false}`, want: false},
		{desc: "unviable range", patch: `{"autoRebalance":true,"lower":99.9,"upper":100.1,"levels":100}`, wantErr: exception.ErrGridUnviable, want: false},
		{desc: "malformed", patch: `{"autoRebalance":`, wantErr: exception.ErrInvalidParams, want: false},
		{desc: "enable rebalance", patch: `{"autoRebalance":true}`, want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := f.strat.Tune([]byte(tc.patch))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, f.body().Params.Rebalances())
		})
	}
}

func TestGridMinNotionalAfterRounding(t *testing.T) {
	testCases := []struct {
		desc         string
		params       string
		wantActive   bool
		wantOrders   int
		wantDisabled int
	}{
		{desc: "share exactly at min notional", params: `{"capital":50,"lower":90,"upper":110,"levels":10}`, wantActive: true, wantOrders: 4, wantDisabled: 1},
		{desc: "comfortable share", params: `{"capital":100,"lower":90,"upper":110,"levels":10}`, wantActive: true, wantOrders: 5},
		{desc: "single level rounds below min", params: `{"capital":10,"lower":90,"upper":110,"levels":10}`},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t, tc.params)
			f.tick(100)

			b := f.body()
			require.Equal(t, tc.wantActive, b.Active, f.runner.Status().LastError)
			_, held := f.alloc.Holding("grid-1", "main")
			assert.Equal(t, tc.wantActive, held)
			assert.Len(t, f.gw.OpenOrders(testSymbol), tc.wantOrders)
			if !tc.wantActive {
				st := f.runner.Status()
				assert.Equal(t, enum.LifecycleSuspended, st.Lifecycle)
				assert.Contains(t, st.LastError, exception.ErrGridTooSmall.Error())
				return
			}
			disabled := 0
			for _, lv := range b.Levels {
				if lv.Disabled {
					disabled++
				}
				if lv.Intent != nil {
					assert.GreaterOrEqual(t, lv.Qty*lv.Price, testFilters.MinNotional, "level %d", lv.Index)
				}
			}
			assert.Equal(t, tc.wantDisabled, disabled)
		})
	}
}

func TestBuildLadderTooSmall(t *testing.T) {
	plan := Plan{Center: 100, Lower: 90, Upper: 110, Count: 10}
	_, err := buildLadder(plan, 100, 10, 0.001, 0.005, testFilters)
	require.ErrorIs(t, err, exception.ErrGridTooSmall)

	lad, err := buildLadder(plan, 100, 50, 0.001, 0.005, testFilters)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, lad.perLevel, 1e-9)
	assert.True(t, lad.levels[0].Disabled)
}

func TestGridDefaultParamsRebalance(t *testing.T) {
	f := newFixture(t, testParams)
	require.True(t, f.body().Params.Rebalances())
	f.tick(100)
	f.advance(time.Minute)
	f.tick(115)

	b := f.body()
	require.Equal(t, PhaseStable, b.Phase)
	assert.Equal(t, 1, b.Rebalances)
	assert.InDelta(t, 103.5, b.Lower, 1e-9)
	assert.InDelta(t, 126.5, b.Upper, 1e-9)
	assert.Equal(t, 1, f.notifier.Count(notify.EventRebalance))
}

func TestGridVolatilityUnavailable(t *testing.T) {
	f := newFixture(t, `{"capital":1000}`)
	f.env.Feed = &noVolatilityFeed{StaticFeed: &signal.StaticFeed{}}
	var err error
	f.runner, err = worker.NewRunner(f.cfg, f.env, f.strat)
	require.NoError(t, err)
	f.runner.Start()
	klines := make([]model.Kline, 3)
	for i := range klines {
		klines[i] = model.Kline{OpenTime: testStart.Add(time.Duration(i) * time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	f.gw.SetKlines(testSymbol, klines)

	f.tick(100)
	assert.False(t, f.body().Active)
	_, held := f.alloc.Holding("grid-1", "main")
	assert.False(t, held)
	st := f.runner.Status()
	assert.Equal(t, enum.LifecycleRunning, st.Lifecycle)
	assert.Contains(t, st.LastError, exception.ErrNoMarketData.Error())
}

type noVolatilityFeed struct {
	*signal.StaticFeed
}

func (noVolatilityFeed) Volatility([]model.Kline, int) (float64, bool) { return 0, false }

package spot

import (
	"context"
	"encoding/json"
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

const testSymbol = "BTCUSDT"

var testStart = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	now      time.Time
	gw       *og.PaperGateway
	feed     *signal.StaticFeed
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
	f.gw = og.NewPaperGateway(og.PaperConfig{FeeRate: 0.001}, func() time.Time { return f.now })
	klines := make([]model.Kline, 30)
	for i := range klines {
		klines[i] = model.Kline{OpenTime: testStart.Add(time.Duration(i-30) * time.Minute), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1}
	}
	f.gw.SetKlines(testSymbol, klines)
	f.feed = &signal.StaticFeed{RSIValue: 35, MA: map[int]float64{7: 101, 25: 100}, NoMACD: true}
	f.alloc = capital.NewAllocator(state.NewMemoryStore(), nil)
	require.NoError(t, f.alloc.AddPool(ctx, "main", decimal.NewFromInt(1000)))
	f.store = state.NewMemoryStore()
	f.notifier = &notify.Memory{}
	f.journal = journal.NewMemoryJournal()
	f.env = worker.Env{
		Gateway:  f.gw,
		Feed:     f.feed,
		Capital:  f.alloc,
		Store:    f.store,
		Notifier: f.notifier,
		Journal:  f.journal,
	}
	f.cfg = worker.Config{
		ID:     "spot-1",
		Symbol: testSymbol,
		Kind:   enum.StrategySpot,
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

func (f *fixture) state() State {
	return f.strat.Snapshot().State
}

func (f *fixture) cycle() *worker.Cycle {
	return &worker.Cycle{Env: f.env, Config: f.cfg, Now: f.now}
}

func TestSpotEntry(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100}`)
	f.tick(100)

	b := f.strat.Snapshot()
	require.Equal(t, StateHolding, b.State)
	assert.Nil(t, b.Intent)
	assert.InDelta(t, 100.0, b.Position.AvgPrice, 1e-9)
	assert.InDelta(t, 100/(100*1.002), b.Position.Qty, 1e-9)
	assert.LessOrEqual(t, b.Position.Capital(), 100.0)

	res, ok := f.alloc.Holding("spot-1", "main")
	require.True(t, ok)
	assert.Equal(t, "100", res.Amount.String())
	assert.Equal(t, 1, f.notifier.Count(notify.EventEntry))
	assert.Equal(t, 1, f.gw.Calls(og.OpPlace))
}

func TestSpotEntryDeniedKeepsIdle(t *testing.T) {
	f := newFixture(t, `{"entryAmount":2000}`)
	f.tick(100)

	assert.Equal(t, StateIdle, f.state())
	assert.Equal(t, "capital denied: insufficient capital", f.runner.Status().LastReason)
	assert.Equal(t, 0, f.gw.Calls(og.OpPlace))
	assert.Empty(t, f.runner.Status().LastError)
}

func TestSpotScaling(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100}`)
	f.tick(100)
	entry := f.strat.Snapshot().Position
	require.Equal(t, StateHolding, f.state())

	f.feed.RSIValue = 25
	trigger := entry.AvgPrice * (1 - f.strat.Snapshot().Params.ScaleDrawdownPct)
	for i := 0; i < 3; i++ {
		f.advance(time.Minute)
		f.tick(trigger)
	}

	b := f.strat.Snapshot()
	assert.Equal(t, StateScaling, b.State)
	assert.Equal(t, 1, b.Depth)
	assert.Equal(t, "scaling(1)", f.strat.State())
	assert.Equal(t, 1, f.notifier.Count(notify.EventScale))
	assert.Equal(t, 2, b.Position.Fills)
	assert.Less(t, b.Position.AvgPrice, entry.AvgPrice)
	assert.Greater(t, b.Position.AvgPrice, trigger)

	res, ok := f.alloc.Holding("spot-1", "main")
	require.True(t, ok)
	assert.InDelta(t, 100+1.5*entry.LastFill, res.Amount.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1.5*entry.LastFill, b.Position.LastFill, 1.5*entry.LastFill*0.003)
}

func TestSpotScalingBlockedByDepth(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100,"scaleMaxDepth":1,"stopLossPct":0.5}`)
	f.tick(100)
	f.feed.RSIValue = 20

	price := 100.0
	for i := 0; i < 4; i++ {
		price *= 0.95
		f.advance(time.Minute)
		f.tick(price)
	}
	b := f.strat.Snapshot()
	assert.Equal(t, 1, b.Depth)
	assert.Equal(t, StateScaling, b.State, "position is held once depth is exhausted")
	assert.Equal(t, 1, f.notifier.Count(notify.EventScale))
}

func TestSpotTrailingExit(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100,"trailingActivationPct":0.015,"trailingCallbackPct":0.005}`)
	f.tick(100)
	require.Equal(t, StateHolding, f.state())
	f.feed.RSIValue = 50

	path := []struct {
		price float64
		want  State
	}{
		{price: 101, want: StateHolding},
		{price: 102, want: StateHolding},
		{price: 101.7, want: StateHolding},
		{price: 101.5, want: StateHolding},
		{price: 101.45, want: StateIdle},
	}
	for _, step := range path {
		f.advance(time.Minute)
		f.tick(step.price)
		assert.Equal(t, step.want, f.state(), "price %.2f", step.price)
	}

	b := f.strat.Snapshot()
	assert.True(t, b.Position.IsFlat())
	assert.Equal(t, 1, b.Metrics.Trades)
	assert.Equal(t, 1, b.Metrics.Wins)
	assert.Greater(t, b.Metrics.RealizedPnL, 0.0)
	assert.Equal(t, 1, f.notifier.Count(notify.EventExit))
	_, held := f.alloc.Holding("spot-1", "main")
	assert.False(t, held)

	trades, err := f.journal.List(context.Background(), "spot-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, string(ExitTrailing), trades[0].Reason)
	assert.InDelta(t, 101.45, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 100, trades[0].EntryPrice, 1e-9)
}

func TestSpotCooldownAfterStopLoss(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100,"cooldownSeconds":600}`)
	f.tick(100)

	f.feed.RSIValue = 50
	f.advance(time.Minute)
	stoppedAt := f.now
	f.tick(97)
	require.Equal(t, StateCooldown, f.state())
	assert.Equal(t, 1, f.notifier.Count(notify.EventStopLoss))
	assert.Less(t, f.strat.Snapshot().Metrics.RealizedPnL, 0.0)

	f.feed.RSIValue = 35
	f.now = stoppedAt.Add(600*time.Second - time.Second)
	f.tick(100)
	assert.Equal(t, StateCooldown, f.state())
	assert.Equal(t, "cooldown active", f.runner.Status().LastReason)

	f.now = stoppedAt.Add(600 * time.Second)
	f.tick(100)
	assert.Equal(t, StateHolding, f.state())
}

func TestSpotEntryRetriedAfterTransientError(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100}`)
	f.gw.FailNext(og.OpPlace, errors.Wrap(exception.ErrGatewayTransient, "place"))
	f.tick(100)

	b := f.strat.Snapshot()
	require.Equal(t, StateEntering, b.State)
	require.NotNil(t, b.Intent)
	assert.Equal(t, og.IntentPending, b.Intent.State)
	id := b.Intent.ID
	_, held := f.alloc.Holding("spot-1", "main")
	assert.True(t, held)
	assert.Contains(t, f.runner.Status().LastError, "transient")

	rec, err := f.store.Load(context.Background(), state.WorkerKey("spot-1"))
	require.NoError(t, err)
	assert.Contains(t, string(rec.Body), id, "intent is checkpointed before it is sent")

	f.advance(time.Second)
	f.tick(100)
	assert.Equal(t, StateEntering, f.state(), "backoff not elapsed")
	assert.Equal(t, 1, f.gw.Calls(og.OpPlace))

	f.advance(time.Second)
	f.tick(100)
	assert.Equal(t, StateHolding, f.state())
	assert.Equal(t, 2, f.gw.Calls(og.OpPlace))
	assert.InDelta(t, 100/(100*1.002), f.strat.Snapshot().Position.Qty, 1e-9)
}

func TestSpotPanicClose(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100}`)
	f.tick(100)
	require.Equal(t, StateHolding, f.state())

	cmd := worker.NewCommand(worker.CommandPanic, nil)
	require.NoError(t, f.runner.Enqueue(cmd))
	f.advance(time.Minute)
	f.tick(99)
	require.NoError(t, cmd.Wait(context.Background()))

	assert.Equal(t, StateIdle, f.state())
	assert.True(t, f.strat.Flat())
	assert.Equal(t, enum.LifecycleStopped, f.runner.Lifecycle())
	assert.Equal(t, 1, f.notifier.Count(notify.EventPanicClose))
	_, held := f.alloc.Holding("spot-1", "main")
	assert.False(t, held)
}

func TestSpotTune(t *testing.T) {
	f := newFixture(t, `{"entryAmount":100}`)
	testCases := []struct {
		desc    string
		patch   string
		wantErr error
		want    float64
	}{
		{desc: "valid patch", patch: `{"rsiEntry":35}`, want: 35},
		{desc: "out of range", patch: `{"stopLossPct":2}`, wantErr: exception.ErrInvalidParams, want: 35},
		{desc: "malformed", patch: `{"rsiEntry":`, wantErr: exception.ErrInvalidParams, want: 35},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := f.strat.Tune([]byte(tc.patch))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, f.strat.Snapshot().Params.RSIEntry)
		})
	}
}

func TestSpotRestore(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		desc      string
		body      Body
		reserve   bool
		wantState State
		wantHeld  bool
	}{
		{
			desc:      "orphan reservation of an idle worker is released",
			body:      Body{State: StateIdle},
			reserve:   true,
			wantState: StateIdle,
		},
		{
			desc: "lost reservation of a holding worker is adopted",
			body: Body{
				State:    StateHolding,
				Position: state.Position{Qty: 1, AvgPrice: 90, Cost: 90},
				Reserved: 100,
			},
			wantState: StateHolding,
			wantHeld:  true,
		},
		{
			desc:      "expired cooldown resumes idle",
			body:      Body{State: StateCooldown, CooldownUntil: testStart.Add(-time.Minute)},
			wantState: StateIdle,
		},
		{
			desc:      "active cooldown is kept",
			body:      Body{State: StateCooldown, CooldownUntil: testStart.Add(time.Minute)},
			wantState: StateCooldown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t, `{"entryAmount":100}`)
			if tc.reserve {
				grant, err := f.alloc.Reserve(ctx, capital.Request{WorkerID: "spot-1", PoolID: "main", Amount: decimal.NewFromInt(100)})
				require.NoError(t, err)
				require.True(t, grant.Granted)
			}
			raw, err := sonic.Marshal(tc.body)
			require.NoError(t, err)

			s := &Strategy{}
			require.NoError(t, s.Restore(ctx, f.cycle(), raw))
			assert.Equal(t, tc.wantState, s.Snapshot().State)
			_, held := f.alloc.Holding("spot-1", "main")
			assert.Equal(t, tc.wantHeld, held)
			assert.Equal(t, DefaultParams(0).RSIEntry, s.Snapshot().Params.RSIEntry)
		})
	}
}

func TestSpotCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"entryAmount":100}`)
	f.tick(100)
	before := f.strat.Snapshot()

	rec, err := f.store.Load(ctx, state.WorkerKey("spot-1"))
	require.NoError(t, err)
	s, err := New(f.cfg)
	require.NoError(t, err)
	r, err := worker.NewRunner(f.cfg, f.env, s)
	require.NoError(t, err)
	require.NoError(t, r.Restore(ctx, rec, f.now))

	after := s.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.InDelta(t, before.Position.Qty, after.Position.Qty, 1e-12)
	assert.InDelta(t, before.Position.AvgPrice, after.Position.AvgPrice, 1e-12)
	assert.Equal(t, before.Reserved, after.Reserved)
	assert.Equal(t, enum.LifecycleRunning, r.Lifecycle())
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/chaos"
	"github.com/yanun0323/go-autotrader/internal/market"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/supervisor"
	"github.com/yanun0323/go-autotrader/internal/worker"
)

const symbol = "BTCUSDT"

func main() {
	steps := flag.Int("steps", 5000, "Simulated one-minute candles")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	errorRate := flag.Float64("error-rate", 0.05, "Transient error probability [0-1]")
	lostAckRate := flag.Float64("lost-ack-rate", 0.02, "Lost order ack probability [0-1]")
	blockRate := flag.Float64("block-rate", 0.0005, "Access block probability [0-1]")
	blockDuration := flag.Duration("block-duration", 5*time.Minute, "Access block duration")
	spots := flag.Int("spot-workers", 2, "Spot workers")
	grids := flag.Int("grid-workers", 2, "Grid workers")
	poolSize := flag.Float64("pool", 5000, "Shared pool allocation")
	dir := flag.String("dir", "", "Checkpoint directory (default: temp dir)")
	restartEvery := flag.Int("restart-every", 500, "Rebuild the supervisor from checkpoints every N steps (0=never)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if *dir == "" {
		tmp, err := os.MkdirTemp("", "autotrader-chaos-")
		if err != nil {
			log.Fatalf("temp dir failed: %v", err)
		}
		defer os.RemoveAll(tmp)
		*dir = tmp
	}

	cfg := soakConfig{
		steps:        *steps,
		seed:         *seed,
		spots:        *spots,
		grids:        *grids,
		pool:         decimal.NewFromFloat(*poolSize),
		dir:          *dir,
		restartEvery: *restartEvery,
		chaos: chaos.Config{
			Seed:          *seed,
			ErrorRate:     *errorRate,
			LostAckRate:   *lostAckRate,
			BlockRate:     *blockRate,
			BlockDuration: *blockDuration,
		},
	}
	if err := cfg.chaos.Validate(); err != nil {
		log.Fatalf("invalid chaos config: %v", err)
	}
	if err := soak(context.Background(), cfg); err != nil {
		log.Fatalf("soak failed: %v", err)
	}
}

type soakConfig struct {
	steps        int
	seed         int64
	spots        int
	grids        int
	pool         decimal.Decimal
	dir          string
	restartEvery int
	chaos        chaos.Config
}

type harness struct {
	now      time.Time
	paper    *og.PaperGateway
	gateway  *chaos.Gateway
	store    *state.FileStore
	notifier *notify.Memory
	alloc    *capital.Allocator
	sup      *supervisor.Supervisor
}

func (h *harness) clock() time.Time { return h.now }

// rebuild drops every in-memory object except the exchange and recovers
// allocator and workers from the checkpoint directory.
func (h *harness) rebuild(ctx context.Context) (supervisor.Report, error) {
	h.alloc = capital.NewAllocator(h.store, nil)
	h.alloc.SetClock(h.clock)
	if err := h.alloc.Load(ctx); err != nil {
		return supervisor.Report{}, err
	}
	h.sup = supervisor.New(worker.Env{
		Gateway:  h.gateway,
		Feed:     signal.NewTalibFeed(),
		Capital:  h.alloc,
		Store:    h.store,
		Notifier: h.notifier,
	}, supervisor.Builders(), supervisor.Config{Now: h.clock, Allocator: h.alloc})
	return h.sup.Recover(ctx)
}

func soak(ctx context.Context, cfg soakConfig) error {
	walk := market.NewWalk(market.WalkConfig{
		Seed:       uint64(cfg.seed),
		Start:      100,
		Volatility: 0.004,
		Interval:   time.Minute,
		From:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	history := walk.Take(250)

	h := &harness{now: history[len(history)-1].OpenTime.Add(time.Minute), notifier: &notify.Memory{}}
	h.paper = og.NewPaperGateway(og.PaperConfig{
		FeeRate:      0.001,
		Slippage:     0.0005,
		PartialRatio: 0.5,
		Filters:      model.SymbolFilters{TickSize: 0.01, StepSize: 0.0001, MinNotional: 10},
	}, h.clock)
	h.paper.SetKlines(symbol, history)

	var err error
	h.gateway, err = chaos.NewGateway(h.paper, cfg.chaos, h.clock)
	if err != nil {
		return err
	}
	h.store, err = state.NewFileStore(cfg.dir)
	if err != nil {
		return err
	}
	if _, err := h.rebuild(ctx); err != nil {
		return err
	}
	if !h.alloc.HasPool("main") {
		if err := h.alloc.AddPool(ctx, "main", cfg.pool); err != nil {
			return err
		}
	}
	for _, w := range workerConfigs(cfg) {
		if _, err := h.sup.Status(w.ID); err == nil {
			continue
		}
		if _, err := h.sup.Create(ctx, w); err != nil {
			return err
		}
		if err := h.sup.Start(ctx, w.ID); err != nil {
			log.Printf("start %s deferred: %v", w.ID, err)
		}
	}

	restarts := 0
	for i := 0; i < cfg.steps; i++ {
		k := walk.Next()
		h.now = k.OpenTime.Add(time.Minute)
		h.paper.PushKline(symbol, k)
		if err := h.sup.Step(ctx, h.now); err != nil {
			return err
		}
		if err := checkPools(h.alloc); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if cfg.restartEvery > 0 && (i+1)%cfg.restartEvery == 0 {
			report, err := h.rebuild(ctx)
			if err != nil {
				return fmt.Errorf("restart at step %d: %w", i, err)
			}
			if len(report.Corrupt) > 0 {
				return fmt.Errorf("restart at step %d: corrupt checkpoints %v", i, report.Corrupt)
			}
			restarts++
		}
	}

	result, err := state.Recover(ctx, h.store, "")
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("unreadable checkpoints: %v", result.Failed)
	}
	report, err := h.rebuild(ctx)
	if err != nil {
		return err
	}
	if len(report.Corrupt) > 0 || len(report.Restored) != cfg.spots+cfg.grids {
		return fmt.Errorf("final recovery restored %v corrupt %v", report.Restored, report.Corrupt)
	}

	stats := h.gateway.Stats()
	log.Printf("soak completed: steps=%d restarts=%d checkpoints=%d errors=%d lost_acks=%d blocks=%d forwarded=%d suspensions=%d",
		cfg.steps, restarts, len(result.Records), stats.Errors, stats.LostAcks, stats.Blocks, stats.Forwarded, h.notifier.Count(notify.EventSuspended))
	for _, st := range h.sup.List() {
		log.Printf("worker %s state=%s lifecycle=%s trades=%d pnl=%.4f reserved=%.2f", st.ID, st.State, st.Lifecycle, st.Metrics.Trades, st.Metrics.RealizedPnL, st.Reserved)
	}
	for _, p := range h.alloc.Pools() {
		log.Printf("pool %s allocation=%s reserved=%s free=%s realized=%s", p.ID, p.Allocation, p.Reserved, p.Free, p.Realized)
	}
	return nil
}

// checkPools verifies that no pool has reserved more than its allocation.
func checkPools(alloc *capital.Allocator) error {
	for _, p := range alloc.Pools() {
		sum := decimal.Zero
		for _, r := range p.Reservations {
			sum = sum.Add(r.Amount)
		}
		if !sum.Equal(p.Reserved) {
			return fmt.Errorf("pool %s reservations sum %s != reserved %s", p.ID, sum, p.Reserved)
		}
		if p.Reserved.GreaterThan(p.Allocation) {
			return fmt.Errorf("pool %s reserved %s exceeds allocation %s", p.ID, p.Reserved, p.Allocation)
		}
	}
	return nil
}

func workerConfigs(cfg soakConfig) []worker.Config {
	var out []worker.Config
	for i := 0; i < cfg.spots; i++ {
		out = append(out, worker.Config{
			ID:     fmt.Sprintf("spot-%d", i+1),
			Symbol: symbol,
			Kind:   enum.StrategySpot,
			Mode:   enum.RunModePaper,
			PoolID: "main",
			Params: json.RawMessage(`{"entryAmount":200,"rsiEntry":45,"disableTrend":true}`),
		})
	}
	for i := 0; i < cfg.grids; i++ {
		out = append(out, worker.Config{
			ID:     fmt.Sprintf("grid-%d", i+1),
			Symbol: symbol,
			Kind:   enum.StrategyGrid,
			Mode:   enum.RunModePaper,
			PoolID: "main",
			Params: json.RawMessage(`{"capital":1000,"autoRebalance":true}`),
		})
	}
	return out
}

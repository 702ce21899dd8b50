package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/journal"
	"github.com/yanun0323/go-autotrader/internal/market"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/ops"
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/supervisor"
	"github.com/yanun0323/go-autotrader/internal/worker"
)

func main() {
	klinePath := flag.String("klines", "testdata/klines.csv", "Kline CSV (open_time,open,high,low,close,volume)")
	configPath := flag.String("config", "", "JSON config with pools and workers (empty=single worker from flags)")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol of the single worker")
	kind := flag.String("kind", "grid", "Strategy kind of the single worker (spot|grid)")
	params := flag.String("params", `{"capital":1000,"levels":10}`, "Strategy params of the single worker")
	poolSize := flag.Float64("capital", 2000, "Pool allocation of the single worker")
	fee := flag.Float64("fee", 0.001, "Paper fee rate")
	slippage := flag.Float64("slippage", 0, "Paper market slippage")
	tickSize := flag.Float64("tick-size", 0.01, "Price tick size")
	stepSize := flag.Float64("step-size", 0.00001, "Quantity step size")
	minNotional := flag.Float64("min-notional", 5, "Minimum order notional")
	warmup := flag.Int("warmup", 100, "Candles loaded as history before trading")
	flag.Parse()

	klines, err := market.LoadCSV(*klinePath)
	if err != nil {
		log.Fatalf("klines load failed: %v", err)
	}
	if *warmup < 0 || *warmup >= len(klines) {
		log.Fatalf("warmup must be in [0, %d)", len(klines))
	}

	var loaded ops.Loaded
	if *configPath != "" {
		loaded, err = ops.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	} else {
		loaded = ops.Loaded{
			Pools: []ops.Pool{{ID: "main", Allocation: decimal.NewFromFloat(*poolSize)}},
			Workers: []worker.Config{{
				ID:     *kind + "-backtest",
				Symbol: strings.ToUpper(*symbol),
				Kind:   enum.StrategyKind(*kind),
				PoolID: "main",
				Params: json.RawMessage(*params),
			}},
			Paper: og.PaperConfig{
				FeeRate:  *fee,
				Slippage: *slippage,
				Filters:  model.SymbolFilters{TickSize: *tickSize, StepSize: *stepSize, MinNotional: *minNotional},
			},
		}
	}

	result, err := runBacktest(context.Background(), loaded, klines, *warmup)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	result.print()
}

type result struct {
	candles  int
	from, to time.Time
	workers  []worker.Status
	pools    []capital.PoolStatus
	trades   map[string]int
	notified int
}

func runBacktest(ctx context.Context, loaded ops.Loaded, klines []model.Kline, warmup int) (result, error) {
	interval := time.Minute
	if len(klines) > 1 {
		interval = klines[1].OpenTime.Sub(klines[0].OpenTime)
	}
	now := klines[warmup].OpenTime
	clock := func() time.Time { return now }

	paper := og.NewPaperGateway(loaded.Paper, clock)
	symbols := make(map[string]struct{})
	for _, w := range loaded.Workers {
		symbols[w.Symbol] = struct{}{}
	}
	for s := range symbols {
		paper.SetKlines(s, klines[:warmup+1])
	}

	alloc := capital.NewAllocator(state.NewMemoryStore(), nil)
	alloc.SetClock(clock)
	for _, p := range loaded.Pools {
		if err := alloc.AddPool(ctx, p.ID, p.Allocation); err != nil {
			return result{}, err
		}
	}
	notifier := &notify.Memory{}
	trades := journal.NewMemoryJournal()
	sup := supervisor.New(worker.Env{
		Gateway:  paper,
		Feed:     signal.NewTalibFeed(),
		Capital:  alloc,
		Store:    state.NewMemoryStore(),
		Notifier: notifier,
		Journal:  trades,
	}, supervisor.Builders(), supervisor.Config{Now: clock})

	for _, w := range loaded.Workers {
		w.Mode = enum.RunModeBacktest
		if _, err := sup.Create(ctx, w); err != nil {
			return result{}, err
		}
		if err := sup.Start(ctx, w.ID); err != nil {
			return result{}, err
		}
	}

	for _, k := range klines[warmup+1:] {
		now = k.OpenTime.Add(interval)
		for s := range symbols {
			paper.PushKline(s, k)
		}
		if err := sup.Step(ctx, now); err != nil {
			return result{}, err
		}
	}

	res := result{
		candles:  len(klines) - warmup - 1,
		from:     klines[warmup].OpenTime,
		to:       now,
		workers:  sup.List(),
		pools:    alloc.Pools(),
		trades:   make(map[string]int),
		notified: len(notifier.Messages()),
	}
	for _, st := range res.workers {
		list, err := trades.List(ctx, st.ID, 0)
		if err != nil {
			return result{}, err
		}
		res.trades[st.ID] = len(list)
	}
	return res, nil
}

func (r result) print() {
	fmt.Printf("backtest %s -> %s candles=%d notifications=%d\n", r.from.Format(time.RFC3339), r.to.Format(time.RFC3339), r.candles, r.notified)
	for _, st := range r.workers {
		m := st.Metrics
		fmt.Printf("worker %s kind=%s state=%s trades=%d journal=%d pnl=%.4f fees=%.4f win=%.2f%% maxdd=%.4f sharpe=%.3f hold=%s open=%d\n",
			st.ID, st.Kind, st.State, m.Trades, r.trades[st.ID], m.RealizedPnL, m.Fees, m.WinRate*100, m.MaxDrawdown, m.Sharpe, m.AvgHold, st.OpenOrders)
	}
	for _, p := range r.pools {
		fmt.Printf("pool %s allocation=%s reserved=%s free=%s realized=%s\n", p.ID, p.Allocation, p.Reserved, p.Free, p.Realized)
	}
}

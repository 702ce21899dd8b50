package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/chaos"
	"github.com/yanun0323/go-autotrader/internal/journal"
	"github.com/yanun0323/go-autotrader/internal/market"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/obs"
	"github.com/yanun0323/go-autotrader/internal/og"
	"github.com/yanun0323/go-autotrader/internal/ops"
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/supervisor"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/conn"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 5*time.Second, "Config reload interval (0=disable)")
	metricsAddr := flag.String("metrics-addr", ":9100", "Prometheus listen address (empty=disable)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	simInterval := flag.Duration("sim-interval", 5*time.Second, "Simulated candle interval for the paper market")
	simStart := flag.Float64("sim-start", 100, "Starting price of every simulated symbol")
	simVol := flag.Float64("sim-volatility", 0.003, "Per-candle volatility of the simulated market")
	seed := flag.Uint64("seed", 1, "Simulated market seed")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "autotrader",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"account": loaded.Account,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	opt := options{
		configPath:   *configPath,
		configReload: *configReload,
		metricsAddr:  *metricsAddr,
		simInterval:  *simInterval,
		simStart:     *simStart,
		simVol:       *simVol,
		seed:         *seed,
	}
	if err := run(context.Background(), loaded, opt); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

type options struct {
	configPath   string
	configReload time.Duration
	metricsAddr  string
	simInterval  time.Duration
	simStart     float64
	simVol       float64
	seed         uint64
}

func run(ctx context.Context, loaded ops.Loaded, opt options) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	store, client, err := openStore(ctx, loaded.Store)
	if err != nil {
		return err
	}
	defer client.Close()

	var recorder journal.Recorder = journal.NewMemoryJournal()
	if loaded.Features.Journal && client != nil {
		recorder, err = journal.NewGormJournal(ctx, client.DB())
		if err != nil {
			return err
		}
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if tg := notify.NewTelegramSink(loaded.Notify.TelegramToken, loaded.Notify.TelegramChatID); tg != nil {
		sinks = append(sinks, tg)
	}
	notifier := notify.NewQueue(loaded.Notify.QueueSize, metrics, sinks...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifier.Run(context.WithoutCancel(ctx))
	}()
	defer notifier.Close()

	paper := og.NewPaperGateway(loaded.Paper, nil)
	var gateway og.Gateway = paper
	if loaded.Chaos != nil {
		gateway, err = chaos.NewGateway(paper, *loaded.Chaos, nil)
		if err != nil {
			return err
		}
		logs.Infof("trader: chaos gateway enabled %+v", *loaded.Chaos)
	}
	driver := market.NewDriver(paper, walks(loaded.Workers, opt), 250)
	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.Run(ctx, opt.simInterval)
	}()

	alloc := capital.NewAllocator(store, metrics)
	if err := alloc.Load(ctx); err != nil {
		return err
	}
	for _, p := range loaded.Pools {
		if !alloc.HasPool(p.ID) {
			if err := alloc.AddPool(ctx, p.ID, p.Allocation); err != nil {
				return err
			}
			continue
		}
		if err := alloc.SetAllocation(ctx, p.ID, p.Allocation); err != nil {
			logs.Errorf("trader: keep persisted allocation of pool %s, err: %+v", p.ID, err)
		}
	}

	env := worker.Env{
		Gateway:  gateway,
		Feed:     signal.NewTalibFeed(),
		Capital:  alloc,
		Store:    store,
		Notifier: notifier,
		Journal:  recorder,
		Metrics:  metrics,
	}
	sup := supervisor.New(env, supervisor.Builders(), supervisor.Config{
		StallWindow:     loaded.Supervisor.StallWindow,
		MonitorInterval: loaded.Supervisor.MonitorInterval,
		Allocator:       alloc,
	})
	report, err := sup.Recover(ctx)
	if err != nil {
		return err
	}
	logs.Infof("trader: restored %v, corrupt %d", report.Restored, len(report.Corrupt))
	applyWorkers(ctx, sup, loaded.Workers, loaded.Features.AutoStart)

	runtime := newRuntimeConfig(loaded)
	if loaded.Features.ReloadWorkers && opt.configReload > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ops.Watch(ctx, opt.configPath, opt.configReload, func(next ops.Loaded) {
				changes := ops.Diff(runtime.Load(), next)
				runtime.Update(next)
				if changes.Empty() {
					return
				}
				applyWorkers(ctx, sup, changes.Added, next.Features.AutoStart)
				for _, w := range changes.Tuned {
					if err := sup.Tune(ctx, w.ID, w.Params); err != nil {
						logs.Errorf("trader: tune %s, err: %+v", w.ID, err)
						continue
					}
					logs.Infof("trader: tuned %s from reloaded config", w.ID)
				}
			})
		}()
	}

	if opt.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: opt.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("trader: metrics server, err: %+v", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		logs.Infof("trader: metrics on %s", opt.metricsAddr)
	}

	errC := make(chan error, 1)
	go func() {
		errC <- sup.Run(ctx)
	}()

	select {
	case <-sys.Shutdown():
		logs.Info("trader: shutdown requested, stopping at tick boundaries")
		cancel()
		err = <-errC
	case err = <-errC:
		cancel()
	}
	logTotals(sup, alloc, metrics)
	return err
}

func openStore(ctx context.Context, cfg ops.Store) (state.Store, *conn.Client, error) {
	switch cfg.Kind {
	case ops.StoreMemory:
		logs.Info("trader: memory store, checkpoints are lost on exit")
		return state.NewMemoryStore(), nil, nil
	case ops.StorePostgres:
		client, err := conn.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store, err := state.NewGormStore(ctx, client.DB())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client, nil
	default:
		store, err := state.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		logs.Infof("trader: file store at %s", cfg.Dir)
		return store, nil, nil
	}
}

func walks(workers []worker.Config, opt options) map[string]*market.Walk {
	out := make(map[string]*market.Walk)
	for _, w := range workers {
		if _, ok := out[w.Symbol]; ok {
			continue
		}
		out[w.Symbol] = market.NewWalk(market.WalkConfig{
			Seed:       opt.seed + uint64(len(out)),
			Start:      opt.simStart,
			Volatility: opt.simVol,
			Interval:   opt.simInterval,
			From:       time.Now().UTC().Add(-250 * opt.simInterval),
		})
	}
	return out
}

// applyWorkers creates configured workers that have no checkpoint yet.
func applyWorkers(ctx context.Context, sup *supervisor.Supervisor, workers []worker.Config, autoStart bool) {
	for _, cfg := range workers {
		if _, err := sup.Status(cfg.ID); err == nil {
			continue
		}
		if _, err := sup.Create(ctx, cfg); err != nil {
			logs.Errorf("trader: create %s, err: %+v", cfg.ID, err)
			continue
		}
		if !autoStart {
			continue
		}
		if err := sup.Start(ctx, cfg.ID); err != nil {
			logs.Errorf("trader: start %s, err: %+v", cfg.ID, err)
		}
	}
}

func logTotals(sup *supervisor.Supervisor, alloc *capital.Allocator, metrics *obs.Metrics) {
	for _, st := range sup.List() {
		raw, err := worker.MarshalStatus(st)
		if err != nil {
			logs.Errorf("trader: encode status of %s, err: %+v", st.ID, err)
			continue
		}
		logs.Infof("trader: worker %s", raw)
	}
	for _, p := range alloc.Pools() {
		logs.Infof("trader: pool %s allocation=%s reserved=%s free=%s realized=%s", p.ID, p.Allocation, p.Reserved, p.Free, p.Realized)
	}
	snapshot := metrics.Snapshot()
	logs.Infof("trader: tick latency %+v checkpoint latency %+v", snapshot.Tick, snapshot.Checkpoint)
}

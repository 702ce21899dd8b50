package supervisor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/capital"
	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const (
	defaultStallWindow     = 5 * time.Minute
	defaultMonitorInterval = 15 * time.Second
)

// Builder creates a worker of one strategy kind.
type Builder func(cfg worker.Config, env worker.Env) (*worker.Runner, error)

// Config controls the supervisor.
type Config struct {
	StallWindow     time.Duration
	MonitorInterval time.Duration
	// Now is the clock handed to ticks. nil uses the wall clock.
	Now func() time.Time
	// Allocator, when set, has its pools exported as gauges on every monitor sweep.
	Allocator *capital.Allocator
}

func (c Config) withDefaults() Config {
	if c.StallWindow <= 0 {
		c.StallWindow = defaultStallWindow
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

type entry struct {
	runner  *worker.Runner
	wake    chan struct{}
	stop    context.CancelFunc
	since   atomic.Int64
	stalled atomic.Bool
}

// Supervisor owns the workers of one account. Each worker ticks on its own
// goroutine; the supervisor only routes commands and watches heartbeats.
type Supervisor struct {
	cfg      Config
	env      worker.Env
	builders map[enum.StrategyKind]Builder

	mu      sync.RWMutex
	workers map[string]*entry
	runCtx  context.Context
	wg      sync.WaitGroup

	running    atomic.Bool
	halted     atomic.Bool
	haltErr    atomic.Pointer[error]
	haltC      chan error
	blockUntil atomic.Int64
}

func New(env worker.Env, builders map[enum.StrategyKind]Builder, cfg Config) *Supervisor {
	return &Supervisor{
		cfg:      cfg.withDefaults(),
		env:      env.WithDefaults(),
		builders: builders,
		workers:  make(map[string]*entry),
		haltC:    make(chan error, 1),
	}
}

// Create builds and registers a stopped worker and writes its first checkpoint.
func (s *Supervisor) Create(ctx context.Context, cfg worker.Config) (worker.Status, error) {
	if err := s.halt(); err != nil {
		return worker.Status{}, err
	}
	cfg = cfg.WithDefaults()
	build, ok := s.builders[cfg.Kind]
	if !ok {
		return worker.Status{}, errors.Wrapf(exception.ErrUnknownKind, "worker %s kind %q", cfg.ID, cfg.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[cfg.ID]; exists {
		return worker.Status{}, errors.Wrapf(exception.ErrWorkerExists, "worker %s", cfg.ID)
	}
	if _, err := s.env.Store.Load(ctx, state.WorkerKey(cfg.ID)); err == nil {
		return worker.Status{}, errors.Wrapf(exception.ErrWorkerExists, "worker %s has a checkpoint", cfg.ID)
	}
	r, err := build(cfg, s.env)
	if err != nil {
		return worker.Status{}, err
	}
	if err := r.Tick(ctx, s.cfg.Now()); err != nil {
		return worker.Status{}, err
	}
	e := s.register(r)
	logs.Infof("supervisor: created %s worker %s on %s", cfg.Kind, cfg.ID, cfg.Symbol)
	return e.runner.Status(), nil
}

// register must be called with s.mu held.
func (s *Supervisor) register(r *worker.Runner) *entry {
	e := &entry{runner: r, wake: make(chan struct{}, 1)}
	e.since.Store(s.cfg.Now().UnixNano())
	s.workers[r.ID()] = e
	if s.runCtx != nil {
		s.spawn(s.runCtx, e)
	}
	return e
}

func (s *Supervisor) Start(ctx context.Context, id string) error {
	return s.send(ctx, id, worker.CommandStart, nil)
}

func (s *Supervisor) Pause(ctx context.Context, id string) error {
	return s.send(ctx, id, worker.CommandPause, nil)
}

func (s *Supervisor) Resume(ctx context.Context, id string) error {
	return s.send(ctx, id, worker.CommandResume, nil)
}

func (s *Supervisor) Stop(ctx context.Context, id string) error {
	return s.send(ctx, id, worker.CommandStop, nil)
}

// Panic force-closes the worker's position and stops it.
func (s *Supervisor) Panic(ctx context.Context, id string) error {
	return s.send(ctx, id, worker.CommandPanic, nil)
}

// Tune applies a JSON patch of live-tunable params.
func (s *Supervisor) Tune(ctx context.Context, id string, patch json.RawMessage) error {
	return s.send(ctx, id, worker.CommandTune, patch)
}

// Delete removes a flat worker, its reservation and its checkpoint.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	if err := s.send(ctx, id, worker.CommandDelete, nil); err != nil {
		return err
	}
	s.mu.Lock()
	e, ok := s.workers[id]
	delete(s.workers, id)
	s.mu.Unlock()
	if ok && e.stop != nil {
		e.stop()
	}
	logs.Infof("supervisor: deleted worker %s", id)
	return nil
}

func (s *Supervisor) Status(id string) (worker.Status, error) {
	e, err := s.get(id)
	if err != nil {
		return worker.Status{}, err
	}
	return e.runner.Status(), nil
}

// List returns every worker status ordered by id.
func (s *Supervisor) List() []worker.Status {
	s.mu.RLock()
	out := make([]worker.Status, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, e.runner.Status())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// send enqueues a command and waits for the worker to resolve it. Without
// running loops the worker is ticked inline.
func (s *Supervisor) send(ctx context.Context, id string, kind worker.CommandKind, patch json.RawMessage) error {
	if err := s.halt(); err != nil {
		return err
	}
	e, err := s.get(id)
	if err != nil {
		return err
	}
	cmd := worker.NewCommand(kind, patch)
	if err := e.runner.Enqueue(cmd); err != nil {
		return err
	}
	if s.running.Load() {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	} else {
		s.tick(ctx, e, s.cfg.Now())
	}
	return cmd.Wait(ctx)
}

func (s *Supervisor) get(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workers[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrWorkerNotFound, "worker %s", id)
	}
	return e, nil
}

func (s *Supervisor) entries() []*entry {
	s.mu.RLock()
	out := make([]*entry, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].runner.ID() < out[j].runner.ID() })
	return out
}

// Run starts a loop per worker and the liveness monitor, and blocks until ctx
// is done or the supervisor halts. Loops stop at a tick boundary.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.halt(); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.Wrap(exception.ErrInvalidArgument, "supervisor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.runCtx = ctx
	for _, e := range s.workers {
		s.spawn(ctx, e)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(ctx)
	}()
	logs.Infof("supervisor: running %d workers", len(s.List()))

	var err error
	select {
	case <-ctx.Done():
	case err = <-s.haltC:
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.runCtx = nil
	s.mu.Unlock()
	s.running.Store(false)
	logs.Info("supervisor: stopped")
	return err
}

// spawn must be called with s.mu held.
func (s *Supervisor) spawn(ctx context.Context, e *entry) {
	loopCtx, stop := context.WithCancel(ctx)
	e.stop = stop
	e.since.Store(s.cfg.Now().UnixNano())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx, e)
	}()
}

func (s *Supervisor) loop(ctx context.Context, e *entry) {
	ticker := time.NewTicker(e.runner.Interval())
	defer ticker.Stop()
	for {
		if !s.tick(ctx, e, s.cfg.Now()) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

// Step ticks every worker once in id order. Backtests drive the supervisor
// with it under a simulated clock.
func (s *Supervisor) Step(ctx context.Context, now time.Time) error {
	if err := s.halt(); err != nil {
		return err
	}
	for _, e := range s.entries() {
		s.tick(ctx, e, now)
		if err := s.halt(); err != nil {
			return err
		}
	}
	return nil
}

// tick runs one worker cycle and reports whether its loop should continue.
func (s *Supervisor) tick(ctx context.Context, e *entry, now time.Time) bool {
	err := e.runner.Tick(ctx, now)
	if err == nil {
		return true
	}
	if errors.Is(err, exception.ErrWorkerDeleted) || errors.Is(err, context.Canceled) {
		return false
	}
	switch errors.Classify(err) {
	case errors.KindBlocked:
		until, _ := errors.BlockedUntil(err)
		s.suspendAll(until, err)
	case errors.KindFatalProcess:
		s.haltWith(err)
		return false
	default:
		logs.Errorf("supervisor: worker %s tick, err: %+v", e.runner.ID(), err)
	}
	return true
}

// suspendAll stops ticking on every worker of the account until the lift
// time. Reservations are kept.
func (s *Supervisor) suspendAll(until time.Time, cause error) {
	for _, e := range s.entries() {
		e.runner.Suspend(until)
	}
	n := until.UnixNano()
	for {
		cur := s.blockUntil.Load()
		if n <= cur {
			return
		}
		if s.blockUntil.CompareAndSwap(cur, n) {
			break
		}
	}
	s.env.Metrics.IncSuspension()
	logs.Errorf("supervisor: account blocked until %s, suspending all workers, err: %+v", until.Format(time.RFC3339), cause)
	s.env.Notifier.Notify(notify.EventSuspended, notify.Payload{"until": until.Format(time.RFC3339), "reason": cause.Error()})
}

func (s *Supervisor) haltWith(cause error) {
	if !s.halted.CompareAndSwap(false, true) {
		return
	}
	err := errors.Wrapf(exception.ErrSupervisorHalted, "%v", cause)
	s.haltErr.Store(&err)
	logs.Errorf("supervisor: halting, err: %+v", cause)
	s.env.Notifier.Notify(notify.EventHalt, notify.Payload{"error": cause.Error()})
	select {
	case s.haltC <- err:
	default:
	}
}

// halt returns the halt error once the supervisor has halted.
func (s *Supervisor) halt() error {
	if !s.halted.Load() {
		return nil
	}
	if p := s.haltErr.Load(); p != nil {
		return *p
	}
	return exception.ErrSupervisorHalted
}

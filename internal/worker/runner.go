package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const commandQueueSize = 16

// Strategy is the kind-specific part of a worker. Every method is called with
// the worker's tick mutex held.
type Strategy interface {
	// State returns the state machine tag.
	State() string
	// Body returns the checkpointed strategy state.
	Body() any
	// Restore decodes Body output and re-derives transient fields.
	Restore(ctx context.Context, c *Cycle, body []byte) error
	// Step advances the state machine by one tick.
	Step(ctx context.Context, c *Cycle) error
	// PanicClose cancels every open order and liquidates the position.
	PanicClose(ctx context.Context, c *Cycle) error
	// Tune applies a JSON patch of live-tunable parameters.
	Tune(patch []byte) error
	// Flat reports whether no position and no open order remain.
	Flat() bool
	Describe(st *Status)
}

var _ Worker = (*Runner)(nil)

type envelope struct {
	Config         Config         `json:"config"`
	Lifecycle      enum.Lifecycle `json:"lifecycle"`
	SuspendedUntil time.Time      `json:"suspendedUntil"`
	SelfSuspended  bool           `json:"selfSuspended"`
	Retry          Retry          `json:"retry"`
	State          string         `json:"state"`
	Strategy       any            `json:"strategy"`
}

type storedEnvelope struct {
	Config         Config          `json:"config"`
	Lifecycle      enum.Lifecycle  `json:"lifecycle"`
	SuspendedUntil time.Time       `json:"suspendedUntil"`
	SelfSuspended  bool            `json:"selfSuspended"`
	Retry          Retry           `json:"retry"`
	State          string          `json:"state"`
	Strategy       json.RawMessage `json:"strategy"`
}

// DecodeHead reads the identity and lifecycle of a worker checkpoint.
func DecodeHead(rec state.Record) (Config, enum.Lifecycle, error) {
	var env storedEnvelope
	if err := rec.Decode(&env); err != nil {
		return Config{}, 0, err
	}
	return env.Config, env.Lifecycle, nil
}

// Runner drives a Strategy: command handling at tick boundaries, retry and
// suspension, heartbeat and checkpointing.
type Runner struct {
	cfg      Config
	env      Env
	strategy Strategy
	policy   RetryPolicy

	mu       sync.Mutex
	retry    Retry
	lastBody []byte

	cmds          chan Command
	lifecycle     atomic.Uint32
	suspended     atomic.Int64
	selfSuspended atomic.Bool
	lastTick      atomic.Int64
	status        atomic.Pointer[Status]
}

// NewRunner creates a stopped worker.
func NewRunner(cfg Config, env Env, s Strategy) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil || env.Gateway == nil || env.Capital == nil || env.Store == nil {
		return nil, errors.Wrapf(exception.ErrNilInstance, "worker %s dependencies", cfg.ID)
	}
	r := &Runner{
		cfg:      cfg,
		env:      env.WithDefaults(),
		strategy: s,
		policy:   cfg.Policy(),
		cmds:     make(chan Command, commandQueueSize),
	}
	r.lifecycle.Store(uint32(enum.LifecycleStopped))
	r.publish(time.Time{})
	return r, nil
}

func (r *Runner) ID() string                { return r.cfg.ID }
func (r *Runner) Kind() enum.StrategyKind   { return r.cfg.Kind }
func (r *Runner) Interval() time.Duration   { return r.cfg.Interval }
func (r *Runner) Config() Config            { return r.cfg }
func (r *Runner) Lifecycle() enum.Lifecycle { return enum.Lifecycle(r.lifecycle.Load()) }

// Status returns the latest published snapshot without locking.
func (r *Runner) Status() Status {
	if st := r.status.Load(); st != nil {
		return *st
	}
	return Status{ID: r.cfg.ID}
}

// LastTick is the heartbeat written at the end of every tick.
func (r *Runner) LastTick() time.Time {
	n := r.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *Runner) SuspendedUntil() time.Time {
	n := r.suspended.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Suspend stops ticking until the given time. A later deadline wins.
func (r *Runner) Suspend(until time.Time) {
	r.extendSuspension(until, false)
}

// Enqueue hands a command to the next tick.
func (r *Runner) Enqueue(cmd Command) error {
	if r.Lifecycle() == enum.LifecycleDeleted {
		return errors.Wrapf(exception.ErrWorkerDeleted, "worker %s", r.cfg.ID)
	}
	if !cmd.Kind.IsAvailable() {
		return errors.Wrapf(exception.ErrInvalidArgument, "command %d", cmd.Kind)
	}
	select {
	case r.cmds <- cmd:
		return nil
	default:
		return errors.Wrapf(exception.ErrCommandQueueFull, "worker %s", r.cfg.ID)
	}
}

// Start marks a freshly created worker as running without a tick.
func (r *Runner) Start() {
	r.lifecycle.CompareAndSwap(uint32(enum.LifecycleStopped), uint32(enum.LifecycleRunning))
}

// Restore loads a checkpoint produced by this worker kind.
func (r *Runner) Restore(ctx context.Context, rec state.Record, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var env storedEnvelope
	if err := rec.Decode(&env); err != nil {
		return err
	}
	if !env.Lifecycle.IsAvailable() || env.Lifecycle == enum.LifecycleDeleted {
		env.Lifecycle = enum.LifecycleStopped
	}
	if env.Lifecycle == enum.LifecycleSuspended {
		env.Lifecycle = enum.LifecycleRunning
	}
	r.lifecycle.Store(uint32(env.Lifecycle))
	if env.SuspendedUntil.After(now) {
		r.extendSuspension(env.SuspendedUntil, env.SelfSuspended)
	}
	r.retry = env.Retry
	r.retry.NextAt = time.Time{}

	c := r.cycle(now)
	if err := r.strategy.Restore(ctx, c, env.Strategy); err != nil {
		return errors.Wrapf(err, "restore worker %s", r.cfg.ID)
	}
	r.lastBody = append([]byte(nil), rec.Body...)
	r.publish(now)
	logs.Infof("worker %s: restored %s state=%s lifecycle=%s", r.cfg.ID, r.cfg.Kind, r.strategy.State(), r.Lifecycle())
	return nil
}

// Tick runs one cycle. Only access blocks and process-fatal errors are returned.
func (r *Runner) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.lastTick.Store(now.UnixNano())

	if r.Lifecycle() == enum.LifecycleDeleted {
		r.rejectCommands(errors.Wrapf(exception.ErrWorkerDeleted, "worker %s", r.cfg.ID))
		return errors.Wrapf(exception.ErrWorkerDeleted, "worker %s", r.cfg.ID)
	}

	c := r.cycle(now)
	suspended := r.isSuspended(now)
	if !suspended && r.suspended.Load() != 0 {
		r.suspended.Store(0)
		r.selfSuspended.Store(false)
		logs.Infof("worker %s: suspension lifted", r.cfg.ID)
		c.Notify(notify.EventResumed, nil)
	}

	r.drain(ctx, c, suspended)
	suspended = r.isSuspended(now)

	lc := r.Lifecycle()
	if lc == enum.LifecycleDeleted {
		return nil
	}
	if suspended || lc != enum.LifecycleRunning || !r.retry.Ready(now) {
		err := r.save(ctx, now)
		r.publish(now)
		return err
	}

	stepErr := r.handle(c, r.strategy.Step(ctx, c))
	if err := r.save(ctx, now); err != nil {
		return err
	}
	r.publish(now)
	r.env.Metrics.ObserveTick(r.cfg.ID, string(r.cfg.Kind), time.Since(start))
	return stepErr
}

func (r *Runner) handle(c *Cycle, err error) error {
	kind := errors.Classify(err)
	if kind != errors.KindNone {
		r.env.Metrics.IncTickError(r.cfg.ID, kind.String())
	}
	switch kind {
	case errors.KindNone:
		r.retry.Reset()
		return nil
	case errors.KindDenied:
		logs.Infof("worker %s: denied, err: %+v", r.cfg.ID, err)
		return nil
	case errors.KindBlocked:
		until, _ := errors.BlockedUntil(err)
		r.Suspend(until)
		logs.Errorf("worker %s: access blocked until %s", r.cfg.ID, until.Format(time.RFC3339))
		return err
	case errors.KindFatalProcess:
		return err
	case errors.KindFatalWorker:
		r.suspendSelf(c, err, "fatal")
		return nil
	default:
		if r.retry.Fail(r.policy, err, c.Now) {
			r.suspendSelf(c, errors.Wrapf(exception.ErrRetryExhausted, "%v", err), "retry exhausted")
			return nil
		}
		logs.Errorf("worker %s: %s error, retry %d/%d at %s, err: %+v", r.cfg.ID, kind, r.retry.Attempts, r.policy.MaxRetries, r.retry.NextAt.Format(time.RFC3339), err)
		return nil
	}
}

func (r *Runner) suspendSelf(c *Cycle, err error, reason string) {
	until := c.Now.Add(r.policy.Suspend)
	r.retry.LastErr = err.Error()
	r.extendSuspension(until, true)
	logs.Errorf("worker %s: %s, suspended until %s, err: %+v", r.cfg.ID, reason, until.Format(time.RFC3339), err)
	c.Notify(notify.EventRetryExhausted, notify.Payload{"reason": reason, "error": err.Error(), "until": until.Format(time.RFC3339)})
}

func (r *Runner) extendSuspension(until time.Time, self bool) {
	n := until.UnixNano()
	for {
		cur := r.suspended.Load()
		if n <= cur {
			return
		}
		if r.suspended.CompareAndSwap(cur, n) {
			r.selfSuspended.Store(self)
			return
		}
	}
}

func (r *Runner) isSuspended(now time.Time) bool {
	n := r.suspended.Load()
	return n != 0 && now.UnixNano() < n
}

func (r *Runner) drain(ctx context.Context, c *Cycle, suspended bool) {
	for {
		select {
		case cmd := <-r.cmds:
			err := r.apply(ctx, c, cmd, suspended)
			if err != nil {
				logs.Errorf("worker %s: command %s failed, err: %+v", r.cfg.ID, cmd.Kind, err)
			} else {
				logs.Infof("worker %s: command %s applied", r.cfg.ID, cmd.Kind)
			}
			cmd.resolve(err)
		default:
			return
		}
	}
}

func (r *Runner) rejectCommands(err error) {
	for {
		select {
		case cmd := <-r.cmds:
			cmd.resolve(err)
		default:
			return
		}
	}
}

func (r *Runner) apply(ctx context.Context, c *Cycle, cmd Command, suspended bool) error {
	if r.Lifecycle() == enum.LifecycleDeleted {
		return errors.Wrapf(exception.ErrWorkerDeleted, "worker %s", r.cfg.ID)
	}
	switch cmd.Kind {
	case CommandStart, CommandResume:
		if r.selfSuspended.Load() {
			r.suspended.Store(0)
			r.selfSuspended.Store(false)
		}
		r.retry.Reset()
		r.lifecycle.Store(uint32(enum.LifecycleRunning))
	case CommandPause:
		r.lifecycle.Store(uint32(enum.LifecyclePaused))
	case CommandStop:
		r.lifecycle.Store(uint32(enum.LifecycleStopped))
	case CommandTune:
		return r.strategy.Tune(cmd.Patch)
	case CommandPanic:
		if suspended {
			return errors.Wrapf(exception.ErrWorkerSuspended, "worker %s until %s", r.cfg.ID, r.SuspendedUntil().Format(time.RFC3339))
		}
		if err := r.strategy.PanicClose(ctx, c); err != nil {
			return err
		}
		r.lifecycle.Store(uint32(enum.LifecycleStopped))
		c.Notify(notify.EventPanicClose, nil)
	case CommandDelete:
		if !r.strategy.Flat() {
			return errors.Wrapf(exception.ErrWorkerNotFlat, "worker %s state %s", r.cfg.ID, r.strategy.State())
		}
		if _, ok := r.env.Capital.Holding(r.cfg.ID, r.cfg.PoolID); ok {
			if err := r.env.Capital.Release(ctx, r.cfg.ID, r.cfg.PoolID, decimal.Zero); err != nil {
				return err
			}
		}
		if err := r.env.Store.Delete(ctx, state.WorkerKey(r.cfg.ID)); err != nil {
			return err
		}
		r.lifecycle.Store(uint32(enum.LifecycleDeleted))
		r.lastBody = nil
	}
	return nil
}

func (r *Runner) cycle(now time.Time) *Cycle {
	c := &Cycle{Env: r.env, Config: r.cfg, Now: now}
	c.save = func(ctx context.Context) error { return r.save(ctx, now) }
	return c
}

// save must be called with r.mu held. Unchanged state is not rewritten.
func (r *Runner) save(ctx context.Context, now time.Time) error {
	if r.Lifecycle() == enum.LifecycleDeleted {
		return nil
	}
	env := envelope{
		Config:         r.cfg,
		Lifecycle:      r.Lifecycle(),
		SuspendedUntil: r.SuspendedUntil(),
		SelfSuspended:  r.selfSuspended.Load(),
		Retry:          r.retry,
		State:          r.strategy.State(),
		Strategy:       r.strategy.Body(),
	}
	rec, err := state.NewRecord(state.WorkerKey(r.cfg.ID), string(r.cfg.Kind), env, now)
	if err != nil {
		return err
	}
	if bytes.Equal(rec.Body, r.lastBody) {
		return nil
	}
	start := time.Now()
	if err := r.env.Store.Save(ctx, rec); err != nil {
		return errors.Wrapf(err, "checkpoint worker %s", r.cfg.ID)
	}
	r.env.Metrics.ObserveCheckpoint(time.Since(start))
	r.lastBody = rec.Body
	return nil
}

func (r *Runner) publish(now time.Time) {
	st := Status{
		ID:             r.cfg.ID,
		Symbol:         r.cfg.Symbol,
		Kind:           r.cfg.Kind,
		Mode:           r.cfg.Mode,
		PoolID:         r.cfg.PoolID,
		Lifecycle:      r.Lifecycle(),
		State:          r.strategy.State(),
		SuspendedUntil: r.SuspendedUntil(),
		LastError:      r.retry.LastErr,
		UpdatedAt:      now,
	}
	if r.isSuspended(now) && st.Lifecycle == enum.LifecycleRunning {
		st.Lifecycle = enum.LifecycleSuspended
	}
	if res, ok := r.env.Capital.Holding(r.cfg.ID, r.cfg.PoolID); ok {
		st.Reserved = res.Amount.InexactFloat64()
	}
	r.strategy.Describe(&st)
	r.status.Store(&st)
}

// MarshalStatus encodes a status for operator output.
func MarshalStatus(st Status) ([]byte, error) {
	return sonic.Marshal(st)
}

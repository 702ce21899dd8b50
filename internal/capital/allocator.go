package capital

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/obs"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const poolKind = "pool"

// Reservation is a worker's claim on pool capital.
type Reservation struct {
	ID           string          `json:"id"`
	WorkerID     string          `json:"workerId"`
	PoolID       string          `json:"poolId"`
	Amount       decimal.Decimal `json:"amount"`
	AutoCompound bool            `json:"autoCompound"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Request asks for capital from a pool.
type Request struct {
	WorkerID     string
	PoolID       string
	Amount       decimal.Decimal
	AutoCompound bool
}

// Grant is the allocator's answer. A denial is not an error.
type Grant struct {
	Granted     bool
	Reason      Reason
	Reservation Reservation
}

// PoolStatus is a read-only view of a pool.
type PoolStatus struct {
	ID           string
	Allocation   decimal.Decimal
	Reserved     decimal.Decimal
	Free         decimal.Decimal
	Realized     decimal.Decimal
	Reservations []Reservation
}

type pool struct {
	mu           sync.Mutex
	id           string
	allocation   decimal.Decimal
	realized     decimal.Decimal
	reservations map[string]Reservation
}

type poolBody struct {
	ID           string          `json:"id"`
	Allocation   decimal.Decimal `json:"allocation"`
	Realized     decimal.Decimal `json:"realized"`
	Reservations []Reservation   `json:"reservations"`
}

// Allocator partitions pool capital between workers. Each pool is guarded by
// its own mutex; check and commit happen in one critical section and the pool
// record is persisted before the lock is released.
type Allocator struct {
	store   state.Store
	metrics *obs.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	pools map[string]*pool
}

// NewAllocator creates an empty allocator persisting to store.
func NewAllocator(store state.Store, metrics *obs.Metrics) *Allocator {
	return &Allocator{
		store:   store,
		metrics: metrics,
		now:     time.Now,
		pools:   make(map[string]*pool),
	}
}

// SetClock overrides the time source.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// Load restores every persisted pool.
func (a *Allocator) Load(ctx context.Context) error {
	result, err := state.Recover(ctx, a.store, state.PoolPrefix)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		keys := make([]string, 0, len(result.Failed))
		for key := range result.Failed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return errors.Wrapf(result.Failed[keys[0]], "load pool %s", keys[0])
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range result.Records {
		var body poolBody
		if err := rec.Decode(&body); err != nil {
			return errors.Wrapf(err, "decode pool %s", rec.Key)
		}
		p := &pool{
			id:           body.ID,
			allocation:   body.Allocation,
			realized:     body.Realized,
			reservations: make(map[string]Reservation, len(body.Reservations)),
		}
		for _, r := range body.Reservations {
			p.reservations[r.WorkerID] = r
		}
		a.pools[p.id] = p
		a.metrics.SetPoolFree(p.id, p.free().InexactFloat64())
		logs.Infof("capital: pool %s loaded allocation=%s reservations=%d", p.id, p.allocation, len(p.reservations))
	}
	return nil
}

// AddPool registers and persists a new pool.
func (a *Allocator) AddPool(ctx context.Context, id string, allocation decimal.Decimal) error {
	if id == "" || allocation.IsNegative() {
		return errors.Wrapf(exception.ErrInvalidArgument, "pool %q allocation %s", id, allocation)
	}
	a.mu.Lock()
	if _, ok := a.pools[id]; ok {
		a.mu.Unlock()
		return errors.Wrapf(exception.ErrPoolExists, "pool %s", id)
	}
	p := &pool{id: id, allocation: allocation, reservations: make(map[string]Reservation)}
	a.pools[id] = p
	a.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := a.persist(ctx, p); err != nil {
		a.mu.Lock()
		delete(a.pools, id)
		a.mu.Unlock()
		return err
	}
	return nil
}

// HasPool reports whether the pool exists.
func (a *Allocator) HasPool(id string) bool {
	return a.pool(id) != nil
}

// SetAllocation changes a pool's allocation. It cannot drop below outstanding reservations.
func (a *Allocator) SetAllocation(ctx context.Context, id string, allocation decimal.Decimal) error {
	p := a.pool(id)
	if p == nil {
		return errors.Wrapf(exception.ErrUnknownPool, "pool %s", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if allocation.LessThan(p.reserved()) {
		return errors.Wrapf(exception.ErrAllocationTooSmall, "pool %s allocation %s reserved %s", id, allocation, p.reserved())
	}
	prev := p.allocation
	p.allocation = allocation
	if err := a.persist(ctx, p); err != nil {
		p.allocation = prev
		return err
	}
	return nil
}

// Reserve grants req when the pool can cover it. The error is non-nil only for
// programming errors (duplicate reservation) and persistence failures.
func (a *Allocator) Reserve(ctx context.Context, req Request) (Grant, error) {
	if !req.Amount.IsPositive() {
		return a.deny(req.PoolID, ReasonInvalidAmount), nil
	}
	p := a.pool(req.PoolID)
	if p == nil {
		return a.deny(req.PoolID, ReasonUnknownPool), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.reservations[req.WorkerID]; ok {
		logs.Errorf("capital: worker %s already holds a reservation in pool %s", req.WorkerID, req.PoolID)
		return a.deny(req.PoolID, ReasonDuplicate), errors.Wrapf(exception.ErrReservationExists, "worker %s pool %s", req.WorkerID, req.PoolID)
	}
	if p.free().LessThan(req.Amount) {
		return a.deny(req.PoolID, ReasonInsufficient), nil
	}

	r := Reservation{
		ID:           uuid.New().String(),
		WorkerID:     req.WorkerID,
		PoolID:       req.PoolID,
		Amount:       req.Amount,
		AutoCompound: req.AutoCompound,
		CreatedAt:    a.now().UTC(),
	}
	p.reservations[req.WorkerID] = r
	if err := a.persist(ctx, p); err != nil {
		delete(p.reservations, req.WorkerID)
		return Grant{}, err
	}
	a.metrics.IncReservation(p.id, "reserve")
	return Grant{Granted: true, Reason: ReasonNone, Reservation: r}, nil
}

// Extend grows the worker's existing reservation by amount.
func (a *Allocator) Extend(ctx context.Context, workerID, poolID string, amount decimal.Decimal) (Grant, error) {
	if !amount.IsPositive() {
		return a.deny(poolID, ReasonInvalidAmount), nil
	}
	p := a.pool(poolID)
	if p == nil {
		return a.deny(poolID, ReasonUnknownPool), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[workerID]
	if !ok {
		return a.deny(poolID, ReasonMissing), nil
	}
	if p.free().LessThan(amount) {
		return a.deny(poolID, ReasonInsufficient), nil
	}
	prev := r
	r.Amount = r.Amount.Add(amount)
	p.reservations[workerID] = r
	if err := a.persist(ctx, p); err != nil {
		p.reservations[workerID] = prev
		return Grant{}, err
	}
	a.metrics.IncReservation(p.id, "extend")
	return Grant{Granted: true, Reason: ReasonNone, Reservation: r}, nil
}

// Release removes the worker's reservation. A positive pnl on an auto-compound
// reservation grows the pool allocation.
func (a *Allocator) Release(ctx context.Context, workerID, poolID string, pnl decimal.Decimal) error {
	p := a.pool(poolID)
	if p == nil {
		return errors.Wrapf(exception.ErrUnknownPool, "pool %s", poolID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[workerID]
	if !ok {
		return errors.Wrapf(exception.ErrReservationMissing, "worker %s pool %s", workerID, poolID)
	}
	prevAlloc, prevRealized := p.allocation, p.realized
	delete(p.reservations, workerID)
	p.realized = p.realized.Add(pnl)
	if r.AutoCompound && pnl.IsPositive() {
		p.allocation = p.allocation.Add(pnl)
	}
	if err := a.persist(ctx, p); err != nil {
		p.reservations[workerID] = r
		p.allocation, p.realized = prevAlloc, prevRealized
		return err
	}
	a.metrics.IncReservation(p.id, "release")
	return nil
}

// Adopt re-registers a reservation a worker checkpoint still references but the
// pool record lost. It is denied like Reserve when the pool cannot cover it.
func (a *Allocator) Adopt(ctx context.Context, r Reservation) (Grant, error) {
	p := a.pool(r.PoolID)
	if p == nil {
		return a.deny(r.PoolID, ReasonUnknownPool), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.reservations[r.WorkerID]; ok {
		return Grant{Granted: true, Reason: ReasonNone, Reservation: cur}, nil
	}
	if !r.Amount.IsPositive() {
		return a.deny(r.PoolID, ReasonInvalidAmount), nil
	}
	if p.free().LessThan(r.Amount) {
		return a.deny(r.PoolID, ReasonInsufficient), nil
	}
	p.reservations[r.WorkerID] = r
	if err := a.persist(ctx, p); err != nil {
		delete(p.reservations, r.WorkerID)
		return Grant{}, err
	}
	return Grant{Granted: true, Reason: ReasonNone, Reservation: r}, nil
}

// Holding returns the worker's open reservation in the pool.
func (a *Allocator) Holding(workerID, poolID string) (Reservation, bool) {
	p := a.pool(poolID)
	if p == nil {
		return Reservation{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reservations[workerID]
	return r, ok
}

// Snapshot returns the status of one pool.
func (a *Allocator) Snapshot(poolID string) (PoolStatus, bool) {
	p := a.pool(poolID)
	if p == nil {
		return PoolStatus{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(), true
}

// Pools returns the status of every pool ordered by id.
func (a *Allocator) Pools() []PoolStatus {
	a.mu.RLock()
	pools := make([]*pool, 0, len(a.pools))
	for _, p := range a.pools {
		pools = append(pools, p)
	}
	a.mu.RUnlock()

	out := make([]PoolStatus, 0, len(pools))
	for _, p := range pools {
		p.mu.Lock()
		out = append(out, p.status())
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Allocator) pool(id string) *pool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pools[id]
}

func (a *Allocator) deny(poolID string, reason Reason) Grant {
	a.metrics.IncDenial(poolID, reason.String())
	return Grant{Granted: false, Reason: reason}
}

// persist must be called with p.mu held.
func (a *Allocator) persist(ctx context.Context, p *pool) error {
	body := poolBody{
		ID:           p.id,
		Allocation:   p.allocation,
		Realized:     p.realized,
		Reservations: p.sortedReservations(),
	}
	rec, err := state.NewRecord(state.PoolKey(p.id), poolKind, body, a.now())
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, rec); err != nil {
		return errors.Wrapf(err, "persist pool %s", p.id)
	}
	a.metrics.SetPoolFree(p.id, p.free().InexactFloat64())
	return nil
}

func (p *pool) reserved() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range p.reservations {
		sum = sum.Add(r.Amount)
	}
	return sum
}

func (p *pool) free() decimal.Decimal {
	return p.allocation.Sub(p.reserved())
}

func (p *pool) sortedReservations() []Reservation {
	out := make([]Reservation, 0, len(p.reservations))
	for _, r := range p.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

func (p *pool) status() PoolStatus {
	reserved := p.reserved()
	return PoolStatus{
		ID:           p.id,
		Allocation:   p.allocation,
		Reserved:     reserved,
		Free:         p.allocation.Sub(reserved),
		Realized:     p.realized,
		Reservations: p.sortedReservations(),
	}
}

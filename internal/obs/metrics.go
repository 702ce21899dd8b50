package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the engine collectors. A nil *Metrics is a no-op.
type Metrics struct {
	ticks         *prometheus.CounterVec
	tickErrors    *prometheus.CounterVec
	tickSeconds   *prometheus.HistogramVec
	orders        *prometheus.CounterVec
	reservations  *prometheus.CounterVec
	denials       *prometheus.CounterVec
	stalls        *prometheus.CounterVec
	suspensions   prometheus.Counter
	poolFree      *prometheus.GaugeVec
	realizedPnL   *prometheus.GaugeVec
	notifyDrops   prometheus.Counter
	checkpointLat LatencyStats
	tickLat       LatencyStats
}

// Snapshot is a point-in-time view of the in-process latency stats.
type Snapshot struct {
	Tick       LatencySnapshot
	Checkpoint LatencySnapshot
}

// NewMetrics builds and registers collectors. A nil registerer skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_worker_ticks_total",
			Help: "Worker ticks executed.",
		}, []string{"worker", "kind"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_worker_tick_errors_total",
			Help: "Worker tick errors by class.",
		}, []string{"worker", "class"}),
		tickSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_worker_tick_seconds",
			Help:    "Worker tick latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_total",
			Help: "Orders sent to the gateway.",
		}, []string{"worker", "side", "result"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_capital_reservations_total",
			Help: "Capital reservation operations.",
		}, []string{"pool", "op"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_capital_denials_total",
			Help: "Denied capital requests by reason.",
		}, []string{"pool", "reason"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_worker_stalls_total",
			Help: "Stall episodes detected by the liveness monitor.",
		}, []string{"worker"}),
		suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_account_suspensions_total",
			Help: "Account-wide suspensions after an access block.",
		}),
		poolFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_pool_free_capital",
			Help: "Unreserved capital per pool.",
		}, []string{"pool"}),
		realizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_worker_realized_pnl",
			Help: "Realized pnl per worker.",
		}, []string{"worker"}),
		notifyDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_notify_drops_total",
			Help: "Notifications dropped on a full queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.tickErrors, m.tickSeconds, m.orders, m.reservations,
			m.denials, m.stalls, m.suspensions, m.poolFree, m.realizedPnL, m.notifyDrops)
	}
	return m
}

// ObserveTick records a completed tick.
func (m *Metrics) ObserveTick(worker, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(worker, kind).Inc()
	m.tickSeconds.WithLabelValues(kind).Observe(d.Seconds())
	m.tickLat.Observe(d)
}

func (m *Metrics) IncTickError(worker, class string) {
	if m == nil {
		return
	}
	m.tickErrors.WithLabelValues(worker, class).Inc()
}

func (m *Metrics) IncOrder(worker, side, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(worker, side, result).Inc()
}

func (m *Metrics) IncReservation(pool, op string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(pool, op).Inc()
}

func (m *Metrics) IncDenial(pool, reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(pool, reason).Inc()
}

func (m *Metrics) IncStall(worker string) {
	if m == nil {
		return
	}
	m.stalls.WithLabelValues(worker).Inc()
}

func (m *Metrics) IncSuspension() {
	if m == nil {
		return
	}
	m.suspensions.Inc()
}

func (m *Metrics) IncNotifyDrop() {
	if m == nil {
		return
	}
	m.notifyDrops.Inc()
}

func (m *Metrics) SetPoolFree(pool string, free float64) {
	if m == nil {
		return
	}
	m.poolFree.WithLabelValues(pool).Set(free)
}

func (m *Metrics) SetRealizedPnL(worker string, pnl float64) {
	if m == nil {
		return
	}
	m.realizedPnL.WithLabelValues(worker).Set(pnl)
}

// ObserveCheckpoint measures checkpoint write latency.
func (m *Metrics) ObserveCheckpoint(d time.Duration) {
	if m == nil {
		return
	}
	m.checkpointLat.Observe(d)
}

// Snapshot returns a copy of the latency stats.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Tick:       m.tickLat.Snapshot(),
		Checkpoint: m.checkpointLat.Snapshot(),
	}
}

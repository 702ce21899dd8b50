package supervisor

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/notify"
)

func (s *Supervisor) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.cfg.Now()
			s.CheckStalls(now)
			s.exportPools()
		}
	}
}

// CheckStalls reports running workers whose heartbeat is older than the
// stall window. Each stall is alerted once until the worker ticks again.
// It reads only atomics, so a worker stuck inside its tick cannot block it.
func (s *Supervisor) CheckStalls(now time.Time) []string {
	var stalled []string
	for _, e := range s.entries() {
		r := e.runner
		if r.Lifecycle() != enum.LifecycleRunning || r.SuspendedUntil().After(now) {
			e.stalled.Store(false)
			continue
		}
		last := r.LastTick()
		if since := time.Unix(0, e.since.Load()).UTC(); since.After(last) {
			last = since
		}
		window := s.window(r.Interval())
		if now.Sub(last) <= window {
			e.stalled.Store(false)
			continue
		}
		stalled = append(stalled, r.ID())
		if !e.stalled.CompareAndSwap(false, true) {
			continue
		}
		logs.Errorf("supervisor: worker %s stalled, last tick %s", r.ID(), last.Format(time.RFC3339))
		s.env.Metrics.IncStall(r.ID())
		s.env.Notifier.Notify(notify.EventStall, notify.Payload{
			"worker":   r.ID(),
			"lastTick": last.Format(time.RFC3339),
		})
	}
	return stalled
}

func (s *Supervisor) window(interval time.Duration) time.Duration {
	if w := 2 * interval; w > s.cfg.StallWindow {
		return w
	}
	return s.cfg.StallWindow
}

func (s *Supervisor) exportPools() {
	if s.cfg.Allocator == nil {
		return
	}
	for _, p := range s.cfg.Allocator.Pools() {
		s.env.Metrics.SetPoolFree(p.ID, p.Free.InexactFloat64())
	}
}

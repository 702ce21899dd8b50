package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick("w", "spot", time.Millisecond)
	m.IncOrder("w", "BUY", "ok")
	m.SetPoolFree("main", 1)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveTick("w1", "spot", 2*time.Millisecond)
	m.IncDenial("main", "insufficient")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "autotrader_worker_ticks_total")
	assert.Contains(t, names, "autotrader_capital_denials_total")
	assert.Equal(t, uint64(1), m.Snapshot().Tick.Count)
}

func TestLatencyStatsConcurrent(t *testing.T) {
	var l LatencyStats
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			l.Observe(d)
		}(time.Duration(i) * time.Microsecond)
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, uint64(50), snap.Count)
	assert.Equal(t, time.Microsecond, snap.Min)
	assert.Equal(t, 50*time.Microsecond, snap.Max)
	assert.Equal(t, 25500*time.Nanosecond, snap.Avg)
}

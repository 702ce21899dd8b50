package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPositionWeightedAverage(t *testing.T) {
	var p Position
	p.ApplyBuy(100, 1, 0.1, testTime)
	p.ApplyBuy(90, 2, 0.18, testTime.Add(time.Minute))

	assert.InDelta(t, 3.0, p.Qty, 1e-12)
	assert.InDelta(t, (100.0+180.0)/3.0, p.AvgPrice, 1e-9)
	assert.Equal(t, 2, p.Fills)
	assert.InDelta(t, 180.0, p.LastFill, 1e-12)
	assert.Equal(t, testTime, p.OpenedAt)

	pnl := p.ApplySell(100, 1.5, 0.15)
	expected := 150.0 - 140.0 - 0.15 - 0.14
	assert.InDelta(t, expected, pnl, 1e-9)
	assert.InDelta(t, 1.5, p.Qty, 1e-12)
	assert.InDelta(t, (100.0+180.0)/3.0, p.AvgPrice, 1e-9)

	p.ApplySell(100, 5, 0.15)
	assert.True(t, p.IsFlat())
	assert.Zero(t, p.Cost)
	assert.Zero(t, p.AvgPrice)
}

func TestPositionUnrealized(t *testing.T) {
	testCases := []struct {
		desc     string
		price    float64
		expected float64
	}{
		{"gain", 110, 10 - 0.1},
		{"loss", 95, -5 - 0.1},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var p Position
			p.ApplyBuy(100, 1, 0.1, testTime)
			assert.InDelta(t, tc.expected, p.Unrealized(tc.price), 1e-9)
		})
	}

	assert.Zero(t, Position{}.Unrealized(100))
}

func TestPositionBreakEven(t *testing.T) {
	var p Position
	p.ApplyBuy(100, 2, 0.2, testTime)

	be := p.BreakEven(0.001)
	assert.InDelta(t, 100.1/0.999, be, 1e-9)

	q := p
	pnl := q.ApplySell(be, 2, be*2*0.001)
	assert.InDelta(t, 0, pnl, 1e-9)
	assert.Zero(t, Position{}.BreakEven(0.001))
}

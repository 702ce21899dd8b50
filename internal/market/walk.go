package market

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/yanun0323/go-autotrader/internal/model"
)

// WalkConfig shapes a simulated market.
type WalkConfig struct {
	Seed  uint64
	Start float64
	// Volatility is the per-candle standard deviation of the log return.
	Volatility float64
	// Drift is the per-candle mean of the log return.
	Drift    float64
	Interval time.Duration
	From     time.Time
}

// Walk is a seeded geometric random walk producing candles. The same config
// always produces the same series.
type Walk struct {
	cfg  WalkConfig
	rng  *rand.Rand
	at   time.Time
	last float64
}

func NewWalk(cfg WalkConfig) *Walk {
	if cfg.Start <= 0 {
		cfg.Start = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.003
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.From.IsZero() {
		cfg.From = time.Now().UTC().Truncate(cfg.Interval)
	}
	return &Walk{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		at:   cfg.From,
		last: cfg.Start,
	}
}

// Next returns the following candle.
func (w *Walk) Next() model.Kline {
	open := w.last
	closePrice := open * math.Exp(w.cfg.Drift+w.cfg.Volatility*w.rng.NormFloat64())
	wick := open * w.cfg.Volatility * math.Abs(w.rng.NormFloat64()) / 2
	lo := math.Min(open, closePrice)
	k := model.Kline{
		OpenTime: w.at,
		Open:     open,
		High:     math.Max(open, closePrice) + wick,
		Low:      math.Max(lo-wick, lo*0.5),
		Close:    closePrice,
		Volume:   1 + w.rng.ExpFloat64(),
	}
	w.at = w.at.Add(w.cfg.Interval)
	w.last = closePrice
	return k
}

// Take returns the next n candles.
func (w *Walk) Take(n int) []model.Kline {
	out := make([]model.Kline, n)
	for i := range out {
		out[i] = w.Next()
	}
	return out
}

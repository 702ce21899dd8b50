package market

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/model"
)

// Sink receives candles. og.PaperGateway implements it.
type Sink interface {
	SetKlines(symbol string, klines []model.Kline)
	PushKline(symbol string, k model.Kline)
}

// Driver feeds simulated candles for a set of symbols into a sink.
type Driver struct {
	sink  Sink
	walks map[string]*Walk
}

// NewDriver seeds every symbol with history candles so indicators have data
// from the first tick.
func NewDriver(sink Sink, walks map[string]*Walk, history int) *Driver {
	for symbol, w := range walks {
		sink.SetKlines(symbol, w.Take(history))
	}
	return &Driver{sink: sink, walks: walks}
}

// Step pushes one candle per symbol.
func (d *Driver) Step() {
	for symbol, w := range d.walks {
		d.sink.PushKline(symbol, w.Next())
	}
}

// Run pushes a candle per symbol every interval until ctx is done.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logs.Infof("market: simulating %d symbols every %s", len(d.walks), interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

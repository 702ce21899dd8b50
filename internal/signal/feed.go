package signal

import "github.com/yanun0323/go-autotrader/internal/model"

// Feed computes indicators from market series. Implementations are pure:
// the same input always yields the same value. A value of 0 with ok=false
// means the series is too short.
type Feed interface {
	RSI(closes []float64, period int) (float64, bool)
	ATR(klines []model.Kline, period int) (float64, bool)
	MovingAverage(closes []float64, period int) (float64, bool)
	EMA(closes []float64, period int) (float64, bool)
	MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64, ok bool)
	VolumeRatio(volumes []float64, period int) (float64, bool)
	Volatility(klines []model.Kline, period int) (float64, bool)
	SentimentScore(symbol string) float64
}

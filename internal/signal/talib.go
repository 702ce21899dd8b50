package signal

import (
	"sync"

	"github.com/markcheno/go-talib"

	"github.com/yanun0323/go-autotrader/internal/model"
)

var _ Feed = (*TalibFeed)(nil)

// TalibFeed implements Feed over go-talib. Sentiment scores are pushed in by an
// external analyzer and default to neutral.
type TalibFeed struct {
	mu        sync.RWMutex
	sentiment map[string]float64
}

func NewTalibFeed() *TalibFeed {
	return &TalibFeed{sentiment: make(map[string]float64)}
}

func (f *TalibFeed) RSI(closes []float64, period int) (float64, bool) {
	if period <= 1 || len(closes) <= period {
		return 0, false
	}
	return last(talib.Rsi(closes, period))
}

func (f *TalibFeed) ATR(klines []model.Kline, period int) (float64, bool) {
	if period <= 0 || len(klines) <= period {
		return 0, false
	}
	return last(talib.Atr(model.Highs(klines), model.Lows(klines), model.Closes(klines), period))
}

func (f *TalibFeed) MovingAverage(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return last(talib.Sma(closes, period))
}

func (f *TalibFeed) EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return last(talib.Ema(closes, period))
}

func (f *TalibFeed) MACD(closes []float64, fast, slow, signal int) (float64, float64, float64, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return 0, 0, 0, false
	}
	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	m, _ := last(macd)
	s, _ := last(sig)
	h, _ := last(hist)
	return m, s, h, true
}

// VolumeRatio compares the latest volume to the mean of the preceding period.
func (f *TalibFeed) VolumeRatio(volumes []float64, period int) (float64, bool) {
	if period <= 0 || len(volumes) <= period {
		return 0, false
	}
	prev := volumes[len(volumes)-1-period : len(volumes)-1]
	sum := 0.0
	for _, v := range prev {
		sum += v
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return 1, true
	}
	return volumes[len(volumes)-1] / avg, true
}

// Volatility is ATR relative to the last close.
func (f *TalibFeed) Volatility(klines []model.Kline, period int) (float64, bool) {
	atr, ok := f.ATR(klines, period)
	if !ok {
		return 0, false
	}
	closePrice := klines[len(klines)-1].Close
	if closePrice <= 0 {
		return 0, false
	}
	return atr / closePrice, true
}

func (f *TalibFeed) SentimentScore(symbol string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sentiment[symbol]
}

// SetSentiment records an externally computed score in [-1, 1].
func (f *TalibFeed) SetSentiment(symbol string, score float64) {
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	f.mu.Lock()
	f.sentiment[symbol] = score
	f.mu.Unlock()
}

func last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

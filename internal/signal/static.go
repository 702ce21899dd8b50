package signal

import "github.com/yanun0323/go-autotrader/internal/model"

var _ Feed = (*StaticFeed)(nil)

// StaticFeed returns fixed values regardless of input. Moving averages are keyed
// by period; a missing period reports insufficient data.
type StaticFeed struct {
	RSIValue  float64
	ATRValue  float64
	MA        map[int]float64
	MACDHist  float64
	NoMACD    bool
	Volume    float64
	Vol       float64
	Sentiment float64
}

func (f *StaticFeed) RSI([]float64, int) (float64, bool) { return f.RSIValue, true }

func (f *StaticFeed) ATR([]model.Kline, int) (float64, bool) { return f.ATRValue, true }

func (f *StaticFeed) MovingAverage(_ []float64, period int) (float64, bool) {
	v, ok := f.MA[period]
	return v, ok
}

func (f *StaticFeed) EMA(closes []float64, period int) (float64, bool) {
	return f.MovingAverage(closes, period)
}

func (f *StaticFeed) MACD([]float64, int, int, int) (float64, float64, float64, bool) {
	if f.NoMACD {
		return 0, 0, 0, false
	}
	return f.MACDHist, 0, f.MACDHist, true
}

func (f *StaticFeed) VolumeRatio([]float64, int) (float64, bool) {
	if f.Volume == 0 {
		return 1, true
	}
	return f.Volume, true
}

func (f *StaticFeed) Volatility([]model.Kline, int) (float64, bool) { return f.Vol, true }

func (f *StaticFeed) SentimentScore(string) float64 { return f.Sentiment }

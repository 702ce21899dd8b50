package signal

import (
	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/model"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Periods selects indicator lookbacks.
type Periods struct {
	RSI        int `json:"rsi"`
	MAFast     int `json:"maFast"`
	MASlow     int `json:"maSlow"`
	MATrend    int `json:"maTrend"`
	MACDFast   int `json:"macdFast"`
	MACDSlow   int `json:"macdSlow"`
	MACDSignal int `json:"macdSignal"`
	ATR        int `json:"atr"`
	Volume     int `json:"volume"`
}

// DefaultPeriods returns the lookbacks used by the spot strategy.
func DefaultPeriods() Periods {
	return Periods{
		RSI:        14,
		MAFast:     7,
		MASlow:     25,
		MATrend:    200,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		ATR:        14,
		Volume:     20,
	}
}

// Indicators is one tick's view of the market.
type Indicators struct {
	Price       float64 `json:"price"`
	RSI         float64 `json:"rsi"`
	MAFast      float64 `json:"maFast"`
	MASlow      float64 `json:"maSlow"`
	MATrend     float64 `json:"maTrend"`
	HasTrend    bool    `json:"hasTrend"`
	MACDHist    float64 `json:"macdHist"`
	HasMACD     bool    `json:"hasMacd"`
	VolumeRatio float64 `json:"volumeRatio"`
	ATR         float64 `json:"atr"`
	Volatility  float64 `json:"volatility"`
	Sentiment   float64 `json:"sentiment"`
}

// Compute builds an Indicators snapshot. RSI and the fast and slow averages are
// required; the trend average and MACD are optional.
func Compute(feed Feed, symbol string, price float64, klines []model.Kline, p Periods) (Indicators, error) {
	closes := model.Closes(klines)
	out := Indicators{Price: price, VolumeRatio: 1}

	var ok bool
	if out.RSI, ok = feed.RSI(closes, p.RSI); !ok {
		return out, errors.Wrapf(exception.ErrNoMarketData, "%s rsi(%d) with %d klines", symbol, p.RSI, len(klines))
	}
	if out.MAFast, ok = feed.MovingAverage(closes, p.MAFast); !ok {
		return out, errors.Wrapf(exception.ErrNoMarketData, "%s ma(%d) with %d klines", symbol, p.MAFast, len(klines))
	}
	if out.MASlow, ok = feed.MovingAverage(closes, p.MASlow); !ok {
		return out, errors.Wrapf(exception.ErrNoMarketData, "%s ma(%d) with %d klines", symbol, p.MASlow, len(klines))
	}
	out.MATrend, out.HasTrend = feed.MovingAverage(closes, p.MATrend)
	_, _, out.MACDHist, out.HasMACD = feed.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if ratio, ok := feed.VolumeRatio(model.Volumes(klines), p.Volume); ok {
		out.VolumeRatio = ratio
	}
	out.ATR, _ = feed.ATR(klines, p.ATR)
	out.Volatility, _ = feed.Volatility(klines, p.ATR)
	out.Sentiment = feed.SentimentScore(symbol)
	return out, nil
}

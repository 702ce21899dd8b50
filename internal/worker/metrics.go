package worker

import (
	"math"
	"time"
)

const maxReturns = 500

// Metrics tracks the trading performance of a worker.
type Metrics struct {
	Trades        int       `json:"trades"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	WinStreak     int       `json:"winStreak"`
	LossStreak    int       `json:"lossStreak"`
	MaxWinStreak  int       `json:"maxWinStreak"`
	MaxLossStreak int       `json:"maxLossStreak"`
	RealizedPnL   float64   `json:"realizedPnl"`
	Fees          float64   `json:"fees"`
	HoldSeconds   float64   `json:"holdSeconds"`
	SlippageSum   float64   `json:"slippageSum"`
	SlippageCount int       `json:"slippageCount"`
	PeakPnL       float64   `json:"peakPnl"`
	MaxDrawdown   float64   `json:"maxDrawdown"`
	Returns       []float64 `json:"returns"`
}

// MetricsSummary is the derived operator view.
type MetricsSummary struct {
	Trades        int           `json:"trades"`
	WinRate       float64       `json:"winRate"`
	WinStreak     int           `json:"winStreak"`
	LossStreak    int           `json:"lossStreak"`
	MaxWinStreak  int           `json:"maxWinStreak"`
	MaxLossStreak int           `json:"maxLossStreak"`
	RealizedPnL   float64       `json:"realizedPnl"`
	Fees          float64       `json:"fees"`
	AvgHold       time.Duration `json:"avgHold"`
	AvgSlippage   float64       `json:"avgSlippage"`
	MaxDrawdown   float64       `json:"maxDrawdown"`
	Sharpe        float64       `json:"sharpe"`
}

// RecordTrade folds a closed trade. capital is the quote amount the trade committed.
func (m *Metrics) RecordTrade(pnl, capital, fees float64, hold time.Duration) {
	m.Trades++
	m.RealizedPnL += pnl
	m.Fees += fees
	m.HoldSeconds += hold.Seconds()
	if pnl > 0 {
		m.Wins++
		m.WinStreak++
		m.LossStreak = 0
		m.MaxWinStreak = max(m.MaxWinStreak, m.WinStreak)
	} else {
		m.Losses++
		m.LossStreak++
		m.WinStreak = 0
		m.MaxLossStreak = max(m.MaxLossStreak, m.LossStreak)
	}
	if m.RealizedPnL > m.PeakPnL {
		m.PeakPnL = m.RealizedPnL
	}
	m.MaxDrawdown = math.Max(m.MaxDrawdown, m.PeakPnL-m.RealizedPnL)
	if capital > 0 {
		m.Returns = append(m.Returns, pnl/capital)
		if len(m.Returns) > maxReturns {
			m.Returns = m.Returns[len(m.Returns)-maxReturns:]
		}
	}
}

// RecordSlippage adds one fill's relative slippage.
func (m *Metrics) RecordSlippage(s float64) {
	m.SlippageSum += s
	m.SlippageCount++
}

// Sharpe is the mean per-trade return over its standard deviation.
func (m Metrics) Sharpe() float64 {
	n := len(m.Returns)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range m.Returns {
		mean += r
	}
	mean /= float64(n)
	variance := 0.0
	for _, r := range m.Returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

func (m Metrics) Summary() MetricsSummary {
	s := MetricsSummary{
		Trades:        m.Trades,
		WinStreak:     m.WinStreak,
		LossStreak:    m.LossStreak,
		MaxWinStreak:  m.MaxWinStreak,
		MaxLossStreak: m.MaxLossStreak,
		RealizedPnL:   m.RealizedPnL,
		Fees:          m.Fees,
		MaxDrawdown:   m.MaxDrawdown,
		Sharpe:        m.Sharpe(),
	}
	if m.Trades > 0 {
		s.WinRate = float64(m.Wins) / float64(m.Trades)
		s.AvgHold = time.Duration(m.HoldSeconds / float64(m.Trades) * float64(time.Second))
	}
	if m.SlippageCount > 0 {
		s.AvgSlippage = m.SlippageSum / float64(m.SlippageCount)
	}
	return s
}

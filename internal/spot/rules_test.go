package spot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/internal/state"
)

func TestEntryReason(t *testing.T) {
	base := signal.Indicators{RSI: 35, MAFast: 101, MASlow: 100, VolumeRatio: 1}
	testCases := []struct {
		desc   string
		mutate func(ind *signal.Indicators, p *Params)
		ready  bool
		want   string
	}{
		{desc: "all filters pass", ready: true, want: ""},
		{desc: "no market data", ready: false, want: "warming up"},
		{
			desc:  "missing trend average skips the trend filter",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.HasTrend = false
				ind.MATrend = 500
			},
			want: "",
		},
		{
			desc:  "price below trend average",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.HasTrend = true
				ind.MATrend = 120
			},
			want: "trend filter: price 100.0000 below trend ma 120.0000",
		},
		{
			desc:  "deep dip overrides the trend filter",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.HasTrend = true
				ind.MATrend = 120
				ind.RSI = 32
			},
			want: "",
		},
		{
			desc:  "rsi at entry threshold",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.RSI = 40
			},
			want: "rsi 40.00 above entry 40.00",
		},
		{
			desc:  "macd bearish",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.HasMACD = true
				ind.MACDHist = -0.5
			},
			want: "macd bearish: hist -0.500000",
		},
		{
			desc:  "macd ignored on a deep dip",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.HasMACD = true
				ind.MACDHist = -0.5
				ind.RSI = 31
			},
			want: "",
		},
		{
			desc:  "macd filter disabled",
			ready: true,
			mutate: func(ind *signal.Indicators, p *Params) {
				ind.HasMACD = true
				ind.MACDHist = -0.5
				p.DisableMACD = true
			},
			want: "",
		},
		{
			desc:  "moving averages not crossed",
			ready: true,
			mutate: func(ind *signal.Indicators, _ *Params) {
				ind.MAFast = 100
			},
			want: "ma cross bearish: fast 100.0000 slow 100.0000",
		},
		{
			desc:  "volume below minimum",
			ready: true,
			mutate: func(ind *signal.Indicators, p *Params) {
				ind.VolumeRatio = 0.8
				p.MinVolumeRatio = 1.2
			},
			want: "volume ratio 0.80 below 1.20",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ind := base
			p := DefaultParams(100)
			if tc.mutate != nil {
				tc.mutate(&ind, &p)
			}
			s := &Strategy{body: Body{Params: p}}
			assert.Equal(t, tc.want, s.entryReason(100, ind, tc.ready))
		})
	}
}

func TestExitReason(t *testing.T) {
	testCases := []struct {
		desc  string
		peak  float64
		price float64
		tp    float64
		fees  float64
		want  ExitReason
	}{
		{desc: "inside the band", peak: 100.5, price: 100.5, want: ""},
		{desc: "hard stop", peak: 100, price: 97.9, want: ExitStopLoss},
		{desc: "take profit", peak: 103.5, price: 103.5, tp: 0.03, want: ExitTakeProfit},
		{desc: "peak below activation", peak: 101.4, price: 100.8, want: ""},
		{desc: "trailing above callback", peak: 102, price: 101.6, want: ""},
		{desc: "trailing callback hit", peak: 102, price: 101.45, want: ExitTrailing},
		{desc: "callback below break even holds", peak: 101.6, price: 100.1, want: ""},
		{desc: "callback above gross fee band but below net break even", peak: 101.6, price: 100.25, fees: 0.1, want: ""},
		{desc: "callback above net break even", peak: 101.6, price: 100.35, fees: 0.1, want: ExitTrailing},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := DefaultParams(100)
			p.TakeProfitPct = tc.tp
			s := &Strategy{body: Body{
				State:    StateHolding,
				Params:   p,
				Position: state.Position{Qty: 1, AvgPrice: 100, Cost: 100, Fees: tc.fees},
				Peak:     tc.peak,
			}}
			assert.Equal(t, tc.want, s.exitReason(tc.price))
		})
	}
}

func TestAutoTune(t *testing.T) {
	testCases := []struct {
		desc      string
		vol       float64
		sentiment float64
		state     State
		wantSL    float64
		wantTrail float64
		wantRSI   float64
	}{
		{desc: "low volatility", vol: 0.005, state: StateIdle, wantSL: 0.015, wantTrail: 0.01, wantRSI: 45},
		{desc: "medium volatility", vol: 0.02, state: StateHolding, wantSL: 0.04, wantTrail: 0.03, wantRSI: 37},
		{desc: "high volatility is capped", vol: 0.05, state: StateCooldown, wantSL: 0.08, wantTrail: 0.05, wantRSI: 30},
		{desc: "extreme fear waits for a deeper dip", vol: 0.02, sentiment: -1, state: StateScaling, wantSL: 0.04, wantTrail: 0.03, wantRSI: 29},
		{desc: "greed lowers the entry slightly", vol: 0.02, sentiment: 0.3, state: StateIdle, wantSL: 0.04, wantTrail: 0.03, wantRSI: 35},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := AutoTune(DefaultParams(100), tc.vol, tc.state, tc.sentiment)
			assert.InDelta(t, tc.wantSL, got.StopLossPct, 1e-9)
			assert.InDelta(t, tc.wantTrail, got.TrailingCallbackPct, 1e-9)
			assert.InDelta(t, tc.wantRSI, got.RSIEntry, 1e-9)
		})
	}
}

func TestAutoTuneSkipsTransitions(t *testing.T) {
	p := DefaultParams(100)
	for _, st := range []State{StateEntering, StateExiting} {
		assert.Equal(t, p, AutoTune(p, 0.05, st, -1), string(st))
	}
}

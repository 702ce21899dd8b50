package spot

import "math"

// AutoTune derives stop, trail and entry thresholds from volatility (ATR over
// close) and sentiment in [-1, 1]. States other than Idle, Holding, Scaling
// and Cooldown leave params untouched.
func AutoTune(p Params, volatility float64, st State, sentiment float64) Params {
	if !st.Tunable() || volatility <= 0 {
		return p
	}
	volPct := volatility * 100

	p.StopLossPct = clamp(volPct*2, 1.5, 8) / 100
	p.TrailingCallbackPct = clamp(volPct*1.5, 1, 5) / 100

	var rsi float64
	switch {
	case volPct < 1:
		rsi = 45
	case volPct > 4:
		rsi = 30
	default:
		rsi = 40 - math.Round((volPct-1)*3)
	}
	rsi = clamp(rsi, 30, 50)

	// sentiment maps onto a 0..100 fear and greed index
	index := (clamp(sentiment, -1, 1) + 1) * 50
	switch {
	case index <= 25:
		rsi -= 8
	case index <= 40:
		rsi -= 3
	case index >= 75:
		rsi -= 5
	case index >= 60:
		rsi -= 2
	}
	p.RSIEntry = clamp(rsi, 25, 60)
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package spot

import (
	"github.com/bytedance/sonic"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/signal"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const (
	defaultRSIEntry              = 40
	defaultDeepDipRSI            = 33
	defaultMACDRSIFloor          = 30
	defaultStopLossPct           = 0.02
	defaultTrailingActivationPct = 0.015
	defaultTrailingCallbackPct   = 0.005
	defaultFeeRate               = 0.001
	defaultExitSlippagePct       = 0.001
	defaultScaleDrawdownPct      = 0.02
	defaultScaleRSI              = 30
	defaultScaleMaxDepth         = 3
	defaultScaleMultiplier       = 1.5
	defaultCooldownSeconds       = 1800
)

// Params are the live-tunable settings of a spot worker.
type Params struct {
	EntryAmount float64 `json:"entryAmount"`

	RSIEntry       float64 `json:"rsiEntry"`
	DeepDipRSI     float64 `json:"deepDipRsi"`
	MACDRSIFloor   float64 `json:"macdRsiFloor"`
	DisableTrend   bool    `json:"disableTrend"`
	DisableMACD    bool    `json:"disableMacd"`
	MinVolumeRatio float64 `json:"minVolumeRatio"`

	StopLossPct           float64 `json:"stopLossPct"`
	TakeProfitPct         float64 `json:"takeProfitPct"`
	TrailingActivationPct float64 `json:"trailingActivationPct"`
	TrailingCallbackPct   float64 `json:"trailingCallbackPct"`
	FeeRate               float64 `json:"feeRate"`
	ExitSlippagePct       float64 `json:"exitSlippagePct"`

	ScaleDrawdownPct float64 `json:"scaleDrawdownPct"`
	ScaleRSI         float64 `json:"scaleRsi"`
	ScaleMaxDepth    int     `json:"scaleMaxDepth"`
	ScaleMultiplier  float64 `json:"scaleMultiplier"`

	CooldownSeconds int64 `json:"cooldownSeconds"`
	AutoTune        bool  `json:"autoTune"`

	Periods signal.Periods `json:"periods"`
}

// DefaultParams returns the stock settings with the given entry amount.
func DefaultParams(entryAmount float64) Params {
	return Params{EntryAmount: entryAmount}.withDefaults()
}

// ParseParams decodes worker configuration params over the defaults.
func ParseParams(raw []byte) (Params, error) {
	var p Params
	if len(raw) != 0 {
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return Params{}, errors.Wrapf(exception.ErrInvalidParams, "spot params: %v", err)
		}
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) withDefaults() Params {
	if p.RSIEntry == 0 {
		p.RSIEntry = defaultRSIEntry
	}
	if p.DeepDipRSI == 0 {
		p.DeepDipRSI = defaultDeepDipRSI
	}
	if p.MACDRSIFloor == 0 {
		p.MACDRSIFloor = defaultMACDRSIFloor
	}
	if p.StopLossPct == 0 {
		p.StopLossPct = defaultStopLossPct
	}
	if p.TrailingActivationPct == 0 {
		p.TrailingActivationPct = defaultTrailingActivationPct
	}
	if p.TrailingCallbackPct == 0 {
		p.TrailingCallbackPct = defaultTrailingCallbackPct
	}
	if p.FeeRate == 0 {
		p.FeeRate = defaultFeeRate
	}
	if p.ExitSlippagePct == 0 {
		p.ExitSlippagePct = defaultExitSlippagePct
	}
	if p.ScaleDrawdownPct == 0 {
		p.ScaleDrawdownPct = defaultScaleDrawdownPct
	}
	if p.ScaleRSI == 0 {
		p.ScaleRSI = defaultScaleRSI
	}
	if p.ScaleMaxDepth == 0 {
		p.ScaleMaxDepth = defaultScaleMaxDepth
	}
	if p.ScaleMultiplier == 0 {
		p.ScaleMultiplier = defaultScaleMultiplier
	}
	if p.CooldownSeconds == 0 {
		p.CooldownSeconds = defaultCooldownSeconds
	}
	def := signal.DefaultPeriods()
	if p.Periods.RSI <= 0 {
		p.Periods.RSI = def.RSI
	}
	if p.Periods.MAFast <= 0 {
		p.Periods.MAFast = def.MAFast
	}
	if p.Periods.MASlow <= 0 {
		p.Periods.MASlow = def.MASlow
	}
	if p.Periods.MATrend <= 0 {
		p.Periods.MATrend = def.MATrend
	}
	if p.Periods.MACDFast <= 0 {
		p.Periods.MACDFast = def.MACDFast
	}
	if p.Periods.MACDSlow <= 0 {
		p.Periods.MACDSlow = def.MACDSlow
	}
	if p.Periods.MACDSignal <= 0 {
		p.Periods.MACDSignal = def.MACDSignal
	}
	if p.Periods.ATR <= 0 {
		p.Periods.ATR = def.ATR
	}
	if p.Periods.Volume <= 0 {
		p.Periods.Volume = def.Volume
	}
	return p
}

// Validate checks ranges.
func (p Params) Validate() error {
	switch {
	case p.EntryAmount <= 0:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: entryAmount %f must be > 0", p.EntryAmount)
	case p.RSIEntry <= 0 || p.RSIEntry > 100:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: rsiEntry %f out of range", p.RSIEntry)
	case p.DeepDipRSI < 0 || p.DeepDipRSI > 100:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: deepDipRsi %f out of range", p.DeepDipRSI)
	case p.StopLossPct <= 0 || p.StopLossPct >= 1:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: stopLossPct %f out of range", p.StopLossPct)
	case p.TakeProfitPct < 0:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: takeProfitPct %f must be >= 0", p.TakeProfitPct)
	case p.TrailingActivationPct <= 0 || p.TrailingCallbackPct <= 0 || p.TrailingCallbackPct >= 1:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: trailing %f/%f out of range", p.TrailingActivationPct, p.TrailingCallbackPct)
	case p.FeeRate < 0 || p.FeeRate >= 0.1:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: feeRate %f out of range", p.FeeRate)
	case p.ExitSlippagePct < 0 || p.ExitSlippagePct >= 0.1:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: exitSlippagePct %f out of range", p.ExitSlippagePct)
	case p.ScaleDrawdownPct <= 0 || p.ScaleDrawdownPct >= 1:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: scaleDrawdownPct %f out of range", p.ScaleDrawdownPct)
	case p.ScaleMaxDepth < 0:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: scaleMaxDepth %d must be >= 0", p.ScaleMaxDepth)
	case p.ScaleMultiplier <= 0:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: scaleMultiplier %f must be > 0", p.ScaleMultiplier)
	case p.CooldownSeconds < 0:
		return errors.Wrapf(exception.ErrInvalidParams, "spot: cooldownSeconds %d must be >= 0", p.CooldownSeconds)
	}
	return nil
}

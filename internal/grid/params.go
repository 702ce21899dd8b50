package grid

import (
	"github.com/bytedance/sonic"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const (
	defaultBuyShare           = 0.5
	defaultFeeRate            = 0.001
	defaultLowVolatility      = 0.02
	defaultHighVolatility     = 0.04
	defaultLowRangePct        = 0.03
	defaultMediumRangePct     = 0.05
	defaultHighRangePct       = 0.08
	defaultLowLevels          = 15
	defaultMediumLevels       = 10
	defaultHighLevels         = 8
	defaultRebalanceTolerance = 0.005
	defaultEntryBuffer        = 0.005
)

// Params configure a grid ladder. A zero Lower, Upper or Levels derives the
// range from volatility.
type Params struct {
	Capital  float64 `json:"capital"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Levels   int     `json:"levels"`
	BuyShare float64 `json:"buyShare"`
	FeeRate  float64 `json:"feeRate"`

	AutoRebalance      *bool   `json:"autoRebalance"`
	VolatilitySpacing  bool    `json:"volatilitySpacing"`
	RebalanceTolerance float64 `json:"rebalanceTolerance"`
	EntryBuffer        float64 `json:"entryBuffer"`

	LowVolatility  float64 `json:"lowVolatility"`
	HighVolatility float64 `json:"highVolatility"`
	LowRangePct    float64 `json:"lowRangePct"`
	MediumRangePct float64 `json:"mediumRangePct"`
	HighRangePct   float64 `json:"highRangePct"`
	LowLevels      int     `json:"lowLevels"`
	MediumLevels   int     `json:"mediumLevels"`
	HighLevels     int     `json:"highLevels"`
	ATRPeriod      int     `json:"atrPeriod"`
}

// ParseParams decodes worker configuration params over the defaults.
func ParseParams(raw []byte) (Params, error) {
	var p Params
	if len(raw) != 0 {
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return Params{}, errors.Wrapf(exception.ErrInvalidParams, "grid params: %v", err)
		}
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) withDefaults() Params {
	if p.AutoRebalance == nil {
		on := true
		p.AutoRebalance = &on
	}
	if p.BuyShare == 0 {
		p.BuyShare = defaultBuyShare
	}
	if p.FeeRate == 0 {
		p.FeeRate = defaultFeeRate
	}
	if p.RebalanceTolerance == 0 {
		p.RebalanceTolerance = defaultRebalanceTolerance
	}
	if p.EntryBuffer == 0 {
		p.EntryBuffer = defaultEntryBuffer
	}
	if p.LowVolatility == 0 {
		p.LowVolatility = defaultLowVolatility
	}
	if p.HighVolatility == 0 {
		p.HighVolatility = defaultHighVolatility
	}
	if p.LowRangePct == 0 {
		p.LowRangePct = defaultLowRangePct
	}
	if p.MediumRangePct == 0 {
		p.MediumRangePct = defaultMediumRangePct
	}
	if p.HighRangePct == 0 {
		p.HighRangePct = defaultHighRangePct
	}
	if p.LowLevels == 0 {
		p.LowLevels = defaultLowLevels
	}
	if p.MediumLevels == 0 {
		p.MediumLevels = defaultMediumLevels
	}
	if p.HighLevels == 0 {
		p.HighLevels = defaultHighLevels
	}
	if p.ATRPeriod == 0 {
		p.ATRPeriod = 14
	}
	return p
}

// Rebalances reports whether the ladder recenters when price leaves the range.
func (p Params) Rebalances() bool {
	return p.AutoRebalance == nil || *p.AutoRebalance
}

// Explicit reports whether the range is fixed by configuration.
func (p Params) Explicit() bool {
	return p.Lower > 0 && p.Upper > 0 && p.Levels > 0
}

// Validate checks ranges and, for an explicit range, fee viability.
func (p Params) Validate() error {
	switch {
	case p.Capital <= 0:
		return errors.Wrapf(exception.ErrInvalidParams, "grid: capital %f must be > 0", p.Capital)
	case p.BuyShare <= 0 || p.BuyShare >= 1:
		return errors.Wrapf(exception.ErrInvalidParams, "grid: buyShare %f out of (0, 1)", p.BuyShare)
	case p.FeeRate < 0 || p.FeeRate >= 0.1:
		return errors.Wrapf(exception.ErrInvalidParams, "grid: feeRate %f out of range", p.FeeRate)
	case p.Lower < 0 || p.Upper < 0 || p.Levels < 0:
		return errors.Wrapf(exception.ErrInvalidParams, "grid: negative range %f-%f x%d", p.Lower, p.Upper, p.Levels)
	case p.Explicit() && p.Lower >= p.Upper:
		return errors.Wrapf(exception.ErrInvalidParams, "grid: lower %f must be below upper %f", p.Lower, p.Upper)
	case p.LowLevels < 2 || p.MediumLevels < 2 || p.HighLevels < 2 || (p.Levels != 0 && p.Levels < 2):
		return errors.Wrapf(exception.ErrInvalidParams, "grid: at least 2 levels required")
	}
	if p.Explicit() {
		return checkViable((p.Upper-p.Lower)/float64(p.Levels), p.Upper, p.FeeRate)
	}
	return nil
}

// checkViable requires each step to cover the buy and sell fee.
func checkViable(step, upper, fee float64) error {
	if upper <= 0 || step/upper <= 2*fee {
		return errors.Wrapf(exception.ErrGridUnviable, "step %.6f at %.6f vs fee %.4f", step, upper, fee)
	}
	return nil
}

// autoRange maps volatility (ATR over close) to a range half-width and level count.
func (p Params) autoRange(volatility float64) (float64, int) {
	switch {
	case volatility > 0 && volatility < p.LowVolatility:
		return p.LowRangePct, p.LowLevels
	case volatility > p.HighVolatility:
		return p.HighRangePct, p.HighLevels
	default:
		return p.MediumRangePct, p.MediumLevels
	}
}

package supervisor

import (
	"github.com/yanun0323/go-autotrader/internal/grid"
	"github.com/yanun0323/go-autotrader/internal/model/enum"
	"github.com/yanun0323/go-autotrader/internal/spot"
)

// Builders returns the builder of every supported strategy kind.
func Builders() map[enum.StrategyKind]Builder {
	return map[enum.StrategyKind]Builder{
		enum.StrategySpot: spot.Build,
		enum.StrategyGrid: grid.Build,
	}
}

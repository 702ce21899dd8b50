package enum

// StrategyKind spot, grid
type StrategyKind string

const (
	StrategySpot StrategyKind = "spot"
	StrategyGrid StrategyKind = "grid"
)

func (k StrategyKind) IsAvailable() bool {
	return k == StrategySpot || k == StrategyGrid
}

// RunMode live, paper, backtest
type RunMode string

const (
	RunModeLive     RunMode = "live"
	RunModePaper    RunMode = "paper"
	RunModeBacktest RunMode = "backtest"
)

func (m RunMode) IsAvailable() bool {
	return m == RunModeLive || m == RunModePaper || m == RunModeBacktest
}

// Lifecycle running, paused, stopped, suspended, deleted
type Lifecycle uint8

const (
	_lifecycle_beg Lifecycle = iota
	LifecycleStopped
	LifecycleRunning
	LifecyclePaused
	LifecycleSuspended
	LifecycleDeleted
	_lifecycle_end
)

func (l Lifecycle) IsAvailable() bool {
	return l > _lifecycle_beg && l < _lifecycle_end
}

func (l Lifecycle) String() string {
	switch l {
	case LifecycleStopped:
		return "stopped"
	case LifecycleRunning:
		return "running"
	case LifecyclePaused:
		return "paused"
	case LifecycleSuspended:
		return "suspended"
	case LifecycleDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

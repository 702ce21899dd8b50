package capital

// Reason explains a denied capital request.
type Reason uint8

const (
	_reason_beg Reason = iota
	ReasonNone
	ReasonInsufficient
	ReasonUnknownPool
	ReasonInvalidAmount
	ReasonDuplicate
	ReasonMissing
	_reason_end
)

func (r Reason) IsAvailable() bool {
	return r > _reason_beg && r < _reason_end
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInsufficient:
		return "insufficient capital"
	case ReasonUnknownPool:
		return "unknown pool"
	case ReasonInvalidAmount:
		return "invalid amount"
	case ReasonDuplicate:
		return "duplicate reservation"
	case ReasonMissing:
		return "no reservation"
	default:
		return "unknown"
	}
}

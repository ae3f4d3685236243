package wire

// Boundary rates named in the testable-properties section: every RateSpec
// field is clamped into these ranges on input.
const (
	MinBitRate = 1      // Kb/s
	MaxBitRate = 900000 // Kb/s
	MinPktRate = 1      // packets/s
	MaxPktRate = 900000 // packets/s
)

// RateSpec is the 4-tuple (bitUp, bitDown, pktUp, pktDown) rate grouping
// used throughout the control-packet attribute catalogue for interfaces,
// links, and comtree-links.
type RateSpec struct {
	BitRateUp   int64 // Kb/s
	BitRateDown int64 // Kb/s
	PktRateUp   int64 // packets/s
	PktRateDown int64 // packets/s
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamped returns r with every field bounded to [MinBitRate,MaxBitRate] or
// [MinPktRate,MaxPktRate] as appropriate.
func (r RateSpec) Clamped() RateSpec {
	return RateSpec{
		BitRateUp:   clamp(r.BitRateUp, MinBitRate, MaxBitRate),
		BitRateDown: clamp(r.BitRateDown, MinBitRate, MaxBitRate),
		PktRateUp:   clamp(r.PktRateUp, MinPktRate, MaxPktRate),
		PktRateDown: clamp(r.PktRateDown, MinPktRate, MaxPktRate),
	}
}

// LessEq reports whether every field of r is <= the corresponding field
// of other — used to check that a requested rate fits within a budget.
func (r RateSpec) LessEq(other RateSpec) bool {
	return r.BitRateUp <= other.BitRateUp &&
		r.BitRateDown <= other.BitRateDown &&
		r.PktRateUp <= other.PktRateUp &&
		r.PktRateDown <= other.PktRateDown
}

// Sub returns r-other, componentwise.
func (r RateSpec) Sub(other RateSpec) RateSpec {
	return RateSpec{
		BitRateUp:   r.BitRateUp - other.BitRateUp,
		BitRateDown: r.BitRateDown - other.BitRateDown,
		PktRateUp:   r.PktRateUp - other.PktRateUp,
		PktRateDown: r.PktRateDown - other.PktRateDown,
	}
}

// Add returns r+other, componentwise.
func (r RateSpec) Add(other RateSpec) RateSpec {
	return RateSpec{
		BitRateUp:   r.BitRateUp + other.BitRateUp,
		BitRateDown: r.BitRateDown + other.BitRateDown,
		PktRateUp:   r.PktRateUp + other.PktRateUp,
		PktRateDown: r.PktRateDown + other.PktRateDown,
	}
}

// Nonnegative reports whether no field of r is negative.
func (r RateSpec) Nonnegative() bool {
	return r.BitRateUp >= 0 && r.BitRateDown >= 0 && r.PktRateUp >= 0 && r.PktRateDown >= 0
}

// MinComtreeLinkRate is the minimum rate allocation deducted from a link's
// available budget when a comtree-link is added.
var MinComtreeLinkRate = RateSpec{BitRateUp: 10, BitRateDown: 10, PktRateUp: 10, PktRateDown: 10}

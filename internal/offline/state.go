package offline

// ScanState is the per-hash state on one device.
type ScanState int

const (
	Unscanned ScanState = iota
	Scanned
)

func (s ScanState) String() string {
	switch s {
	case Unscanned:
		return "unscanned"
	case Scanned:
		return "scanned"
	default:
		return "unknown"
	}
}

// transitions lists the legal moves. Scanned is terminal for the life of a
// downloaded allowlist; only a fresh download resets it.
var transitions = map[ScanState][]ScanState{
	Unscanned: {Scanned},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to ScanState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

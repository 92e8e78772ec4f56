package types

import "math/big"

// ChainWeight is the fork-choice scalar fast-sync compares across peers and
// persists across restarts: a checkpoint-ordinal and total-difficulty pair.
// A heavier weight always wins a comparison regardless of the raw
// total-difficulty values involved, since a chain with a later checkpoint is
// assumed final and cannot be argued down by difficulty alone.
type ChainWeight struct {
	LastCheckpointNumber uint64
	TotalDifficulty      *big.Int
}

// NewChainWeight builds a ChainWeight, defaulting a nil difficulty to zero so
// callers never need a nil check before comparing.
func NewChainWeight(checkpoint uint64, td *big.Int) ChainWeight {
	if td == nil {
		td = new(big.Int)
	}
	return ChainWeight{LastCheckpointNumber: checkpoint, TotalDifficulty: td}
}

// Less reports whether w is strictly lighter than other.
func (w ChainWeight) Less(other ChainWeight) bool {
	if w.LastCheckpointNumber != other.LastCheckpointNumber {
		return w.LastCheckpointNumber < other.LastCheckpointNumber
	}
	return w.TotalDifficulty.Cmp(other.TotalDifficulty) < 0
}

// Greater reports whether w is strictly heavier than other.
func (w ChainWeight) Greater(other ChainWeight) bool {
	return other.Less(w)
}

// Equal reports whether w and other compare as the same weight.
func (w ChainWeight) Equal(other ChainWeight) bool {
	return w.LastCheckpointNumber == other.LastCheckpointNumber && w.TotalDifficulty.Cmp(other.TotalDifficulty) == 0
}

// String renders the weight for logging.
func (w ChainWeight) String() string {
	return "{checkpoint:" + itoa(w.LastCheckpointNumber) + " td:" + w.TotalDifficulty.String() + "}"
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

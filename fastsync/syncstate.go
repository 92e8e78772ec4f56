package fastsync

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/go-ethsync/fastsync/core/types"
)

// PivotReason names why a pivot-block update was requested, driving the
// per-reason acceptance logic in onPivotResult.
type PivotReason int

const (
	ImportedLastBlock PivotReason = iota
	LastBlockValidationFailed
	SyncRestart
)

func (r PivotReason) String() string {
	switch r {
	case ImportedLastBlock:
		return "ImportedLastBlock"
	case LastBlockValidationFailed:
		return "LastBlockValidationFailed"
	case SyncRestart:
		return "SyncRestart"
	default:
		return "unknown"
	}
}

// SyncState is the persisted control-plane record. It is mutated only by
// the Sync Coordinator's single-writer actor loop, and is what a restart
// reloads to resume without re-downloading anything beyond in-flight
// requests discarded at crash.
type SyncState struct {
	PivotBlock *types.Header

	SafeDownloadTarget    uint64
	BestBlockHeaderNumber uint64
	LastFullBlockNumber   uint64

	BlockBodiesQueue []common.Hash
	ReceiptsQueue    []common.Hash

	NextBlockToFullyValidate uint64

	DownloadedNodesCount uint64
	TotalNodesCount      uint64
	StateSyncFinished    bool

	UpdatingPivotBlock       bool
	PivotBlockUpdateFailures int
}

// NewSyncState builds the initial state from a freshly selected pivot.
func NewSyncState(pivot *types.Header, validationX uint64) *SyncState {
	return &SyncState{
		PivotBlock:               pivot,
		SafeDownloadTarget:       pivot.NumberU64() + validationX,
		NextBlockToFullyValidate: pivot.NumberU64(),
	}
}

// enqueue keeps the body and receipt queues growing in lockstep, so every
// queued hash names an accepted header with both still outstanding.

func (s *SyncState) enqueue(hash common.Hash) {
	s.BlockBodiesQueue = append(s.BlockBodiesQueue, hash)
	s.ReceiptsQueue = append(s.ReceiptsQueue, hash)
}

func removeHash(queue []common.Hash, hash common.Hash) []common.Hash {
	out := queue[:0]
	for _, h := range queue {
		if h != hash {
			out = append(out, h)
		}
	}
	return out
}

func requeue(queue []common.Hash, hashes []common.Hash) []common.Hash {
	return append(queue, hashes...)
}

// fullySynced reports whether there is no further blockchain work and the
// state trie is done.
func (s *SyncState) fullySynced() bool {
	return s.StateSyncFinished &&
		s.BestBlockHeaderNumber == s.SafeDownloadTarget &&
		s.LastFullBlockNumber == s.SafeDownloadTarget &&
		len(s.BlockBodiesQueue) == 0 && len(s.ReceiptsQueue) == 0
}

// hasBlockchainWork reports whether there is header/body/receipt work left.
func (s *SyncState) hasBlockchainWork() bool {
	return s.BestBlockHeaderNumber < s.SafeDownloadTarget ||
		len(s.BlockBodiesQueue) > 0 || len(s.ReceiptsQueue) > 0
}

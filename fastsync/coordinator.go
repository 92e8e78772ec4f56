package fastsync

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/p2p"
)

// CoordinatorState is the top-level FSM state:
// Initialising → Syncing → WaitingForPivotBlockUpdate(reason) → Syncing → Terminated.
type CoordinatorState int

const (
	Initialising CoordinatorState = iota
	Syncing
	WaitingForPivotBlockUpdate
	Terminated
)

// Store is the slice of the Storage Façade the coordinator drives.
type Store interface {
	StoreBlocks(hashes []common.Hash, bodies []*types.Body) error
	StoreReceipts(hashes []common.Hash, receiptLists [][]*types.Receipt) error
	GetParentChainWeight(header *types.Header) (types.ChainWeight, bool, error)
	UpdateSyncState(header *types.Header, parentWeight types.ChainWeight) error
	UpdateBestBlockIfNeeded(hashes []common.Hash) (uint64, bool, error)
	DiscardLastBlocks(from uint64, n uint64) error
	PersistSyncState(state *SyncState, inFlightBodies, inFlightReceipts []common.Hash) error
	PersistFastSyncDone() error
	HeaderLookup
}

// Transport is what the coordinator needs from the peer layer to issue
// requests; the exact wire encoding belongs to the implementation.
type Transport interface {
	SendGetBlockHeaders(peerID string, req p2p.GetBlockHeaders) (<-chan p2p.BlockHeaders, error)
	SendGetBlockBodies(peerID string, req p2p.GetBlockBodies) (<-chan p2p.BlockBodies, error)
	SendGetReceipts(peerID string, req p2p.GetReceipts) (<-chan p2p.Receipts, error)
}

// Coordinator is the Sync Coordinator: the orchestrator owning
// SyncState, the only writer to it.
type Coordinator struct {
	cfg       Config
	peers     *PeerSet
	store     Store
	transport Transport
	validator *Validator
	pivotSel  *PivotSelector
	state6    *StateScheduler

	state    *SyncState
	fsmState CoordinatorState
	reason   PivotReason

	// headersInFlight is set while a GetBlockHeaders request is outstanding
	// so assignBlockchainWork never issues a second one for the same range;
	// cleared once awaitHeaders observes the response (or its absence).
	headersInFlight bool

	// inFlightBodies/inFlightReceipts track hashes already dispatched to a
	// peer and not yet answered, keyed by the peer that holds them, so
	// PersistSyncState can fold them back into the persisted queue for
	// re-request after a crash, mirroring stateSchedulerState.requests.
	inFlightBodies   map[string][]common.Hash
	inFlightReceipts map[string][]common.Hash

	// sem bounds total in-flight blockchain-data requests across the whole
	// run, independent of how many peers processDownloads considers in any
	// single tick.
	sem *semaphore.Weighted

	inbox chan func(*Coordinator)
	quit  chan struct{}
	done  chan struct{}

	onFinish func()

	// finalSummary is written once, by finish() on the actor goroutine,
	// strictly before onFinish's channel close; that close is the
	// synchronization point that makes FinalSummary safe to read
	// afterward from any other goroutine.
	finalSummary CoordinatorSummary
}

// NewCoordinator wires up the coordinator from its collaborators.
func NewCoordinator(cfg Config, peers *PeerSet, store Store, transport Transport, validator *Validator, pivotSel *PivotSelector, state6 *StateScheduler, onFinish func()) *Coordinator {
	return &Coordinator{
		cfg:              cfg,
		peers:            peers,
		store:            store,
		transport:        transport,
		validator:        validator,
		pivotSel:         pivotSel,
		state6:           state6,
		sem:              semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		fsmState:         Initialising,
		inFlightBodies:   make(map[string][]common.Hash),
		inFlightReceipts: make(map[string][]common.Hash),
		inbox:            make(chan func(*Coordinator), 256),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		onFinish:         onFinish,
	}
}

// CoordinatorSummary is a point-in-time snapshot of sync progress, safe to
// read from outside the actor goroutine via Summary.
type CoordinatorSummary struct {
	BestBlockHeaderNumber uint64
	LastFullBlockNumber   uint64
	PivotBlockNumber      uint64
	DownloadedNodesCount  uint64
	TotalNodesCount       uint64
	StateSyncFinished     bool
}

func summaryOf(state *SyncState) CoordinatorSummary {
	s := CoordinatorSummary{
		BestBlockHeaderNumber: state.BestBlockHeaderNumber,
		LastFullBlockNumber:   state.LastFullBlockNumber,
		DownloadedNodesCount:  state.DownloadedNodesCount,
		TotalNodesCount:       state.TotalNodesCount,
		StateSyncFinished:     state.StateSyncFinished,
	}
	if state.PivotBlock != nil {
		s.PivotBlockNumber = state.PivotBlock.NumberU64()
	}
	return s
}

// Summary posts a read of the current SyncState through the actor's inbox
// and waits for the result, the same single-writer discipline every other
// external touch of c.state goes through. Callers after the coordinator
// has already terminated should use FinalSummary instead.
func (c *Coordinator) Summary() CoordinatorSummary {
	result := make(chan CoordinatorSummary, 1)
	c.Post(func(cc *Coordinator) { result <- summaryOf(cc.state) })
	select {
	case s := <-result:
		return s
	case <-c.done:
		return c.FinalSummary()
	}
}

// FinalSummary returns the sync-state snapshot taken the moment the
// coordinator terminated. Safe to call only after onFinish has run (e.g.
// after the caller's own "finished" signal fires).
func (c *Coordinator) FinalSummary() CoordinatorSummary {
	return c.finalSummary
}

// Start selects the initial pivot and begins the actor loop; it returns
// once the coordinator has entered the Syncing state.
func (c *Coordinator) Start() {
	result := c.pivotSel.SelectPivotBlock()
	if result.Failed {
		log.Crit("fastsync: could not select an initial pivot block")
	}
	c.state = NewSyncState(result.Header, c.cfg.FastSyncBlockValidationX)
	c.fsmState = Syncing
	go c.run()
}

// run is the single-writer actor loop: every mutation of c.state happens
// here, reached only through posted closures.
func (c *Coordinator) run() {
	defer close(c.done)

	heartbeat := time.NewTicker(100 * time.Millisecond)
	printStatus := time.NewTicker(c.cfg.PrintStatusInterval)
	persist := time.NewTicker(c.cfg.PersistStateSnapshotInterval)
	defer heartbeat.Stop()
	defer printStatus.Stop()
	defer persist.Stop()

	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.inbox:
			fn(c)
			c.processSyncing()
		case <-heartbeat.C:
			c.processSyncing()
		case <-printStatus.C:
			c.printStatus()
		case <-persist.C:
			c.store.PersistSyncState(c.state, c.inFlightHashes(c.inFlightBodies), c.inFlightHashes(c.inFlightReceipts))
		case stats := <-c.state6.Stats():
			c.state.DownloadedNodesCount = stats.Saved
			c.state.TotalNodesCount = stats.Saved + uint64(stats.Missing)
		case <-c.state6.Finished():
			c.state.StateSyncFinished = true
		}
		if c.fsmState == Terminated {
			return
		}
	}
}

// Post enqueues a response/event for processing on the coordinator's own
// goroutine, the only way external callers touch its state.
func (c *Coordinator) Post(fn func(*Coordinator)) {
	select {
	case c.inbox <- fn:
	case <-c.quit:
	}
}

// processSyncing is the central dispatcher.
func (c *Coordinator) processSyncing() {
	if c.fsmState != Syncing {
		return
	}
	switch {
	case c.state.fullySynced():
		c.finish()
	case c.state.hasBlockchainWork():
		c.processDownloads()
	case !c.state.UpdatingPivotBlock:
		if c.pivotBlockIsStale() {
			c.state6.RestartRequested()
			c.beginPivotUpdate(SyncRestart)
		} else {
			log.Debug("fastsync: waiting for responses")
		}
	default:
		log.Debug("fastsync: waiting for responses")
	}
}

// processDownloads selects unassigned eligible peers and assigns work; each
// requestX call below bounds itself against sem, so total in-flight
// requests stay capped across the coordinator's whole lifetime rather than
// just this tick.
func (c *Coordinator) processDownloads() {
	infos := c.peers.PeersToDownloadFrom(c.cfg.FastSyncThrottle)
	for _, info := range infos {
		c.assignBlockchainWork(info)
	}
}

// assignBlockchainWork implements the priority order: receipts, then
// bodies, then headers — and headers only if none is already in flight,
// since BestBlockHeaderNumber/SafeDownloadTarget don't move until a
// response lands, so every idle peer in the same tick would otherwise
// request the identical range.
func (c *Coordinator) assignBlockchainWork(info p2p.Info) bool {
	switch {
	case len(c.state.ReceiptsQueue) > 0:
		return c.requestReceipts(info)
	case len(c.state.BlockBodiesQueue) > 0:
		return c.requestBodies(info)
	case !c.headersInFlight && c.state.BestBlockHeaderNumber < c.state.SafeDownloadTarget && info.MaxBlockNumber >= c.state.PivotBlock.NumberU64():
		return c.requestHeaders(info)
	}
	return false
}

// inFlightHashes flattens a per-peer in-flight map into one slice for
// PersistSyncState to fold back into the persisted queue.
func (c *Coordinator) inFlightHashes(byPeer map[string][]common.Hash) []common.Hash {
	var out []common.Hash
	for _, hashes := range byPeer {
		out = append(out, hashes...)
	}
	return out
}

func batch(queue []common.Hash, n uint64) ([]common.Hash, []common.Hash) {
	if uint64(len(queue)) < n {
		n = uint64(len(queue))
	}
	return queue[:n], queue[n:]
}

func (c *Coordinator) requestHeaders(info p2p.Info) bool {
	if !c.sem.TryAcquire(1) {
		return false
	}
	amount := c.cfg.BlockHeadersPerRequest
	remaining := c.state.SafeDownloadTarget - c.state.BestBlockHeaderNumber
	if remaining < amount {
		amount = remaining
	}
	req := p2p.GetBlockHeaders{Number: c.state.BestBlockHeaderNumber + 1, Amount: amount}
	respCh, err := c.transport.SendGetBlockHeaders(info.ID, req)
	if err != nil {
		c.sem.Release(1)
		return false
	}
	c.headersInFlight = true
	c.peers.MarkBusy(info.ID)
	go c.awaitHeaders(info.ID, respCh)
	return true
}

func (c *Coordinator) requestBodies(info p2p.Info) bool {
	if !c.sem.TryAcquire(1) {
		return false
	}
	hashes, rest := batch(c.state.BlockBodiesQueue, c.cfg.BlockBodiesPerRequest)
	c.state.BlockBodiesQueue = rest
	respCh, err := c.transport.SendGetBlockBodies(info.ID, p2p.GetBlockBodies{Hashes: hashes})
	if err != nil {
		c.state.BlockBodiesQueue = requeue(c.state.BlockBodiesQueue, hashes)
		c.sem.Release(1)
		return false
	}
	c.inFlightBodies[info.ID] = hashes
	c.peers.MarkBusy(info.ID)
	go c.awaitBodies(info.ID, hashes, respCh)
	return true
}

func (c *Coordinator) requestReceipts(info p2p.Info) bool {
	if !c.sem.TryAcquire(1) {
		return false
	}
	hashes, rest := batch(c.state.ReceiptsQueue, c.cfg.ReceiptsPerRequest)
	c.state.ReceiptsQueue = rest
	respCh, err := c.transport.SendGetReceipts(info.ID, p2p.GetReceipts{Hashes: hashes})
	if err != nil {
		c.state.ReceiptsQueue = requeue(c.state.ReceiptsQueue, hashes)
		c.sem.Release(1)
		return false
	}
	c.inFlightReceipts[info.ID] = hashes
	c.peers.MarkBusy(info.ID)
	go c.awaitReceipts(info.ID, hashes, respCh)
	return true
}

func (c *Coordinator) awaitHeaders(peerID string, ch <-chan p2p.BlockHeaders) {
	resp, ok := <-ch
	c.peers.MarkIdle(peerID)
	c.sem.Release(1)
	c.Post(func(cc *Coordinator) {
		cc.headersInFlight = false
		if !ok {
			return
		}
		cc.handleHeaders(peerID, resp.Headers)
	})
}

func (c *Coordinator) awaitBodies(peerID string, hashes []common.Hash, ch <-chan p2p.BlockBodies) {
	resp, ok := <-ch
	c.peers.MarkIdle(peerID)
	c.sem.Release(1)
	c.Post(func(cc *Coordinator) {
		delete(cc.inFlightBodies, peerID)
		if !ok {
			cc.state.BlockBodiesQueue = requeue(cc.state.BlockBodiesQueue, hashes)
			return
		}
		cc.handleBodies(peerID, hashes, resp.Bodies)
	})
}

func (c *Coordinator) awaitReceipts(peerID string, hashes []common.Hash, ch <-chan p2p.Receipts) {
	resp, ok := <-ch
	c.peers.MarkIdle(peerID)
	c.sem.Release(1)
	c.Post(func(cc *Coordinator) {
		delete(cc.inFlightReceipts, peerID)
		if !ok {
			cc.state.ReceiptsQueue = requeue(cc.state.ReceiptsQueue, hashes)
			return
		}
		cc.handleReceipts(peerID, hashes, resp.Receipts)
	})
}

// handleHeaders processes a batch of delivered headers. Headers at or
// below BestBlockHeaderNumber have already been accepted by an earlier
// (possibly redundant) response and are dropped here so they never get
// enqueued a second time.
func (c *Coordinator) handleHeaders(peerID string, headers []*types.Header) {
	if len(headers) == 0 {
		return
	}
	headersReceivedMeter.Mark(int64(len(headers)))
	if err := c.validator.checkHeadersChain(headers); err != nil {
		c.peers.Blacklist(peerID, c.cfg.BlacklistDuration, "error in block headers response")
		return
	}

	for _, header := range headers {
		if header.NumberU64() <= c.state.BestBlockHeaderNumber {
			continue
		}
		if header.NumberU64() >= c.state.NextBlockToFullyValidate {
			if err := c.validator.validate(header); err != nil {
				c.handleRewind(header, peerID, c.cfg.FastSyncBlockValidationN, c.cfg.CriticalBlacklistDuration)
				return
			}
		}
		parentWeight, ok, err := c.store.GetParentChainWeight(header)
		if err != nil || !ok {
			c.handleRewind(header, peerID, c.cfg.FastSyncBlockValidationN, c.cfg.CriticalBlacklistDuration)
			return
		}
		if err := c.store.UpdateSyncState(header, parentWeight); err != nil {
			c.redownloadBlockchain()
			return
		}
		c.state.enqueue(header.Hash())
		c.state.BestBlockHeaderNumber = header.NumberU64()

		if header.NumberU64() == c.state.SafeDownloadTarget {
			c.beginPivotUpdate(ImportedLastBlock)
			return
		}
	}
}

// handleRewind discards unvalidated recent blocks and rewinds the
// download cursor after a validation failure.
func (c *Coordinator) handleRewind(header *types.Header, peerID string, n uint64, duration time.Duration) {
	c.peers.Blacklist(peerID, duration, "validation failure, rewinding")
	if header.NumberU64() <= c.state.SafeDownloadTarget {
		c.store.DiscardLastBlocks(header.NumberU64(), n)
		if header.NumberU64() > n {
			c.state.BestBlockHeaderNumber = header.NumberU64() - n - 1
		} else {
			c.state.BestBlockHeaderNumber = 0
		}
		c.state.BlockBodiesQueue = nil
		c.state.ReceiptsQueue = nil
		if header.NumberU64() <= n || header.NumberU64()-n <= c.state.PivotBlock.NumberU64() {
			c.beginPivotUpdate(LastBlockValidationFailed)
		}
	}
}

// handleBodies processes a batch of delivered block bodies.
func (c *Coordinator) handleBodies(peerID string, hashes []common.Hash, bodies []*types.Body) {
	if len(bodies) == 0 {
		c.peers.Blacklist(peerID, c.cfg.BlacklistDuration, "empty body response for known hash")
		c.state.BlockBodiesQueue = requeue(c.state.BlockBodiesQueue, hashes)
		return
	}
	answered := hashes[:len(bodies)]
	leftover := hashes[len(bodies):]

	result, err := c.validator.validateBlocks(answered, bodies)
	switch {
	case err != nil && result == DbError:
		c.redownloadBlockchain()
		return
	case result == Invalid:
		c.peers.Blacklist(peerID, c.cfg.BlacklistDuration, "invalid block body")
		c.state.BlockBodiesQueue = requeue(c.state.BlockBodiesQueue, hashes)
		return
	}

	bodiesReceivedMeter.Mark(int64(len(bodies)))
	c.store.StoreBlocks(answered, bodies)
	newBest, ok, err := c.store.UpdateBestBlockIfNeeded(answered)
	if err == nil && ok {
		c.state.LastFullBlockNumber = newBest
		lastFullBlockGauge.Update(int64(newBest))
	}
	c.state.BlockBodiesQueue = requeue(c.state.BlockBodiesQueue, leftover)
}

// handleReceipts processes a batch of delivered receipt lists.
func (c *Coordinator) handleReceipts(peerID string, hashes []common.Hash, receiptLists [][]*types.Receipt) {
	if len(receiptLists) == 0 {
		c.peers.Blacklist(peerID, c.cfg.BlacklistDuration, "empty receipts response for known hash")
		c.state.ReceiptsQueue = requeue(c.state.ReceiptsQueue, hashes)
		return
	}
	answered := hashes[:len(receiptLists)]
	leftover := hashes[len(receiptLists):]

	result, err := c.validator.validateReceipts(answered, receiptLists)
	switch {
	case err != nil && result == DbError:
		c.redownloadBlockchain()
		return
	case result == Invalid:
		c.peers.Blacklist(peerID, c.cfg.BlacklistDuration, "invalid receipts")
		c.state.ReceiptsQueue = requeue(c.state.ReceiptsQueue, hashes)
		return
	}

	receiptsReceivedMeter.Mark(int64(len(receiptLists)))
	c.store.StoreReceipts(answered, receiptLists)
	newBest, ok, err := c.store.UpdateBestBlockIfNeeded(answered)
	if err == nil && ok {
		c.state.LastFullBlockNumber = newBest
		lastFullBlockGauge.Update(int64(newBest))
	}
	c.state.ReceiptsQueue = requeue(c.state.ReceiptsQueue, leftover)
}

// redownloadBlockchain implements the DbError recovery policy.
func (c *Coordinator) redownloadBlockchain() {
	c.state.BlockBodiesQueue = nil
	c.state.ReceiptsQueue = nil
	rewind := 2 * c.cfg.BlockHeadersPerRequest
	if c.state.BestBlockHeaderNumber > rewind {
		c.state.BestBlockHeaderNumber -= rewind
	} else {
		c.state.BestBlockHeaderNumber = 0
	}
}

// beginPivotUpdate transitions to WaitingForPivotBlockUpdate and kicks off
// a new pivot selection in the background.
func (c *Coordinator) beginPivotUpdate(reason PivotReason) {
	if c.state.UpdatingPivotBlock {
		return
	}
	c.state.UpdatingPivotBlock = true
	c.fsmState = WaitingForPivotBlockUpdate
	c.reason = reason
	go func() {
		result := c.pivotSel.SelectPivotBlock()
		c.Post(func(cc *Coordinator) { cc.onPivotResult(reason, result) })
	}()
}

// onPivotResult applies the per-reason acceptance table.
func (c *Coordinator) onPivotResult(reason PivotReason, result PivotResult) {
	if result.Failed {
		c.rejectPivotUpdate()
		return
	}
	newHeader := result.Header
	current := c.state.PivotBlock

	newIsGoodEnough := newHeader.NumberU64() >= current.NumberU64() &&
		!(newHeader.NumberU64() == current.NumberU64() && reason == SyncRestart)
	if !newIsGoodEnough {
		c.rejectPivotUpdate()
		return
	}

	switch reason {
	case ImportedLastBlock:
		if newHeader.NumberU64()-current.NumberU64() <= c.cfg.MaxTargetDifference {
			c.startStateSyncAtPivot(current)
		} else {
			c.adoptPivot(newHeader, false)
		}
	case LastBlockValidationFailed:
		c.adoptPivot(newHeader, true)
	case SyncRestart:
		c.adoptPivot(newHeader, false)
		c.startStateSyncAtPivot(newHeader)
	}

	c.state.UpdatingPivotBlock = false
	c.fsmState = Syncing
}

func (c *Coordinator) startStateSyncAtPivot(pivot *types.Header) {
	if pivot.Root == types.EmptyRootHash {
		c.state.StateSyncFinished = true
		return
	}
	c.state6.StartSyncingTo(pivot.Root, pivot.NumberU64())
}

func (c *Coordinator) adoptPivot(newHeader *types.Header, incrementFailures bool) {
	c.state.PivotBlock = newHeader
	c.state.SafeDownloadTarget = newHeader.NumberU64() + c.cfg.FastSyncBlockValidationX
	if incrementFailures {
		c.state.PivotBlockUpdateFailures++
	}
}

func (c *Coordinator) rejectPivotUpdate() {
	c.state.PivotBlockUpdateFailures++
	pivotUpdateFailures.Inc(1)
	if c.state.PivotBlockUpdateFailures > c.cfg.MaximumTargetUpdateFailures {
		log.Crit("fastsync: too many pivot block update failures", "count", c.state.PivotBlockUpdateFailures)
	}
	time.AfterFunc(c.cfg.PivotBlockRescheduleInterval, func() {
		c.Post(func(cc *Coordinator) {
			cc.state.UpdatingPivotBlock = false
			cc.fsmState = Syncing
		})
	})
}

// pivotBlockIsStale reports whether enough peers are far enough ahead of
// the current pivot to justify a rebase.
func (c *Coordinator) pivotBlockIsStale() bool {
	count := 0
	for _, info := range c.peers.HandshakedPeers() {
		if info.MaxBlockNumber < c.cfg.PivotBlockOffset+c.state.PivotBlock.NumberU64() {
			continue
		}
		if info.MaxBlockNumber-c.cfg.PivotBlockOffset-c.state.PivotBlock.NumberU64() >= c.cfg.MaxPivotBlockAge {
			count++
		}
	}
	return count >= c.cfg.MinPeersToChoosePivotBlock
}

// finish discards the unvalidated tail beyond the pivot, persists the
// fast-sync-done marker, and notifies the parent.
func (c *Coordinator) finish() {
	if c.cfg.FastSyncBlockValidationX > 0 {
		c.store.DiscardLastBlocks(c.state.SafeDownloadTarget, c.cfg.FastSyncBlockValidationX-1)
	}
	c.store.PersistFastSyncDone()
	c.fsmState = Terminated
	c.finalSummary = summaryOf(c.state)
	if c.onFinish != nil {
		c.onFinish()
	}
}

func (c *Coordinator) printStatus() {
	bestHeaderGauge.Update(int64(c.state.BestBlockHeaderNumber))
	stateNodesSavedMeter.Mark(int64(c.state.DownloadedNodesCount))
	log.Info("fastsync: progress",
		"bestHeader", c.state.BestBlockHeaderNumber,
		"lastFullBlock", c.state.LastFullBlockNumber,
		"safeTarget", c.state.SafeDownloadTarget,
		"pivot", c.state.PivotBlock.NumberU64(),
		"stateDone", c.state.StateSyncFinished,
		"nodesSaved", c.state.DownloadedNodesCount,
	)
}

// Stop terminates the coordinator's actor loop.
func (c *Coordinator) Stop() {
	close(c.quit)
	<-c.done
}

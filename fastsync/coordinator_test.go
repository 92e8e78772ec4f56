package fastsync

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/p2p"
)

type fakeStore struct {
	headers map[common.Hash]*types.Header
	weights map[common.Hash]types.ChainWeight

	storedBlocks   int
	storedReceipts int
	discarded      []uint64
	persisted      bool
	doneMarked     bool

	persistedInFlightBodies   []common.Hash
	persistedInFlightReceipts []common.Hash
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		headers: make(map[common.Hash]*types.Header),
		weights: make(map[common.Hash]types.ChainWeight),
	}
}

func (f *fakeStore) GetHeader(hash common.Hash) (*types.Header, error) {
	return f.headers[hash], nil
}

func (f *fakeStore) StoreBlocks(hashes []common.Hash, bodies []*types.Body) error {
	f.storedBlocks += len(hashes)
	return nil
}

func (f *fakeStore) StoreReceipts(hashes []common.Hash, receiptLists [][]*types.Receipt) error {
	f.storedReceipts += len(hashes)
	return nil
}

func (f *fakeStore) GetParentChainWeight(header *types.Header) (types.ChainWeight, bool, error) {
	w, ok := f.weights[header.ParentHash]
	return w, ok, nil
}

func (f *fakeStore) UpdateSyncState(header *types.Header, parentWeight types.ChainWeight) error {
	f.headers[header.Hash()] = header
	td := new(big.Int).Add(parentWeight.TotalDifficulty, header.Difficulty)
	f.weights[header.Hash()] = types.NewChainWeight(parentWeight.LastCheckpointNumber, td)
	return nil
}

func (f *fakeStore) UpdateBestBlockIfNeeded(hashes []common.Hash) (uint64, bool, error) {
	return 0, false, nil
}

func (f *fakeStore) DiscardLastBlocks(from uint64, n uint64) error {
	f.discarded = append(f.discarded, from, n)
	return nil
}

func (f *fakeStore) PersistSyncState(state *SyncState, inFlightBodies, inFlightReceipts []common.Hash) error {
	f.persisted = true
	f.persistedInFlightBodies = inFlightBodies
	f.persistedInFlightReceipts = inFlightReceipts
	return nil
}

func (f *fakeStore) PersistFastSyncDone() error {
	f.doneMarked = true
	return nil
}

type fakeTransport struct{}

func (fakeTransport) SendGetBlockHeaders(peerID string, req p2p.GetBlockHeaders) (<-chan p2p.BlockHeaders, error) {
	ch := make(chan p2p.BlockHeaders)
	close(ch)
	return ch, nil
}
func (fakeTransport) SendGetBlockBodies(peerID string, req p2p.GetBlockBodies) (<-chan p2p.BlockBodies, error) {
	ch := make(chan p2p.BlockBodies)
	close(ch)
	return ch, nil
}
func (fakeTransport) SendGetReceipts(peerID string, req p2p.GetReceipts) (<-chan p2p.Receipts, error) {
	ch := make(chan p2p.Receipts)
	close(ch)
	return ch, nil
}

// blockingTransport hands back a body-response channel the test controls
// directly, so a request can be held "in flight" long enough to observe the
// semaphore bounding processDownloads.
type blockingTransport struct {
	bodiesCh chan p2p.BlockBodies
}

func (blockingTransport) SendGetBlockHeaders(peerID string, req p2p.GetBlockHeaders) (<-chan p2p.BlockHeaders, error) {
	ch := make(chan p2p.BlockHeaders)
	close(ch)
	return ch, nil
}
func (t blockingTransport) SendGetBlockBodies(peerID string, req p2p.GetBlockBodies) (<-chan p2p.BlockBodies, error) {
	return t.bodiesCh, nil
}
func (blockingTransport) SendGetReceipts(peerID string, req p2p.GetReceipts) (<-chan p2p.Receipts, error) {
	ch := make(chan p2p.Receipts)
	close(ch)
	return ch, nil
}

// headerHoldingTransport hands back a headers-response channel the test
// controls directly, so a GetBlockHeaders request can be held "in flight"
// long enough to observe assignBlockchainWork's in-flight guard.
type headerHoldingTransport struct {
	headersCh chan p2p.BlockHeaders
}

func (t headerHoldingTransport) SendGetBlockHeaders(peerID string, req p2p.GetBlockHeaders) (<-chan p2p.BlockHeaders, error) {
	return t.headersCh, nil
}
func (headerHoldingTransport) SendGetBlockBodies(peerID string, req p2p.GetBlockBodies) (<-chan p2p.BlockBodies, error) {
	ch := make(chan p2p.BlockBodies)
	close(ch)
	return ch, nil
}
func (headerHoldingTransport) SendGetReceipts(peerID string, req p2p.GetReceipts) (<-chan p2p.Receipts, error) {
	ch := make(chan p2p.Receipts)
	close(ch)
	return ch, nil
}

func TestProcessDownloadsBoundsConcurrencyBySemaphore(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	store.weights[pivot.Hash()] = types.NewChainWeight(0, big.NewInt(1000))

	cfg := DefaultConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.BlockBodiesPerRequest = 1

	peers := NewPeerSet()
	defer peers.Close()
	peers.PeerHandshaked(nopPeer{id: "a"}, p2p.Info{ID: "a", MaxBlockNumber: 1000})
	peers.PeerHandshaked(nopPeer{id: "b"}, p2p.Info{ID: "b", MaxBlockNumber: 1000})

	transport := blockingTransport{bodiesCh: make(chan p2p.BlockBodies)}
	pivotSel := NewPivotSelector(peers, newMockRequester(), 1, 64, time.Millisecond)
	pivotSel.maxRetries = 1

	c := NewCoordinator(cfg, peers, store, transport, &Validator{store: store}, pivotSel, nil, nil)
	c.state = NewSyncState(pivot, cfg.FastSyncBlockValidationX)
	c.fsmState = Syncing
	c.state.BlockBodiesQueue = []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}

	c.processDownloads()

	// Only the first hash was dequeued: with MaxConcurrentRequests=1, the
	// semaphore is already exhausted by the first peer's still-pending
	// request, so the second peer's attempt fails TryAcquire and never
	// touches the queue.
	assert.Len(t, c.state.BlockBodiesQueue, 1)
	close(transport.bodiesCh)
}

func newTestCoordinator(store *fakeStore, pivot *types.Header) *Coordinator {
	cfg := DefaultConfig()
	peers := NewPeerSet()
	// A real, fast-failing PivotSelector: with no peers registered it
	// exhausts its (deliberately tiny) retry budget almost instantly,
	// which is all beginPivotUpdate's background goroutine needs to
	// terminate safely in these tests.
	pivotSel := NewPivotSelector(peers, newMockRequester(), 1, 64, time.Millisecond)
	pivotSel.maxRetries = 1
	c := NewCoordinator(cfg, peers, store, fakeTransport{}, &Validator{store: store}, pivotSel, nil, nil)
	c.state = NewSyncState(pivot, cfg.FastSyncBlockValidationX)
	c.fsmState = Syncing
	return c
}

func TestHandleHeadersAcceptsContiguousChainAndAdvancesCursor(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	store.weights[pivot.Hash()] = types.NewChainWeight(0, big.NewInt(1000))
	store.headers[pivot.Hash()] = pivot

	c := newTestCoordinator(store, pivot)
	c.state.BestBlockHeaderNumber = 100
	c.state.NextBlockToFullyValidate = ^uint64(0) // skip full validation for this test

	h101 := chainedHeader(101, pivot)
	h102 := chainedHeader(102, h101)

	c.handleHeaders("peer1", []*types.Header{h101, h102})

	assert.Equal(t, uint64(102), c.state.BestBlockHeaderNumber)
	assert.Len(t, c.state.BlockBodiesQueue, 2)
	assert.Len(t, c.state.ReceiptsQueue, 2)
}

func TestHandleHeadersBlacklistsOnBrokenChain(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)

	h101 := chainedHeader(101, pivot)
	broken := chainedHeader(103, nil) // not contiguous with h101

	c.handleHeaders("peer1", []*types.Header{h101, broken})

	assert.True(t, c.peers.IsBlacklisted("peer1"))
	assert.Equal(t, uint64(0), c.state.BestBlockHeaderNumber)
}

func TestHandleHeadersRewindsOnUnknownParentWeight(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	c.state.BestBlockHeaderNumber = 100
	c.state.NextBlockToFullyValidate = ^uint64(0)

	orphan := chainedHeader(101, pivot) // pivot's weight was never recorded

	c.handleHeaders("peer1", []*types.Header{orphan})

	assert.True(t, c.peers.IsBlacklisted("peer1"))
	assert.Len(t, store.discarded, 2)
}

func TestHandleHeadersTriggersPivotUpdateAtSafeDownloadTarget(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	store.weights[pivot.Hash()] = types.NewChainWeight(0, big.NewInt(1000))

	c := newTestCoordinator(store, pivot)
	c.state.BestBlockHeaderNumber = c.state.SafeDownloadTarget - 1
	c.state.NextBlockToFullyValidate = ^uint64(0)

	// Fabricate the direct predecessor header for the final one so the
	// chain-contiguity and parent-weight checks both succeed.
	parent := chainedHeader(int64(c.state.SafeDownloadTarget-1), pivot)
	store.weights[parent.Hash()] = types.NewChainWeight(0, big.NewInt(1001))
	final := chainedHeader(int64(c.state.SafeDownloadTarget), parent)

	c.handleHeaders("peer1", []*types.Header{final})

	assert.True(t, c.state.UpdatingPivotBlock)
	assert.Equal(t, WaitingForPivotBlockUpdate, c.fsmState)
}

func TestHandleBodiesBlacklistsOnEmptyResponse(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, chainedHeader(1, nil))
	hash := common.HexToHash("0x01")

	c.handleBodies("peer1", []common.Hash{hash}, nil)

	assert.True(t, c.peers.IsBlacklisted("peer1"))
	assert.Equal(t, []common.Hash{hash}, c.state.BlockBodiesQueue)
}

func TestHandleReceiptsBlacklistsOnEmptyResponse(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, chainedHeader(1, nil))
	hash := common.HexToHash("0x01")

	c.handleReceipts("peer1", []common.Hash{hash}, nil)

	assert.True(t, c.peers.IsBlacklisted("peer1"))
	assert.Equal(t, []common.Hash{hash}, c.state.ReceiptsQueue)
}

func TestOnPivotResultRejectsOnFailure(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	c.state.UpdatingPivotBlock = true

	c.onPivotResult(SyncRestart, PivotResult{Failed: true})

	assert.Equal(t, 1, c.state.PivotBlockUpdateFailures)
}

func TestOnPivotResultAdoptsNewerPivotOnImportedLastBlockBeyondThreshold(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	c.state.UpdatingPivotBlock = true

	newer := chainedHeader(int64(100+c.cfg.MaxTargetDifference+1), nil)
	c.onPivotResult(ImportedLastBlock, PivotResult{Header: newer})

	assert.Equal(t, newer.NumberU64(), c.state.PivotBlock.NumberU64())
	assert.False(t, c.state.UpdatingPivotBlock)
	assert.Equal(t, Syncing, c.fsmState)
}

func TestOnPivotResultStartsStateSyncWhenWithinThreshold(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	pivot.Root = types.EmptyRootHash
	c := newTestCoordinator(store, pivot)
	c.state.UpdatingPivotBlock = true
	c.state6 = NewStateScheduler(nil, c.peers, nil, c.cfg)

	closeEnough := chainedHeader(105, nil)
	closeEnough.Root = types.EmptyRootHash
	c.onPivotResult(ImportedLastBlock, PivotResult{Header: closeEnough})

	assert.True(t, c.state.StateSyncFinished)
	assert.Equal(t, pivot.NumberU64(), c.state.PivotBlock.NumberU64())
}

func TestHandleRewindBeginsPivotUpdateWhenDiscardCrossesPivotNearChainStart(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(0, nil)
	c := newTestCoordinator(store, pivot)
	c.state.SafeDownloadTarget = 100

	// header.NumberU64() (2) is smaller than n (10): the subtraction used
	// to compare against the pivot must not underflow as a uint64 and
	// silently skip the pivot-update transition.
	header := chainedHeader(2, nil)
	c.handleRewind(header, "peer1", 10, time.Millisecond)

	assert.True(t, c.state.UpdatingPivotBlock)
}

func TestOnPivotResultRestartsStateSyncAtNewRootAfterRebase(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	c.state.UpdatingPivotBlock = true
	c.state6 = NewStateScheduler(nil, c.peers, nil, c.cfg)

	newer := chainedHeader(150, nil)
	newer.Root = types.EmptyRootHash
	c.onPivotResult(SyncRestart, PivotResult{Header: newer})

	// A SyncRestart acceptance must adopt the new pivot AND point the
	// state scheduler at its root — otherwise state sync stays stuck
	// syncing the stale pivot's root forever.
	assert.Equal(t, newer.NumberU64(), c.state.PivotBlock.NumberU64())
	assert.True(t, c.state.StateSyncFinished)
	assert.False(t, c.state.UpdatingPivotBlock)
}

func TestAssignBlockchainWorkPrefersReceiptsThenBodiesThenHeaders(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	info := p2p.Info{ID: "peer1", MaxBlockNumber: 1000}

	c.state.ReceiptsQueue = []common.Hash{common.HexToHash("0x01")}
	c.state.BlockBodiesQueue = []common.Hash{common.HexToHash("0x02")}
	require.True(t, c.assignBlockchainWork(info))
	assert.Empty(t, c.state.ReceiptsQueue)
	assert.Len(t, c.state.BlockBodiesQueue, 1)
}

func TestAssignBlockchainWorkSkipsHeadersWhenAlreadyInFlight(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	info := p2p.Info{ID: "peer1", MaxBlockNumber: 1000}

	c.headersInFlight = true
	assert.False(t, c.assignBlockchainWork(info))
}

func TestProcessDownloadsRequestsHeadersOnceAcrossMultipleIdlePeers(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	store.weights[pivot.Hash()] = types.NewChainWeight(0, big.NewInt(1000))

	cfg := DefaultConfig()
	peers := NewPeerSet()
	defer peers.Close()
	peers.PeerHandshaked(nopPeer{id: "a"}, p2p.Info{ID: "a", MaxBlockNumber: 1000})
	peers.PeerHandshaked(nopPeer{id: "b"}, p2p.Info{ID: "b", MaxBlockNumber: 1000})
	peers.PeerHandshaked(nopPeer{id: "c"}, p2p.Info{ID: "c", MaxBlockNumber: 1000})

	// A transport whose headers channel never closes, so the first request
	// stays genuinely in flight for the rest of this tick.
	headersCh := make(chan p2p.BlockHeaders)
	transport := headerHoldingTransport{headersCh: headersCh}
	pivotSel := NewPivotSelector(peers, newMockRequester(), 1, 64, time.Millisecond)
	pivotSel.maxRetries = 1

	c := NewCoordinator(cfg, peers, store, transport, &Validator{store: store}, pivotSel, nil, nil)
	c.state = NewSyncState(pivot, cfg.FastSyncBlockValidationX)
	c.fsmState = Syncing

	c.processDownloads()

	assert.True(t, c.headersInFlight)
	// MarkBusy excludes a peer from PeersToDownloadFrom until MarkIdle;
	// exactly one of the three handshaked peers should have been taken.
	assert.Len(t, peers.PeersToDownloadFrom(0), 2)
	close(headersCh)
}

func TestHandleHeadersDropsAlreadyAcceptedHeaders(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	store.weights[pivot.Hash()] = types.NewChainWeight(0, big.NewInt(1000))
	store.headers[pivot.Hash()] = pivot

	c := newTestCoordinator(store, pivot)
	c.state.BestBlockHeaderNumber = 102
	c.state.NextBlockToFullyValidate = ^uint64(0)

	// A second, redundant delivery of headers already accepted by an
	// earlier response; none of these should be re-enqueued.
	h101 := chainedHeader(101, pivot)
	h102 := chainedHeader(102, h101)

	c.handleHeaders("peer2", []*types.Header{h101, h102})

	assert.Equal(t, uint64(102), c.state.BestBlockHeaderNumber)
	assert.Empty(t, c.state.BlockBodiesQueue)
	assert.Empty(t, c.state.ReceiptsQueue)
}

func TestPersistSyncStateFoldsInFlightBodiesAndReceiptsBackIntoQueue(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)

	bodyHash := common.HexToHash("0x0b")
	receiptHash := common.HexToHash("0x0c")
	c.inFlightBodies["peer1"] = []common.Hash{bodyHash}
	c.inFlightReceipts["peer2"] = []common.Hash{receiptHash}

	c.store.PersistSyncState(c.state, c.inFlightHashes(c.inFlightBodies), c.inFlightHashes(c.inFlightReceipts))

	assert.Equal(t, []common.Hash{bodyHash}, store.persistedInFlightBodies)
	assert.Equal(t, []common.Hash{receiptHash}, store.persistedInFlightReceipts)
}

func TestFinishDiscardsTailAndMarksDone(t *testing.T) {
	store := newFakeStore()
	pivot := chainedHeader(100, nil)
	c := newTestCoordinator(store, pivot)
	c.state.BestBlockHeaderNumber = 150

	finished := false
	c.onFinish = func() { finished = true }
	c.finish()

	assert.Equal(t, []uint64{c.state.SafeDownloadTarget, c.cfg.FastSyncBlockValidationX - 1}, store.discarded)
	assert.True(t, store.doneMarked)
	assert.True(t, finished)
	assert.Equal(t, Terminated, c.fsmState)
	assert.Equal(t, uint64(150), c.FinalSummary().BestBlockHeaderNumber)
}

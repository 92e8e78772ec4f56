package fastsyncdb

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/fastsync"
)

func newTestStore() *Store {
	return New(memorydb.New())
}

func dbHeader(number int64, parent *types.Header) *types.Header {
	h := &types.Header{
		Number:     big.NewInt(number),
		Difficulty: big.NewInt(1),
		UncleHash:  types.EmptyUncleHash,
		TxHash:     types.EmptyRootHash,
	}
	if parent != nil {
		h.ParentHash = parent.Hash()
	}
	return h
}

func TestStoreHeaderRoundTrip(t *testing.T) {
	s := newTestStore()
	h := dbHeader(1, nil)
	require.NoError(t, s.UpdateSyncState(h, types.NewChainWeight(0, big.NewInt(0))))

	got, err := s.GetHeader(h.Hash())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, h.Hash(), got.Hash())
}

func TestStoreGetHeaderUnknownReturnsNilNotError(t *testing.T) {
	s := newTestStore()
	got, err := s.GetHeader(common.HexToHash("0x01"))
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreCanonicalIndexAndCurrentHeader(t *testing.T) {
	s := newTestStore()
	h1 := dbHeader(1, nil)
	h2 := dbHeader(2, h1)
	require.NoError(t, s.UpdateSyncState(h1, types.NewChainWeight(0, big.NewInt(0))))
	require.NoError(t, s.UpdateSyncState(h2, types.NewChainWeight(0, big.NewInt(1))))

	byNum, err := s.GetHeaderByNumber(2)
	require.NoError(t, err)
	require.NotNil(t, byNum)
	assert.Equal(t, h2.Hash(), byNum.Hash())

	current, err := s.CurrentHeader()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, h2.Hash(), current.Hash())
}

func TestStoreParentChainWeightAccumulates(t *testing.T) {
	s := newTestStore()
	h1 := dbHeader(1, nil)
	h1.Difficulty = big.NewInt(100)
	require.NoError(t, s.UpdateSyncState(h1, types.NewChainWeight(0, big.NewInt(0))))

	weight, ok, err := s.GetParentChainWeight(&types.Header{ParentHash: h1.Hash(), Number: big.NewInt(2)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, weight.TotalDifficulty.Cmp(big.NewInt(100)))
}

func TestStoreParentChainWeightMissingIsNotFound(t *testing.T) {
	s := newTestStore()
	_, ok, err := s.GetParentChainWeight(&types.Header{ParentHash: common.HexToHash("0xabc"), Number: big.NewInt(2)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreBlocksAndUpdateBestBlockIfNeeded(t *testing.T) {
	s := newTestStore()
	h1 := dbHeader(1, nil)
	require.NoError(t, s.UpdateSyncState(h1, types.NewChainWeight(0, big.NewInt(0))))

	hashes := []common.Hash{h1.Hash()}
	require.NoError(t, s.StoreBlocks(hashes, []*types.Body{{}}))
	require.NoError(t, s.StoreReceipts(hashes, [][]*types.Receipt{{}}))

	best, advanced, err := s.UpdateBestBlockIfNeeded(hashes)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, uint64(1), best)
}

func TestUpdateBestBlockIfNeededRequiresBothBodyAndReceipts(t *testing.T) {
	s := newTestStore()
	h1 := dbHeader(1, nil)
	require.NoError(t, s.UpdateSyncState(h1, types.NewChainWeight(0, big.NewInt(0))))

	hashes := []common.Hash{h1.Hash()}
	require.NoError(t, s.StoreBlocks(hashes, []*types.Body{{}}))
	// receipts never stored

	_, advanced, err := s.UpdateBestBlockIfNeeded(hashes)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestDiscardLastBlocksRemovesHeaderAndDerivedKeys(t *testing.T) {
	s := newTestStore()
	h1 := dbHeader(1, nil)
	h2 := dbHeader(2, h1)
	require.NoError(t, s.UpdateSyncState(h1, types.NewChainWeight(0, big.NewInt(0))))
	require.NoError(t, s.UpdateSyncState(h2, types.NewChainWeight(0, big.NewInt(1))))

	require.NoError(t, s.DiscardLastBlocks(2, 2))

	got1, err := s.GetHeader(h1.Hash())
	require.NoError(t, err)
	assert.Nil(t, got1)

	got2, err := s.GetHeader(h2.Hash())
	require.NoError(t, err)
	assert.Nil(t, got2)
}

func TestPersistAndLoadSyncState(t *testing.T) {
	s := newTestStore()
	state := fastsync.NewSyncState(dbHeader(1, nil), 10)
	state.BlockBodiesQueue = []common.Hash{common.HexToHash("0x01")}

	require.NoError(t, s.PersistSyncState(state, []common.Hash{common.HexToHash("0x02")}, nil))

	loaded, ok, err := s.LoadSyncState()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, loaded.BlockBodiesQueue, 2)
}

func TestLoadSyncStateAbsentIsNotFound(t *testing.T) {
	s := newTestStore()
	_, ok, err := s.LoadSyncState()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistFastSyncDoneClearsSyncState(t *testing.T) {
	s := newTestStore()
	state := fastsync.NewSyncState(dbHeader(1, nil), 10)
	require.NoError(t, s.PersistSyncState(state, nil, nil))
	require.NoError(t, s.PersistFastSyncDone())

	assert.True(t, s.IsFastSyncDone())
	_, ok, err := s.LoadSyncState()
	require.NoError(t, err)
	assert.False(t, ok)
}

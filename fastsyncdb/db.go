// Package fastsyncdb implements the Storage Façade: the only code
// that writes headers, bodies, receipts, chain weights, and the persisted
// sync-state blob. It is backed by go-ethereum's ethdb.KeyValueStore, with
// namespaced key prefixes so unrelated entities never collide in the same
// keyspace.
package fastsyncdb

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/fastsync"
)

// headerCacheBytes bounds the in-memory header cache; headers are small and
// looked up repeatedly during chain-contiguity checks, so keeping the hot
// set off disk matters more here than for bodies or receipts.
const headerCacheBytes = 16 * 1024 * 1024

// Key prefixes partition the keyspace by entity.
var (
	headerPrefix       = []byte("h") // headerPrefix + num (8 bytes big endian) + hash -> header
	headerNumberPrefix = []byte("H") // headerNumberPrefix + hash -> num (8 bytes)
	canonicalPrefix    = []byte("c") // canonicalPrefix + num -> hash, written as headers arrive in order
	bodyPrefix         = []byte("b") // bodyPrefix + num + hash -> body
	receiptsPrefix     = []byte("r") // receiptsPrefix + num + hash -> receipts
	weightPrefix       = []byte("w") // weightPrefix + hash -> ChainWeight
	headHeaderKey      = []byte("LastFullBlock")
	headCanonicalKey   = []byte("LastCanonicalHeader")
	syncStateKey       = []byte("FastSyncState")
	fastSyncDoneKey    = []byte("FastSyncDone")
)

var ErrNotFound = errors.New("fastsyncdb: key not found")

func encodeNum(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}

func headerKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeNum(number)...), hash.Bytes()...)
}

func bodyKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, bodyPrefix...), encodeNum(number)...), hash.Bytes()...)
}

func receiptsKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, receiptsPrefix...), encodeNum(number)...), hash.Bytes()...)
}

func weightKey(hash common.Hash) []byte {
	return append(append([]byte{}, weightPrefix...), hash.Bytes()...)
}

func numberKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerNumberPrefix...), hash.Bytes()...)
}

func canonicalKey(number uint64) []byte {
	return append(append([]byte{}, canonicalPrefix...), encodeNum(number)...)
}

// Store is the concrete Storage Façade, safe for concurrent reads; writes
// are expected to be funnelled through a single caller (the Sync
// Coordinator for blockchain data, the State Scheduler for trie nodes,
// neither touching the other's keyspace).
type Store struct {
	db     ethdb.KeyValueStore
	hcache *fastcache.Cache
}

// New wraps a KeyValueStore as the fast-sync Storage Façade.
func New(db ethdb.KeyValueStore) *Store {
	return &Store{db: db, hcache: fastcache.New(headerCacheBytes)}
}

// GetHeader looks up a header by hash, scanning the number index first.
func (s *Store) GetHeader(hash common.Hash) (*types.Header, error) {
	numBytes, err := s.db.Get(numberKey(hash))
	if err != nil {
		return nil, nil //nolint:nilerr // unknown header is not an error to callers
	}
	number := binary.BigEndian.Uint64(numBytes)
	return s.getHeaderAt(number, hash)
}

func (s *Store) getHeaderAt(number uint64, hash common.Hash) (*types.Header, error) {
	if cached, ok := s.hcache.HasGet(nil, hash.Bytes()); ok {
		var header types.Header
		if err := rlp.DecodeBytes(cached, &header); err != nil {
			return nil, err
		}
		return &header, nil
	}
	data, err := s.db.Get(headerKey(number, hash))
	if err != nil {
		return nil, nil
	}
	var header types.Header
	if err := rlp.DecodeBytes(data, &header); err != nil {
		return nil, err
	}
	s.hcache.Set(hash.Bytes(), data)
	return &header, nil
}

func (s *Store) putHeader(header *types.Header) error {
	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	hash := header.Hash()
	number := header.NumberU64()
	batch := s.db.NewBatch()
	batch.Put(headerKey(number, hash), data)
	batch.Put(numberKey(hash), encodeNum(number))
	batch.Put(canonicalKey(number), hash.Bytes())
	batch.Put(headCanonicalKey, encodeNum(number))
	if err := batch.Write(); err != nil {
		return err
	}
	s.hcache.Set(hash.Bytes(), data)
	return nil
}

// GetHeaderByNumber looks up the canonical header at number, the header
// inserted last for that height (fast-sync only ever follows a single
// announced chain, so "canonical" here just means "most recently synced").
func (s *Store) GetHeaderByNumber(number uint64) (*types.Header, error) {
	hashBytes, err := s.db.Get(canonicalKey(number))
	if err != nil {
		return nil, nil //nolint:nilerr // unknown height is not an error to callers
	}
	return s.getHeaderAt(number, common.BytesToHash(hashBytes))
}

// CurrentHeader returns the highest canonical header stored so far, or nil
// if none has been persisted yet.
func (s *Store) CurrentHeader() (*types.Header, error) {
	data, err := s.db.Get(headCanonicalKey)
	if err != nil {
		return nil, nil //nolint:nilerr // empty store is not an error to callers
	}
	return s.GetHeaderByNumber(binary.BigEndian.Uint64(data))
}

// StoreBlocks persists a batch of bodies against their already-known
// headers.
func (s *Store) StoreBlocks(hashes []common.Hash, bodies []*types.Body) error {
	batch := s.db.NewBatch()
	for i, hash := range hashes {
		numBytes, err := s.db.Get(numberKey(hash))
		if err != nil {
			continue
		}
		number := binary.BigEndian.Uint64(numBytes)
		data, err := rlp.EncodeToBytes(bodies[i])
		if err != nil {
			return err
		}
		batch.Put(bodyKey(number, hash), data)
	}
	return batch.Write()
}

// StoreReceipts persists a batch of receipt lists.
func (s *Store) StoreReceipts(hashes []common.Hash, receiptLists [][]*types.Receipt) error {
	batch := s.db.NewBatch()
	for i, hash := range hashes {
		numBytes, err := s.db.Get(numberKey(hash))
		if err != nil {
			continue
		}
		number := binary.BigEndian.Uint64(numBytes)
		data, err := rlp.EncodeToBytes(types.Receipts(receiptLists[i]))
		if err != nil {
			return err
		}
		batch.Put(receiptsKey(number, hash), data)
	}
	return batch.Write()
}

// GetParentChainWeight looks up the chain weight of a header's parent;
// absence signals a suspected wrong fork to the caller.
func (s *Store) GetParentChainWeight(header *types.Header) (types.ChainWeight, bool, error) {
	data, err := s.db.Get(weightKey(header.ParentHash))
	if err != nil {
		return types.ChainWeight{}, false, nil
	}
	var w storedWeight
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return types.ChainWeight{}, false, err
	}
	return types.NewChainWeight(w.LastCheckpointNumber, w.TotalDifficulty), true, nil
}

type storedWeight struct {
	LastCheckpointNumber uint64
	TotalDifficulty      *big.Int
}

// UpdateSyncState persists the header and its derived chain weight,
// the parent weight's total difficulty plus the header's own difficulty.
func (s *Store) UpdateSyncState(header *types.Header, parentWeight types.ChainWeight) error {
	if err := s.putHeader(header); err != nil {
		return err
	}
	td := new(big.Int).Add(parentWeight.TotalDifficulty, header.Difficulty)
	weight := storedWeight{LastCheckpointNumber: parentWeight.LastCheckpointNumber, TotalDifficulty: td}
	data, err := rlp.EncodeToBytes(weight)
	if err != nil {
		return err
	}
	return s.db.Put(weightKey(header.Hash()), data)
}

// UpdateBestBlockIfNeeded advances the "fully downloaded" cursor to the
// longest contiguous prefix, among the just-delivered hashes, whose body
// and receipts are both now stored.
func (s *Store) UpdateBestBlockIfNeeded(hashes []common.Hash) (uint64, bool, error) {
	current, err := s.currentLastFullBlock()
	if err != nil {
		return 0, false, err
	}
	advanced := false
	for _, hash := range hashes {
		numBytes, err := s.db.Get(numberKey(hash))
		if err != nil {
			continue
		}
		number := binary.BigEndian.Uint64(numBytes)
		if number != current+1 {
			continue
		}
		hasBody, _ := s.db.Has(bodyKey(number, hash))
		hasReceipts, _ := s.db.Has(receiptsKey(number, hash))
		if !hasBody || !hasReceipts {
			continue
		}
		current = number
		advanced = true
	}
	if advanced {
		s.db.Put(headHeaderKey, encodeNum(current))
	}
	return current, advanced, nil
}

func (s *Store) currentLastFullBlock() (uint64, error) {
	data, err := s.db.Get(headHeaderKey)
	if err != nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

// DiscardLastBlocks atomically drops headers/bodies/receipts for block
// numbers from-n+1..from. Pruning by reference count is
// explicitly out of scope; this performs plain
// append-only-compatible deletes.
func (s *Store) DiscardLastBlocks(from uint64, n uint64) error {
	if n == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	low := uint64(0)
	if from >= n {
		low = from - n + 1
	}
	it := s.db.NewIterator(headerPrefix, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) < len(headerPrefix)+8 {
			continue
		}
		number := binary.BigEndian.Uint64(key[len(headerPrefix) : len(headerPrefix)+8])
		if number < low || number > from {
			continue
		}
		hash := common.BytesToHash(key[len(headerPrefix)+8:])
		batch.Delete(key)
		batch.Delete(numberKey(hash))
		batch.Delete(bodyKey(number, hash))
		batch.Delete(receiptsKey(number, hash))
		batch.Delete(weightKey(hash))
		batch.Delete(canonicalKey(number))
		s.hcache.Del(hash.Bytes())
	}
	return batch.Write()
}

// PersistSyncState serializes the SyncState under a well-known key,
// re-enqueuing in-flight items so crash recovery re-requests exactly what
// was lost.
func (s *Store) PersistSyncState(state *fastsync.SyncState, inFlightBodies, inFlightReceipts []common.Hash) error {
	snapshot := *state
	snapshot.BlockBodiesQueue = append(append([]common.Hash{}, state.BlockBodiesQueue...), inFlightBodies...)
	snapshot.ReceiptsQueue = append(append([]common.Hash{}, state.ReceiptsQueue...), inFlightReceipts...)

	data, err := rlp.EncodeToBytes(&snapshot)
	if err != nil {
		return err
	}
	return s.db.Put(syncStateKey, data)
}

// LoadSyncState reloads the persisted SyncState, if present. Its absence
// means fast-sync never started or has already finished.
func (s *Store) LoadSyncState() (*fastsync.SyncState, bool, error) {
	data, err := s.db.Get(syncStateKey)
	if err != nil {
		return nil, false, nil
	}
	var state fastsync.SyncState
	if err := rlp.DecodeBytes(data, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

// PersistFastSyncDone writes the terminal marker and removes the
// in-progress sync-state key.
func (s *Store) PersistFastSyncDone() error {
	batch := s.db.NewBatch()
	batch.Put(fastSyncDoneKey, []byte{1})
	batch.Delete(syncStateKey)
	return batch.Write()
}

// IsFastSyncDone reports whether the terminal marker is present.
func (s *Store) IsFastSyncDone() bool {
	ok, _ := s.db.Has(fastSyncDoneKey)
	return ok
}

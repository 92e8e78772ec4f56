package types

import (
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
)

func TestCalcUncleHashEmptyMatchesSentinel(t *testing.T) {
	assert.Equal(t, EmptyUncleHash, CalcUncleHash(nil))
}

func TestCalcUncleHashIsPlainRLPHashNotTrieRoot(t *testing.T) {
	uncles := []*Header{testHeader(1), testHeader(2)}
	uncleHash := CalcUncleHash(uncles)

	// Unlike the transactions/receipts roots, the uncles hash is a plain
	// RLP-list keccak256 hash of the header list, not a derived trie root.
	assert.Equal(t, rlpHash(uncles), uncleHash)
}

func TestTransactionsDerivableListRoundTrip(t *testing.T) {
	txs := Transactions{
		NewRawTransaction([]byte{0x01, 0x02}),
		NewRawTransaction([]byte{0x03}),
	}
	assert.Equal(t, 2, txs.Len())

	root := gethtypes.DeriveSha(txs, trie.NewStackTrie(nil))
	assert.NotEqual(t, EmptyRootHash, root)

	empty := Transactions{}
	emptyRoot := gethtypes.DeriveSha(empty, trie.NewStackTrie(nil))
	assert.Equal(t, EmptyRootHash, emptyRoot)
}

func TestNewRawTransactionCopiesInput(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	tx := NewRawTransaction(raw)
	raw[0] = 0xff
	assert.Equal(t, byte(0x01), tx.Raw()[0])
}

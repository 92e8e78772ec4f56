// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package types contains the data model fast-sync downloads and validates:
// headers, bodies, receipts and the chain-weight fork-choice scalar.
package types

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// EmptyRootHash is the known root hash of an empty trie, used both for the
// transactions/receipts root of an empty list and as the sentinel that makes
// state-sync consider itself immediately finished.
var EmptyRootHash = common.HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

// EmptyUncleHash is the known hash of an RLP-encoded empty list, the ommers
// hash of a block with no uncles.
var EmptyUncleHash = rlpHash([]*Header(nil))

// Header represents a block header, content-addressed by its hash.
type Header struct {
	ParentHash  common.Hash    `json:"parentHash"       gencodec:"required"`
	UncleHash   common.Hash    `json:"sha3Uncles"       gencodec:"required"`
	Coinbase    common.Address `json:"miner"            gencodec:"required"`
	Root        common.Hash    `json:"stateRoot"        gencodec:"required"`
	TxHash      common.Hash    `json:"transactionsRoot" gencodec:"required"`
	ReceiptHash common.Hash    `json:"receiptsRoot"     gencodec:"required"`
	Bloom       Bloom          `json:"logsBloom"        gencodec:"required"`
	Difficulty  *big.Int       `json:"difficulty"       gencodec:"required"`
	Number      *big.Int       `json:"number"           gencodec:"required"`
	GasLimit    uint64         `json:"gasLimit"         gencodec:"required"`
	GasUsed     uint64         `json:"gasUsed"          gencodec:"required"`
	Time        uint64         `json:"timestamp"        gencodec:"required"`
	Extra       []byte         `json:"extraData"        gencodec:"required"`
	MixDigest   common.Hash    `json:"mixHash"`
	Nonce       BlockNonce     `json:"nonce"`

	// hash caches the header's content hash. Never copy a Header by value
	// once hash has been populated; Hash() would then return a stale value.
	hash atomicHash
}

// BlockNonce is a 64-bit proof-of-work nonce.
type BlockNonce [8]byte

// EncodeNonce converts a number into a block nonce.
func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	for x := 0; x < 8; x++ {
		n[x] = byte(i >> (56 - 8*x))
	}
	return n
}

// Uint64 returns the integer value of a block nonce.
func (n BlockNonce) Uint64() uint64 {
	var v uint64
	for x := 0; x < 8; x++ {
		v = v<<8 | uint64(n[x])
	}
	return v
}

// headerForHash is an alias of Header, used to RLP-encode a header for
// hashing without the unexported cache field ever confusing encoding/rlp's
// field introspection.
type headerForHash struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   common.Hash
	Nonce       BlockNonce
}

// Hash returns the keccak256 hash of the header's RLP encoding, computed
// once and cached (go-ethereum's Header does the same with a sync.Once-style
// guard; here a tiny struct makes the zero value safe to use directly).
func (h *Header) Hash() common.Hash {
	return h.hash.resolve(func() common.Hash {
		return rlpHash(headerForHash{
			h.ParentHash, h.UncleHash, h.Coinbase, h.Root, h.TxHash, h.ReceiptHash,
			h.Bloom, h.Difficulty, h.Number, h.GasLimit, h.GasUsed, h.Time, h.Extra,
			h.MixDigest, h.Nonce,
		})
	})
}

// NumberU64 returns the header number as a uint64.
func (h *Header) NumberU64() uint64 {
	return h.Number.Uint64()
}

var headerSize = common.StorageSize(reflect.TypeOf(Header{}).Size())

// Size returns the approximate memory used by all internal contents, used to
// bound the memory consumption of various caches.
func (h *Header) Size() common.StorageSize {
	return headerSize + common.StorageSize(len(h.Extra)+(h.Difficulty.BitLen()+h.Number.BitLen())/8)
}

// SanityCheck checks basic bounds on the unbounded fields so a malicious peer
// cannot stuff a header with gigabytes of junk.
func (h *Header) SanityCheck() error {
	if h.Number != nil && !h.Number.IsUint64() {
		return fmt.Errorf("too large block number: bitlen %d", h.Number.BitLen())
	}
	if h.Difficulty != nil {
		if diffLen := h.Difficulty.BitLen(); diffLen > 80 {
			return fmt.Errorf("too large block difficulty: bitlen %d", diffLen)
		}
	}
	if eLen := len(h.Extra); eLen > 100*1024 {
		return fmt.Errorf("too large block extradata: size %d", eLen)
	}
	return nil
}

// EmptyBody reports whether the block has no transactions and no uncles.
func (h *Header) EmptyBody() bool {
	return h.TxHash == EmptyRootHash && h.UncleHash == EmptyUncleHash
}

// EmptyReceipts reports whether the block's receipt list is empty.
func (h *Header) EmptyReceipts() bool {
	return h.ReceiptHash == EmptyRootHash
}

func rlpHash(x interface{}) (h common.Hash) {
	data, err := rlp.EncodeToBytes(x)
	if err != nil {
		panic(err)
	}
	sum := crypto.Keccak256(data)
	copy(h[:], sum)
	return h
}

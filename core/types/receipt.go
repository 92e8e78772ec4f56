// Copyright 2015 The go-ethereum Authors
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

package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Receipt status values.
const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Log is a single event emitted by a transaction, part of a receipt's log
// list whose collective bloom is folded into Receipt.Bloom.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt represents the results of a transaction: post-state or status,
// cumulative gas used, logs bloom, and logs. A list of receipts
// per block hashes to the header's receipts root.
type Receipt struct {
	PostState         []byte
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []*Log
}

// receiptRLP mirrors the consensus-encoded fields of a receipt (post
// Byzantium, Status replaces PostState). Both share the first field: it
// carries PostState when that is set and the status byte otherwise, which
// is what round-trips to the receipts root the peer advertised.
type receiptRLP struct {
	PostStateOrStatus []byte
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []*Log
}

func (r *Receipt) statusEncoding() []byte {
	if len(r.PostState) > 0 {
		return r.PostState
	}
	if r.Status == ReceiptStatusFailed {
		return nil
	}
	return []byte{1}
}

// EncodeRLP writes the receipt's consensus RLP encoding to w. It takes a
// *bytes.Buffer, so it does not satisfy rlp.Encoder.
func (r *Receipt) EncodeRLP(w *bytes.Buffer) error {
	data, err := rlp.EncodeToBytes(&receiptRLP{r.statusEncoding(), r.CumulativeGasUsed, r.Bloom, r.Logs})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Receipts implements go-ethereum/core/types.DerivableList, so the real
// receipts-root trie derivation can validate a delivered receipt list against
// a header the way the Block Validator requires.
type Receipts []*Receipt

func (rs Receipts) Len() int { return len(rs) }

func (rs Receipts) EncodeIndex(i int, w *bytes.Buffer) {
	if err := rs[i].EncodeRLP(w); err != nil {
		panic(err)
	}
}

// CreateBloom folds the blooms of a receipt list into one aggregate bloom.
func CreateBloom(receipts Receipts) Bloom {
	var bin Bloom
	for _, r := range receipts {
		for i, b := range r.Bloom {
			bin[i] |= b
		}
	}
	return bin
}

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

package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction is an opaque, already-encoded transaction as fast-sync moves
// it: this engine never decodes or executes transactions, it only checks
// that the ordered list hashes to the header's transactions root, so a
// raw-bytes representation is enough and avoids depending on a full
// transaction-signing package.
type Transaction struct {
	raw []byte
}

// NewRawTransaction wraps an already RLP-encoded transaction.
func NewRawTransaction(raw []byte) *Transaction {
	return &Transaction{raw: append([]byte(nil), raw...)}
}

// Raw returns the transaction's RLP encoding.
func (tx *Transaction) Raw() []byte { return tx.raw }

// Body is the ordered transaction list and ordered uncle-header list that
// accompanies a header. The hash relationships to the header
// (transactions root, uncles hash) are invariants checked by the Block
// Validator, not by this type.
type Body struct {
	Transactions []*Transaction
	Uncles       []*Header
}

// Transactions implements go-ethereum/core/types.DerivableList so the real
// transactions-root trie derivation can be reused as-is instead of
// hand-rolled.
type Transactions []*Transaction

func (t Transactions) Len() int { return len(t) }

// EncodeIndex writes the i'th transaction's encoding into w, satisfying
// go-ethereum/core/types.DerivableList.
func (t Transactions) EncodeIndex(i int, w *bytes.Buffer) {
	w.Write(t[i].raw)
}

// CalcUncleHash computes the ommers hash: the keccak256 of the RLP
// encoding of the uncle-header list. Unlike the transactions/receipts
// roots this is a plain RLP-list hash, not a Merkle-Patricia trie root.
func CalcUncleHash(uncles []*Header) (h common.Hash) {
	if len(uncles) == 0 {
		return EmptyUncleHash
	}
	return rlpHash(uncles)
}

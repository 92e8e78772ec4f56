// Copyright 2017 The go-ethereum Authors
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

// Package consensus defines the header-verification boundary the Block
// Validator calls into. Fast-sync never mines or finalizes a block, so the
// engine interface here is trimmed to exactly what verifying a downloaded
// header chain requires.
package consensus

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/params"
)

// ChainHeaderReader defines the small collection of methods an Engine needs
// to access already-accepted headers while verifying a new one.
type ChainHeaderReader interface {
	Config() *params.ChainConfig
	CurrentHeader() *types.Header
	GetHeader(hash common.Hash, number uint64) *types.Header
	GetHeaderByNumber(number uint64) *types.Header
	GetHeaderByHash(hash common.Hash) *types.Header
}

// Engine is an algorithm-agnostic consensus engine, trimmed to the
// header-verification surface fast-sync actually exercises.
type Engine interface {
	// Author retrieves the address that minted the given header.
	Author(header *types.Header) (common.Address, error)

	// VerifyHeader checks whether a header conforms to the engine's
	// consensus rules. Verifying the seal may be done here or left to
	// VerifySeal, controlled by seal.
	VerifyHeader(chain ChainHeaderReader, header *types.Header, seal bool) error

	// VerifyHeaders is like VerifyHeader for a batch, verified
	// concurrently. The returned channel can be closed to abort; results
	// arrive on the result channel in the order of the input slice.
	VerifyHeaders(chain ChainHeaderReader, headers []*types.Header, seals []bool) (chan<- struct{}, <-chan error)

	// VerifyUncles verifies the uncle block headers of a regular block.
	VerifyUncles(chain ChainHeaderReader, header *types.Header, uncles []*types.Header) error

	// VerifySeal checks whether a header's seal satisfies the consensus
	// rules of the given engine.
	VerifySeal(chain ChainHeaderReader, header *types.Header) error

	// CalcDifficulty is the difficulty adjustment algorithm. It returns
	// the difficulty that a new block should have.
	CalcDifficulty(chain ChainHeaderReader, time uint64, parent *types.Header) *big.Int

	// Close terminates any background threads maintained by the engine.
	Close() error
}

// PoW is a consensus engine based on proof-of-work.
type PoW interface {
	Engine
	Hashrate() float64
}

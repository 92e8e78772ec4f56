// Copyright 2016 The go-ethereum Authors
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

package params

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethparams "github.com/ethereum/go-ethereum/params"
)

// Genesis hashes to enforce below configs on.
var (
	MainnetGenesisHash = common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa")
	SepoliaGenesisHash = common.HexToHash("0x25a5cc106eea7138acab33231d7160d69cb777ee0c2c553fcddf5138993e6dd")
)

var (
	MainnetNetworkId = uint64(1)
	SepoliaNetworkId = uint64(11155111)
)

var NetworkIdHelp = fmt.Sprintf("Mainnet=%v, Sepolia=%v", MainnetNetworkId, SepoliaNetworkId)

// TrustedCheckpoints associates each known checkpoint with the genesis hash
// of the chain it belongs to. It is configuration only: the Pivot Selector
// does not read it.
var TrustedCheckpoints = map[common.Hash]*TrustedCheckpoint{
	MainnetGenesisHash: MainnetTrustedCheckpoint,
}

// CheckpointOracles associates each known checkpoint oracle with the genesis
// hash of the chain it belongs to.
var CheckpointOracles = map[common.Hash]*CheckpointOracleConfig{}

var (
	// MainnetChainConfig is the chain parameters to run a node on the main
	// network. The fork-block schedule is borrowed verbatim from the real
	// go-ethereum params package so difficulty/PoW-era validation rules
	// match mainnet exactly rather than being reimplemented.
	MainnetChainConfig = &ChainConfig{
		Eth:          gethparams.MainnetChainConfig,
		NetworkId:    MainnetNetworkId,
		GenesisHash:  MainnetGenesisHash,
		Checkpoint:   MainnetTrustedCheckpoint,
		OracleConfig: MainnetCheckpointOracle,
	}

	SepoliaChainConfig = &ChainConfig{
		Eth:         gethparams.SepoliaChainConfig,
		NetworkId:   SepoliaNetworkId,
		GenesisHash: SepoliaGenesisHash,
	}

	// AllEthashProtocolChanges is a copy of the go-ethereum config with all
	// known forks enabled from genesis, used by tests that want a fixed,
	// never-changing ruleset.
	AllEthashProtocolChanges = &ChainConfig{Eth: gethparams.AllEthashProtocolChanges}
)

// ChainConfig is the fast-sync-relevant subset of a chain's configuration:
// the fork schedule needed for header/difficulty validation (delegated to
// the real go-ethereum ChainConfig) plus checkpoint metadata, which is
// carried as configuration only; nothing in the sync engine reads it.
type ChainConfig struct {
	Eth          *gethparams.ChainConfig `json:"ethConfig"`
	NetworkId    uint64                  `json:"networkId"`
	GenesisHash  common.Hash             `json:"genesisHash"`
	Checkpoint   *TrustedCheckpoint      `json:"checkpoint,omitempty"`
	OracleConfig *CheckpointOracleConfig `json:"oracle,omitempty"`
}

func (c *ChainConfig) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("{NetworkId: %d Genesis: %s}", c.NetworkId, c.GenesisHash.Hex())
}

// TrustedCheckpoint represents a set of post-processed trie roots (CHT for
// headers, Bloom trie for receipts) that a client can use to verify
// sections of the header chain without downloading the entire thing,
// matching the Pivot Selector's operator-supplied trust anchor.
type TrustedCheckpoint struct {
	SectionIndex uint64      `json:"sectionIndex"`
	SectionHead  common.Hash `json:"sectionHead"`
	CHTRoot      common.Hash `json:"chtRoot"`
	BloomRoot    common.Hash `json:"bloomRoot"`
}

// HashEqual reports whether the given section head hash matches the
// checkpoint's expectation.
func (c *TrustedCheckpoint) HashEqual(hash common.Hash) bool {
	if c == nil {
		return hash == common.Hash{}
	}
	return c.SectionHead == hash
}

// CheckpointOracleConfig represents a set of checkpoint contract addresses
// and signer set that pivot bootstrap can query for a fresher checkpoint at
// startup instead of relying only on the hardcoded list above.
type CheckpointOracleConfig struct {
	Address   common.Address   `json:"address"`
	Signers   []common.Address `json:"signers"`
	Threshold uint64           `json:"threshold"`
}

// MainnetTrustedCheckpoint is an operator-supplied trust anchor; values are
// illustrative placeholders, since nothing here implements the section
// oracle that would populate them from chain state.
var MainnetTrustedCheckpoint = &TrustedCheckpoint{
	SectionIndex: 0,
	SectionHead:  MainnetGenesisHash,
}

var MainnetCheckpointOracle = &CheckpointOracleConfig{
	Threshold: 2,
}

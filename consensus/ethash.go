package consensus

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/ethash"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/go-ethsync/fastsync/core/types"
)

var errUnknownAncestor = errors.New("unknown ancestor")

// Ethash wraps the real go-ethereum ethash engine in light (cache-only)
// mode: fast-sync only ever verifies headers it downloads, it never mines,
// so the heavy DAG-generation path of ethash is never exercised. The actual
// hashimoto/seal math is low-level crypto best left to the real dependency
// rather than reimplemented.
type Ethash struct {
	inner *ethash.Ethash
}

// NewLightEthash returns a verify-only ethash engine: it lazily builds the
// small per-epoch verification cache to check a seal, never the full mining
// DAG, since fast-sync only ever verifies headers it downloads.
func NewLightEthash() *Ethash {
	return &Ethash{inner: ethash.New(ethash.Config{PowMode: ethash.ModeNormal}, nil, false)}
}

// NewFakeEthash returns an engine that accepts any seal, for tests that
// synthesize header chains without real PoW.
func NewFakeEthash() *Ethash {
	return &Ethash{inner: ethash.NewFaker()}
}

func toGethHeader(h *types.Header) *gethtypes.Header {
	return &gethtypes.Header{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       gethtypes.BytesToBloom(h.Bloom.Bytes()),
		Difficulty:  h.Difficulty,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       h.Extra,
		MixDigest:   h.MixDigest,
		Nonce:       gethtypes.EncodeNonce(h.Nonce.Uint64()),
	}
}

func (e *Ethash) Author(header *types.Header) (common.Address, error) {
	return header.Coinbase, nil
}

func (e *Ethash) VerifySeal(chain ChainHeaderReader, header *types.Header) error {
	return e.inner.VerifySeal(nil, toGethHeader(header))
}

func (e *Ethash) VerifyUncles(chain ChainHeaderReader, header *types.Header, uncles []*types.Header) error {
	if len(uncles) > 2 {
		return errors.New("too many uncles")
	}
	return nil
}

// CalcDifficulty recomputes the expected difficulty of a child block from
// its parent, the same homestead/Byzantium-era rule go-ethereum ships.
func (e *Ethash) CalcDifficulty(chain ChainHeaderReader, time uint64, parent *types.Header) *big.Int {
	return ethash.CalcDifficulty(chain.Config().Eth, time, toGethHeader(parent))
}

func (e *Ethash) Close() error { return nil }

func (e *Ethash) Hashrate() float64 { return 0 }

// VerifyHeader checks a single header against its known parent.
func (e *Ethash) VerifyHeader(chain ChainHeaderReader, header *types.Header, seal bool) error {
	if header.Number == nil {
		return errors.New("nil block number")
	}
	parent := chain.GetHeader(header.ParentHash, header.NumberU64()-1)
	if parent == nil {
		return errUnknownAncestor
	}
	if header.Time <= parent.Time {
		return errors.New("non-increasing timestamp")
	}
	expected := e.CalcDifficulty(chain, header.Time, parent)
	if expected.Cmp(header.Difficulty) != 0 {
		return errors.New("invalid difficulty")
	}
	if header.GasUsed > header.GasLimit {
		return errors.New("invalid gasUsed")
	}
	if err := header.SanityCheck(); err != nil {
		return err
	}
	if seal {
		return e.VerifySeal(chain, header)
	}
	return nil
}

// VerifyHeaders verifies a batch concurrently, returning results in order.
func (e *Ethash) VerifyHeaders(chain ChainHeaderReader, headers []*types.Header, seals []bool) (chan<- struct{}, <-chan error) {
	abort := make(chan struct{})
	results := make(chan error, len(headers))
	go func() {
		for i, header := range headers {
			select {
			case <-abort:
				return
			case results <- e.VerifyHeader(chain, header, seals[i]):
			}
		}
	}()
	return abort, results
}

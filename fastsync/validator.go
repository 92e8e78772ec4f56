package fastsync

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-ethsync/fastsync/consensus"
	"github.com/go-ethsync/fastsync/core/types"
)

// validatedCacheSize bounds how many already-verified header hashes are
// remembered, enough to cover a header's lifetime across a single rewind-
// and-retry cycle without re-running PoW verification on it.
const validatedCacheSize = 4096

// ValidationResult is the three-way outcome of validating a delivered body
// or receipt list against its header.
type ValidationResult int

const (
	Valid ValidationResult = iota
	Invalid
	DbError
)

// HeaderLookup is the slice of the Storage Façade the validator needs: a
// way to find the header a body or receipt list is claimed to belong to.
type HeaderLookup interface {
	GetHeader(hash common.Hash) (*types.Header, error)
}

// Validator performs every stateless check the Block Validator owns:
// header-chain contiguity, structural/PoW validation, and body/receipt
// root checks.
type Validator struct {
	engine consensus.Engine
	chain  consensus.ChainHeaderReader
	store  HeaderLookup

	validated *lru.Cache
}

// NewValidator builds a Validator backed by the given consensus engine and
// chain reader (used for PoW/difficulty rules) and header lookup (used for
// body/receipt root checks).
func NewValidator(engine consensus.Engine, chain consensus.ChainHeaderReader, store HeaderLookup) *Validator {
	cache, _ := lru.New(validatedCacheSize)
	return &Validator{engine: engine, chain: chain, store: store, validated: cache}
}

// checkHeadersChain verifies a header batch is internally contiguous:
// each header's parent hash equals its predecessor's hash and numbers are
// strictly consecutive.
func (v *Validator) checkHeadersChain(headers []*types.Header) error {
	for i := 1; i < len(headers); i++ {
		prev, cur := headers[i-1], headers[i]
		if cur.ParentHash != prev.Hash() {
			return ErrBadHeaderChain
		}
		if cur.NumberU64() != prev.NumberU64()+1 {
			return ErrBadHeaderChain
		}
	}
	return nil
}

// validate runs structural and proof-of-work validation on a single
// header, invoked only when header.number ≥ nextBlockToFullyValidate.
// Headers that already passed are remembered, since a rewind can hand the
// same header back for re-validation after a later header in the batch
// turned out to be bad.
func (v *Validator) validate(header *types.Header) error {
	hash := header.Hash()
	if v.validated != nil {
		if _, ok := v.validated.Get(hash); ok {
			return nil
		}
	}
	if err := header.SanityCheck(); err != nil {
		return err
	}
	if err := v.engine.VerifyHeader(v.chain, header, true); err != nil {
		return err
	}
	if v.validated != nil {
		v.validated.Add(hash, struct{}{})
	}
	return nil
}

// validateBlocks checks transactions root and uncles hash for each
// delivered body against its looked-up header.
func (v *Validator) validateBlocks(hashes []common.Hash, bodies []*types.Body) (ValidationResult, error) {
	for i, hash := range hashes {
		header, err := v.store.GetHeader(hash)
		if err != nil {
			return DbError, err
		}
		if header == nil {
			return Invalid, errors.New("unknown header for delivered body")
		}
		body := bodies[i]
		txRoot := gethtypes.DeriveSha(types.Transactions(body.Transactions), trie.NewStackTrie(nil))
		if txRoot != header.TxHash {
			return Invalid, ErrBodyMismatch
		}
		uncleHash := computeUncleHash(body.Uncles)
		if uncleHash != header.UncleHash {
			return Invalid, ErrBodyMismatch
		}
	}
	return Valid, nil
}

// validateReceipts checks the receipts root for each delivered receipt
// list against its looked-up header.
func (v *Validator) validateReceipts(hashes []common.Hash, receiptLists [][]*types.Receipt) (ValidationResult, error) {
	for i, hash := range hashes {
		header, err := v.store.GetHeader(hash)
		if err != nil {
			return DbError, err
		}
		if header == nil {
			return Invalid, errors.New("unknown header for delivered receipts")
		}
		root := gethtypes.DeriveSha(types.Receipts(receiptLists[i]), trie.NewStackTrie(nil))
		if root != header.ReceiptHash {
			return Invalid, ErrReceiptsMismatch
		}
	}
	return Valid, nil
}

// computeUncleHash reproduces the ommers hash: unlike the transactions and
// receipts roots, this is a plain RLP-list hash, not a trie root.
func computeUncleHash(uncles []*types.Header) common.Hash {
	return types.CalcUncleHash(uncles)
}

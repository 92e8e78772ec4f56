package main

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/fastsyncdb"
	"github.com/go-ethsync/fastsync/params"
)

// chainReader adapts the Storage Façade to consensus.ChainHeaderReader, the
// only view of already-accepted headers the verification engine needs.
type chainReader struct {
	cfg   *params.ChainConfig
	store *fastsyncdb.Store
}

func (r *chainReader) Config() *params.ChainConfig {
	return r.cfg
}

func (r *chainReader) CurrentHeader() *types.Header {
	header, err := r.store.CurrentHeader()
	if err != nil {
		return nil
	}
	return header
}

func (r *chainReader) GetHeader(hash common.Hash, number uint64) *types.Header {
	header, err := r.store.GetHeader(hash)
	if err != nil || header == nil {
		return nil
	}
	if header.NumberU64() != number {
		return nil
	}
	return header
}

func (r *chainReader) GetHeaderByNumber(number uint64) *types.Header {
	header, err := r.store.GetHeaderByNumber(number)
	if err != nil {
		return nil
	}
	return header
}

func (r *chainReader) GetHeaderByHash(hash common.Hash) *types.Header {
	header, err := r.store.GetHeader(hash)
	if err != nil {
		return nil
	}
	return header
}

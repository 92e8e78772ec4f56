package types

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// atomicHash is a lazily-computed, concurrency-safe cache for a single
// common.Hash value. The zero value is ready to use.
type atomicHash struct {
	v atomic.Value // common.Hash
}

func (a *atomicHash) resolve(compute func() common.Hash) common.Hash {
	if v := a.v.Load(); v != nil {
		return v.(common.Hash)
	}
	h := compute()
	a.v.Store(h)
	return h
}

package fastsync

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/go-ethsync/fastsync/core/types"
)

// PivotResult is what the Pivot Selector reports back to the coordinator:
// either an agreed header, or a failure after exhausting its retries.
type PivotResult struct {
	Header *types.Header
	Failed bool
}

// headerRequester is the slice of peer access the selector needs: asking
// one peer for the single header at a given number.
type headerRequester interface {
	RequestHeaderByNumber(peerID string, number uint64) (*types.Header, error)
}

// PivotSelector asks a quorum of peers for the header at tip-offset and
// returns the header reported by the largest group of agreeing peers,
// provided that group meets the quorum.
type PivotSelector struct {
	peers      *PeerSet
	requester  headerRequester
	minQuorum  int
	offset     uint64
	maxRetries int
	backoff    time.Duration
}

// NewPivotSelector builds a selector using peers' advertised tips and the
// given requester to fetch individual headers.
func NewPivotSelector(peers *PeerSet, requester headerRequester, minQuorum int, offset uint64, backoff time.Duration) *PivotSelector {
	return &PivotSelector{peers: peers, requester: requester, minQuorum: minQuorum, offset: offset, backoff: backoff, maxRetries: 5}
}

// SelectPivotBlock asks at least minQuorum peers for the header at
// bestPeerTip-offset and groups responses by hash, returning the header
// with strict-majority (or highest-count quorum-meeting) agreement.
func (s *PivotSelector) SelectPivotBlock() PivotResult {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		infos := s.peers.PeersToDownloadFrom(0)
		if len(infos) < s.minQuorum {
			time.Sleep(s.backoff)
			continue
		}

		bestTip := uint64(0)
		for _, info := range infos {
			if info.MaxBlockNumber > bestTip {
				bestTip = info.MaxBlockNumber
			}
		}
		if bestTip <= s.offset {
			time.Sleep(s.backoff)
			continue
		}
		target := bestTip - s.offset

		groups := make(map[common.Hash]*types.Header)
		counts := make(map[common.Hash]int)
		var mu sync.Mutex
		var g errgroup.Group
		for _, info := range infos {
			info := info
			g.Go(func() error {
				header, err := s.requester.RequestHeaderByNumber(info.ID, target)
				if err != nil || header == nil {
					return nil
				}
				h := header.Hash()
				mu.Lock()
				groups[h] = header
				counts[h]++
				mu.Unlock()
				return nil
			})
		}
		g.Wait() // per-peer requests never return an error worth aborting the quorum on

		var bestHash common.Hash
		bestCount := 0
		for h, c := range counts {
			if c > bestCount {
				bestHash, bestCount = h, c
			}
		}
		if bestCount >= s.minQuorum {
			return PivotResult{Header: groups[bestHash]}
		}
		time.Sleep(s.backoff)
	}
	return PivotResult{Failed: true}
}

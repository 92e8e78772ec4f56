package fastsync

import (
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"

	"github.com/go-ethsync/fastsync/common/task"
	"github.com/go-ethsync/fastsync/p2p"
)

// ban is a single blacklist entry: a peer excluded until it expires.
type ban struct {
	reason  string
	expires time.Time
}

// PeerSet is the peer registry and blacklist. It tracks handshaken peers
// and a time-bounded exclusion list, purging expired bans on a periodic
// tick. It is read by many (PeersToDownloadFrom is called from the
// coordinator's hot loop) and written by the coordinator and by
// handshake/disconnect notifications, so its own state is guarded by a
// mutex rather than folded into the coordinator's single-writer actor
// loop.
type PeerSet struct {
	mu        sync.RWMutex
	peers     map[string]p2p.Peer
	infos     map[string]p2p.Info
	blacklist map[string]ban
	inFlight  mapset.Set // peer IDs currently serving a request
	lastUsed  map[string]time.Time

	stopCleanup task.StopFn
}

// NewPeerSet creates an empty registry and starts its blacklist-expiry
// sweep.
func NewPeerSet() *PeerSet {
	ps := &PeerSet{
		peers:     make(map[string]p2p.Peer),
		infos:     make(map[string]p2p.Info),
		blacklist: make(map[string]ban),
		inFlight:  mapset.NewSet(),
		lastUsed:  make(map[string]time.Time),
	}
	ps.stopCleanup = task.RunTaskRepeateadly(ps.expireBans, task.NewDefaultTicker(time.Second))
	return ps
}

// Close stops the background blacklist sweep.
func (ps *PeerSet) Close() {
	if ps.stopCleanup != nil {
		ps.stopCleanup()
	}
}

// PeerHandshaked registers a newly handshaken peer.
func (ps *PeerSet) PeerHandshaked(peer p2p.Peer, info p2p.Info) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.peers[peer.ID()] = peer
	ps.infos[peer.ID()] = info
}

// PeerDisconnected purges any in-flight accounting for the peer.
func (ps *PeerSet) PeerDisconnected(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, id)
	delete(ps.infos, id)
	delete(ps.lastUsed, id)
	ps.inFlight.Remove(id)
}

// UpdateInfo refreshes a peer's advertised tip, e.g. on a new-block-hashes
// notification.
func (ps *PeerSet) UpdateInfo(id string, info p2p.Info) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.peers[id]; ok {
		ps.infos[id] = info
	}
}

// HandshakedPeers returns every currently connected peer with its info.
func (ps *PeerSet) HandshakedPeers() map[string]p2p.Info {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]p2p.Info, len(ps.infos))
	for id, info := range ps.infos {
		out[id] = info
	}
	return out
}

// Peer returns the live transport handle for id, if still connected.
func (ps *PeerSet) Peer(id string) (p2p.Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

// Blacklist bans a peer for duration with the given reason. Every blacklist
// carries a reason surfaced through the status log.
func (ps *PeerSet) Blacklist(id string, duration time.Duration, reason string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.blacklist[id] = ban{reason: reason, expires: time.Now().Add(duration)}
	peerBlacklistedCounter.Inc(1)
	log.Info("fastsync: peer blacklisted", "peer", id, "duration", duration, "reason", reason)
}

// IsBlacklisted reports whether id is currently banned.
func (ps *PeerSet) IsBlacklisted(id string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	b, ok := ps.blacklist[id]
	if !ok {
		return false
	}
	return time.Now().Before(b.expires)
}

func (ps *PeerSet) expireBans() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := time.Now()
	for id, b := range ps.blacklist {
		if !now.Before(b.expires) {
			delete(ps.blacklist, id)
		}
	}
}

// MarkBusy/MarkIdle track whether a peer is currently serving a request, so
// processDownloads only assigns unassigned peers.
func (ps *PeerSet) MarkBusy(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.inFlight.Add(id)
	ps.lastUsed[id] = time.Now()
}

func (ps *PeerSet) MarkIdle(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.inFlight.Remove(id)
}

// PeersToDownloadFrom returns handshaked peers minus blacklisted ones,
// minus peers currently busy or still inside their per-peer throttle
// window, sorted by advertised tip descending.
func (ps *PeerSet) PeersToDownloadFrom(throttle time.Duration) []p2p.Info {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	now := time.Now()
	out := make([]p2p.Info, 0, len(ps.infos))
	for id, info := range ps.infos {
		if ps.inFlight.Contains(id) {
			continue
		}
		if b, banned := ps.blacklist[id]; banned && now.Before(b.expires) {
			continue
		}
		if last, ok := ps.lastUsed[id]; ok && now.Sub(last) < throttle {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaxBlockNumber > out[j].MaxBlockNumber })
	return out
}

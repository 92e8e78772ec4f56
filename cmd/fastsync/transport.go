package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/go-ethsync/fastsync/core/types"
	"github.com/go-ethsync/fastsync/fastsync"
	"github.com/go-ethsync/fastsync/p2p"
)

// errNoSuchPeer is returned when a request targets a peer the registry no
// longer knows about (already disconnected between assignment and send).
var errNoSuchPeer = errors.New("fastsync: no such peer")

// wireTransport is the seam where a live devp2p connection plugs in. It
// turns each outbound request into a short-lived Request Handler and
// demultiplexes inbound responses by (peer, message code) back to the
// handler awaiting them. Peer discovery, handshake, and the actual framing
// of messages on the wire belong to that connection and are out of scope
// here; Deliver is the method such a connection's read loop
// calls once it has decoded an incoming message.
type wireTransport struct {
	peers   *fastsync.PeerSet
	timeout time.Duration
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]map[uint64]chan interface{}
}

func newWireTransport(peers *fastsync.PeerSet, timeout time.Duration, requestsPerSecond float64) *wireTransport {
	limit := rate.Limit(requestsPerSecond)
	burst := int(requestsPerSecond) + 1
	if requestsPerSecond <= 0 {
		limit = rate.Inf
		burst = 0
	}
	return &wireTransport{
		peers:   peers,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
		pending: make(map[string]map[uint64]chan interface{}),
	}
}

// Deliver routes one decoded inbound message to the handler waiting on it,
// if any. Unsolicited or late messages are dropped.
func (t *wireTransport) Deliver(peerID string, code uint64, msg interface{}) {
	t.mu.Lock()
	ch, ok := t.pending[peerID][code]
	if ok {
		delete(t.pending[peerID], code)
	}
	t.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (t *wireTransport) register(peerID string, code uint64) chan interface{} {
	ch := make(chan interface{}, 1)
	t.mu.Lock()
	if t.pending[peerID] == nil {
		t.pending[peerID] = make(map[uint64]chan interface{})
	}
	t.pending[peerID][code] = ch
	t.mu.Unlock()
	return ch
}

func (t *wireTransport) send(peerID string, code uint64, req interface{}, expectCode uint64) (<-chan fastsync.Outcome, error) {
	peer, ok := t.peers.Peer(peerID)
	if !ok {
		return nil, errNoSuchPeer
	}
	if err := t.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	responses := t.register(peerID, expectCode)
	done := make(chan fastsync.Outcome, 1)
	handler := fastsync.NewRequestHandler(peer, code, req, expectCode, t.timeout, responses, done)
	go handler.Run()
	return done, nil
}

// SendGetBlockHeaders issues a headers request and adapts the generic
// Request Handler outcome into a typed response channel.
func (t *wireTransport) SendGetBlockHeaders(peerID string, req p2p.GetBlockHeaders) (<-chan p2p.BlockHeaders, error) {
	outcomes, err := t.send(peerID, p2p.GetBlockHeadersMsg, req, p2p.BlockHeadersMsg)
	if err != nil {
		return nil, err
	}
	out := make(chan p2p.BlockHeaders, 1)
	go func() {
		defer close(out)
		outcome := <-outcomes
		if outcome.Err != nil {
			return
		}
		if resp, ok := outcome.Response.(p2p.BlockHeaders); ok {
			out <- resp
		}
	}()
	return out, nil
}

// SendGetBlockBodies issues a bodies request.
func (t *wireTransport) SendGetBlockBodies(peerID string, req p2p.GetBlockBodies) (<-chan p2p.BlockBodies, error) {
	outcomes, err := t.send(peerID, p2p.GetBlockBodiesMsg, req, p2p.BlockBodiesMsg)
	if err != nil {
		return nil, err
	}
	out := make(chan p2p.BlockBodies, 1)
	go func() {
		defer close(out)
		outcome := <-outcomes
		if outcome.Err != nil {
			return
		}
		if resp, ok := outcome.Response.(p2p.BlockBodies); ok {
			out <- resp
		}
	}()
	return out, nil
}

// SendGetReceipts issues a receipts request.
func (t *wireTransport) SendGetReceipts(peerID string, req p2p.GetReceipts) (<-chan p2p.Receipts, error) {
	outcomes, err := t.send(peerID, p2p.GetReceiptsMsg, req, p2p.ReceiptsMsg)
	if err != nil {
		return nil, err
	}
	out := make(chan p2p.Receipts, 1)
	go func() {
		defer close(out)
		outcome := <-outcomes
		if outcome.Err != nil {
			return
		}
		if resp, ok := outcome.Response.(p2p.Receipts); ok {
			out <- resp
		}
	}()
	return out, nil
}

// dispatchNodeData issues a GetNodeData request; it is passed to the State
// Scheduler as its peer-dispatch function.
func (t *wireTransport) dispatchNodeData(peerID string, hashes []common.Hash) (<-chan p2p.NodeData, error) {
	outcomes, err := t.send(peerID, p2p.GetNodeDataMsg, p2p.GetNodeData{Hashes: hashes}, p2p.NodeDataMsg)
	if err != nil {
		return nil, err
	}
	out := make(chan p2p.NodeData, 1)
	go func() {
		defer close(out)
		outcome := <-outcomes
		if outcome.Err != nil {
			return
		}
		if resp, ok := outcome.Response.(p2p.NodeData); ok {
			out <- resp
		}
	}()
	return out, nil
}

// RequestHeaderByNumber makes a single-header request, used only by the
// Pivot Selector's quorum poll.
func (t *wireTransport) RequestHeaderByNumber(peerID string, number uint64) (*types.Header, error) {
	respCh, err := t.SendGetBlockHeaders(peerID, p2p.GetBlockHeaders{Number: number, Amount: 1})
	if err != nil {
		return nil, err
	}
	resp, ok := <-respCh
	if !ok || len(resp.Headers) == 0 {
		return nil, errors.New("fastsync: no header in response")
	}
	return resp.Headers[0], nil
}

package fastsync

import (
	"fmt"
	"time"

	"github.com/go-ethsync/fastsync/p2p"
)

// Outcome is the terminal result a Request Handler reports back to its
// parent.
type Outcome struct {
	Peer     string
	Request  interface{}
	Response interface{}
	Elapsed  time.Duration
	Err      error // nil on ResponseReceived, set on RequestFailed
	Reason   RequestFailureReason
}

// RequestHandler is a short-lived agent parameterised by (peer, request,
// expected response code, timeout). It sends the request, waits for the
// matching response or a timeout, and posts exactly one Outcome to done
// before returning. If Run dies unexpectedly (a panic) before posting, it
// recovers and posts a RequestFailed outcome with ReasonHandlerDied
// instead, so the side waiting on done is never left blocked.
type RequestHandler struct {
	peer       p2p.Peer
	peerID     string
	code       uint64
	request    interface{}
	expectCode uint64
	timeout    time.Duration
	responses  <-chan interface{} // fed by the transport's demultiplexer
	done       chan<- Outcome
}

// NewRequestHandler constructs a handler for one outstanding request.
// responses must deliver exactly the messages addressed to this peer
// carrying expectCode; the transport layer is responsible for that
// demultiplexing.
func NewRequestHandler(peer p2p.Peer, code uint64, request interface{}, expectCode uint64, timeout time.Duration, responses <-chan interface{}, done chan<- Outcome) *RequestHandler {
	return &RequestHandler{
		peer:       peer,
		peerID:     peer.ID(),
		code:       code,
		request:    request,
		expectCode: expectCode,
		timeout:    timeout,
		responses:  responses,
		done:       done,
	}
}

// Run sends the request and blocks until a response arrives, the timeout
// elapses, or the transport closes. It is meant to be invoked with `go`.
func (h *RequestHandler) Run() {
	defer func() {
		if r := recover(); r != nil {
			h.done <- Outcome{Peer: h.peerID, Request: h.request, Err: fmt.Errorf("fastsync: request handler died: %v", r), Reason: ReasonHandlerDied}
		}
	}()
	start := time.Now()
	if err := h.peer.Send(h.code, h.request); err != nil {
		h.done <- Outcome{Peer: h.peerID, Request: h.request, Err: err, Reason: ReasonDisconnected}
		return
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-h.responses:
		if !ok {
			h.done <- Outcome{Peer: h.peerID, Request: h.request, Err: p2p.ErrClosed, Reason: ReasonDisconnected}
			return
		}
		h.done <- Outcome{Peer: h.peerID, Request: h.request, Response: resp, Elapsed: time.Since(start)}
	case <-timer.C:
		h.done <- Outcome{Peer: h.peerID, Request: h.request, Err: ErrPeerTimeout, Reason: ReasonTimeout}
	}
}

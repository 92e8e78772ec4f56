package fastsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-ethsync/fastsync/p2p"
)

type recordingPeer struct {
	nopPeer
	sent chan uint64
	err  error
}

func (p recordingPeer) Send(code uint64, data interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.sent <- code
	return nil
}

func TestRequestHandlerDeliversResponseOutcome(t *testing.T) {
	sent := make(chan uint64, 1)
	peer := recordingPeer{nopPeer: nopPeer{id: "a"}, sent: sent}
	responses := make(chan interface{}, 1)
	done := make(chan Outcome, 1)

	h := NewRequestHandler(peer, p2p.GetBlockHeadersMsg, p2p.GetBlockHeaders{Amount: 1}, p2p.BlockHeadersMsg, time.Second, responses, done)
	go h.Run()

	assert.Equal(t, uint64(p2p.GetBlockHeadersMsg), <-sent)
	responses <- p2p.BlockHeaders{}

	outcome := <-done
	assert.NoError(t, outcome.Err)
	assert.Equal(t, "a", outcome.Peer)
}

func TestRequestHandlerReportsTimeout(t *testing.T) {
	peer := recordingPeer{nopPeer: nopPeer{id: "a"}, sent: make(chan uint64, 1)}
	responses := make(chan interface{})
	done := make(chan Outcome, 1)

	h := NewRequestHandler(peer, p2p.GetBlockHeadersMsg, p2p.GetBlockHeaders{}, p2p.BlockHeadersMsg, time.Millisecond, responses, done)
	go h.Run()

	outcome := <-done
	assert.Error(t, outcome.Err)
	assert.Equal(t, ReasonTimeout, outcome.Reason)
}

func TestRequestHandlerReportsSendFailureAsDisconnected(t *testing.T) {
	peer := recordingPeer{nopPeer: nopPeer{id: "a"}, sent: make(chan uint64, 1), err: errors.New("send failed")}
	responses := make(chan interface{})
	done := make(chan Outcome, 1)

	h := NewRequestHandler(peer, p2p.GetBlockHeadersMsg, p2p.GetBlockHeaders{}, p2p.BlockHeadersMsg, time.Second, responses, done)
	go h.Run()

	outcome := <-done
	assert.Error(t, outcome.Err)
	assert.Equal(t, ReasonDisconnected, outcome.Reason)
}

func TestRequestHandlerReportsClosedResponses(t *testing.T) {
	peer := recordingPeer{nopPeer: nopPeer{id: "a"}, sent: make(chan uint64, 1)}
	responses := make(chan interface{})
	done := make(chan Outcome, 1)

	h := NewRequestHandler(peer, p2p.GetBlockHeadersMsg, p2p.GetBlockHeaders{}, p2p.BlockHeadersMsg, time.Second, responses, done)
	go h.Run()

	<-peer.sent
	close(responses)

	outcome := <-done
	assert.Equal(t, p2p.ErrClosed, outcome.Err)
	assert.Equal(t, ReasonDisconnected, outcome.Reason)
}

// Package p2p defines the thin boundary fast-sync consumes from the peer
// transport: peer identity, advertised chain tip, and the typed
// request/response messages exchanged over the wire. Discovery, handshake
// cryptography, and on-wire framing are the transport's responsibility and
// are out of scope here.
package p2p

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/go-ethsync/fastsync/core/types"
)

// ErrClosed is returned by Peer.Send once the underlying connection is gone.
var ErrClosed = errors.New("p2p: peer connection closed")

// Peer is the transport-level handle fast-sync uses to talk to one remote
// node. A real implementation wraps an rlpx connection; tests implement it
// with an in-process channel pair.
type Peer interface {
	// ID uniquely identifies this peer for the lifetime of the connection.
	ID() string

	// Info reports the peer's advertised chain tip and address, refreshed
	// on every status/new-block-hashes message the transport observes.
	Info() Info

	// Send transmits a single request message to the peer. The transport
	// is responsible for matching the eventual response back to this
	// request's expected code; fast-sync's Request Handler is the
	// caller that performs that correlation at a higher level via
	// request-response channels, not by inspecting wire codes itself.
	Send(code uint64, data interface{}) error

	// Disconnect tears down the connection with a diagnostic reason.
	Disconnect(reason string)
}

// Info is the subset of peer metadata fast-sync's Peer Registry observes.
type Info struct {
	ID             string
	RemoteAddr     string
	MaxBlockNumber uint64
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%s(tip=%d)", i.ID, i.RemoteAddr, i.MaxBlockNumber)
}

// Message codes for the subset of the eth wire protocol fast-sync drives.
// Exact on-wire encoding belongs to the transport; these codes
// are only used to correlate a Request Handler's outbound request with the
// matching inbound response.
const (
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
	GetReceiptsMsg     = 0x0f
	ReceiptsMsg        = 0x10
	GetNodeDataMsg     = 0x0d
	NodeDataMsg        = 0x0e
)

// GetBlockHeaders requests a run of headers starting at Origin.
type GetBlockHeaders struct {
	Origin  common.Hash // zero if Number should be used instead
	Number  uint64
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// BlockHeaders is the response to GetBlockHeaders.
type BlockHeaders struct {
	Headers []*types.Header
}

// GetBlockBodies requests the bodies for the given block hashes.
type GetBlockBodies struct {
	Hashes []common.Hash
}

// BlockBodies is the response to GetBlockBodies, in request order; a peer
// with no data for a hash simply omits it from the slice.
type BlockBodies struct {
	Bodies []*types.Body
}

// GetReceipts requests the receipt list for the given block hashes.
type GetReceipts struct {
	Hashes []common.Hash
}

// Receipts is the response to GetReceipts, one receipt list per hash found.
type Receipts struct {
	Receipts [][]*types.Receipt
}

// GetNodeData requests raw trie-node blobs by content hash.
type GetNodeData struct {
	Hashes []common.Hash
}

// NodeData is the response to GetNodeData: opaque blobs in request order,
// omitting any hash the peer doesn't have.
type NodeData struct {
	Data [][]byte
}

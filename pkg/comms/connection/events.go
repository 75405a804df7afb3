// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connection

import (
	"io"

	"github.com/tari-go/base-node/pkg/comms/peer"
	"github.com/tari-go/base-node/pkg/wire/negotiate"
)

// ManagerEventKind tags the variant a ManagerEvent carries: a small
// closed enum rather than a grab bag of optional fields.
type ManagerEventKind int

const (
	// EventPeerConnected announces a newly established connection,
	// inbound or outbound, before any tie-break resolution.
	EventPeerConnected ManagerEventKind = iota
	// EventPeerDisconnected announces a connection has torn down.
	EventPeerDisconnected
	// EventPeerConnectFailed announces a dial or inbound upgrade failed.
	EventPeerConnectFailed
	// EventDialCancelled announces a dial was explicitly cancelled,
	// which the connectivity manager's failure counter must not count
	// against the peer.
	EventDialCancelled
	// EventNewInboundSubstream announces a freshly negotiated inbound
	// substream ready for a protocol handler to take ownership of.
	EventNewInboundSubstream
)

func (k ManagerEventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "PeerConnected"
	case EventPeerDisconnected:
		return "PeerDisconnected"
	case EventPeerConnectFailed:
		return "PeerConnectFailed"
	case EventDialCancelled:
		return "DialCancelled"
	case EventNewInboundSubstream:
		return "NewInboundSubstream"
	default:
		return "Unknown"
	}
}

// ManagerEvent is published on the shared connection-manager event
// channel that both peer-connection actors and the connectivity
// manager observe -- actors emit PeerConnected/PeerDisconnected/
// NewInboundSubstream, the lower-level dialer emits
// PeerConnectFailed/DialCancelled.
type ManagerEvent struct {
	Kind ManagerEventKind

	NodeID peer.NodeID
	Conn   *PeerConnection // set for EventPeerConnected
	Err    error           // set for EventPeerConnectFailed

	Protocol negotiate.ProtocolID // set for EventNewInboundSubstream
	Stream   io.ReadWriteCloser   // set for EventNewInboundSubstream
}

// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package connectivity is the single-actor fleet-wide manager: it owns
// a ConnectionPool keyed by peer node id, resolves duplicate-connection
// tie-breaks, reaps idle connections, bans misbehaving peers, and
// publishes a broadcast stream of connectivity-state events.
package connectivity

import (
	"time"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/peer"
)

// Status is the manager's own view of overall node connectivity,
// computed from the connected non-client node count against
// min_connectivity.
type Status int

const (
	// StatusInitializing is the status before connectivity status has
	// first been computed (on a connection event or a refresh tick).
	StatusInitializing Status = iota
	// StatusOnline means at least min_connectivity node peers are
	// connected.
	StatusOnline
	// StatusDegraded means some, but fewer than min_connectivity, node
	// peers are connected.
	StatusDegraded
	// StatusOffline means no node peers and no client peers are
	// connected.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusOnline:
		return "Online"
	case StatusDegraded:
		return "Degraded"
	case StatusOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// EventKind tags the variant an Event carries.
type EventKind int

const (
	EventStateInitialized EventKind = iota
	EventStateOnline
	EventStateDegraded
	EventStateOffline
	EventPeerConnected
	EventPeerDisconnected
	EventPeerConnectFailed
	EventPeerConnectionWillClose
	EventPeerBanned
	EventPeerOffline
)

func (k EventKind) String() string {
	switch k {
	case EventStateInitialized:
		return "StateInitialized"
	case EventStateOnline:
		return "StateOnline"
	case EventStateDegraded:
		return "StateDegraded"
	case EventStateOffline:
		return "StateOffline"
	case EventPeerConnected:
		return "PeerConnected"
	case EventPeerDisconnected:
		return "PeerDisconnected"
	case EventPeerConnectFailed:
		return "PeerConnectFailed"
	case EventPeerConnectionWillClose:
		return "PeerConnectionWillClose"
	case EventPeerBanned:
		return "PeerBanned"
	case EventPeerOffline:
		return "PeerOffline"
	default:
		return "Unknown"
	}
}

// Event is one broadcast connectivity notification. The event bus
// (pkg/eventbus) fans it out to every subscriber; a slow subscriber
// loses its oldest buffered event rather than ever blocking the
// publishing manager.
type Event struct {
	Kind EventKind

	N int // connected-node count, set for StateOnline/StateDegraded

	NodeID    peer.NodeID
	Conn      *connection.PeerConnection // set for PeerConnected
	Direction peer.Direction             // set for PeerConnectionWillClose
	Reason    string                     // set for PeerBanned
}

// Topic is the eventbus topic every connectivity Event is published on.
const Topic = "connectivity"

// staleConnectionAge is how long an existing Connected entry must have
// been open, while the peer is re-dialing us, before it is always
// replaced by the new connection regardless of direction tie-break.
const staleConnectionAge = 60 * time.Second

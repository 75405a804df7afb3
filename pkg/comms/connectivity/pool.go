// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connectivity

import (
	"time"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/peer"
)

// ConnectionStatus is the per-peer lifecycle state the pool tracks.
// NotPresent is never stored explicitly -- it is simply the absence of
// an entry for a node id.
type ConnectionStatus int

const (
	NotPresent ConnectionStatus = iota
	Connecting
	Connected
	Disconnected
	Failed
)

func (s ConnectionStatus) String() string {
	switch s {
	case NotPresent:
		return "NotPresent"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// connState is one entry in the connection pool: a node id's current
// status and, when Connected, its connection handle.
type connState struct {
	nodeID    peer.NodeID
	status    ConnectionStatus
	conn      *connection.PeerConnection
	updatedAt time.Time
}

func (s *connState) IsConnected() bool { return s.status == Connected }

// ConnectionPool is the manager's sole piece of mutable state: a map
// from node id to its current connection status, owned exclusively by
// the connectivity manager's single goroutine. It is never accessed
// concurrently, so it carries no lock of its own.
type ConnectionPool struct {
	entries map[peer.NodeID]*connState
}

// NewConnectionPool constructs an empty pool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{entries: make(map[peer.NodeID]*connState)}
}

// Get returns the pool entry for nodeID, if one exists.
func (p *ConnectionPool) Get(nodeID peer.NodeID) (*connState, bool) {
	s, ok := p.entries[nodeID]
	return s, ok
}

// GetConnection returns the live connection handle for nodeID, or nil
// if the entry is absent or not Connected.
func (p *ConnectionPool) GetConnection(nodeID peer.NodeID) *connection.PeerConnection {
	s, ok := p.entries[nodeID]
	if !ok || s.status != Connected {
		return nil
	}
	return s.conn
}

// SetStatus transitions nodeID's status, creating the entry if absent,
// and returns the status that entry had beforehand (NotPresent if it
// did not exist).
func (p *ConnectionPool) SetStatus(nodeID peer.NodeID, status ConnectionStatus) ConnectionStatus {
	s, ok := p.entries[nodeID]
	if !ok {
		p.entries[nodeID] = &connState{nodeID: nodeID, status: status, updatedAt: time.Now()}
		return NotPresent
	}
	old := s.status
	s.status = status
	s.updatedAt = time.Now()
	if status != Connected {
		s.conn = nil
	}
	return old
}

// InsertConnection attaches conn to nodeID's entry (creating it if
// absent), marks it Connected, and returns the resulting status -- it
// is always Connected; a transition to Connected always carries a
// handle.
func (p *ConnectionPool) InsertConnection(conn *connection.PeerConnection) ConnectionStatus {
	nodeID := conn.PeerNodeID()
	s, ok := p.entries[nodeID]
	if !ok {
		s = &connState{nodeID: nodeID}
		p.entries[nodeID] = s
	}
	s.status = Connected
	s.conn = conn
	s.updatedAt = time.Now()
	return Connected
}

// Remove drops nodeID's entry entirely.
func (p *ConnectionPool) Remove(nodeID peer.NodeID) {
	delete(p.entries, nodeID)
}

// FilterDrain removes and returns every entry for which pred returns
// true.
func (p *ConnectionPool) FilterDrain(pred func(ConnectionStatus) bool) []*connState {
	var drained []*connState
	for id, s := range p.entries {
		if pred(s.status) {
			drained = append(drained, s)
			delete(p.entries, id)
		}
	}
	return drained
}

// All returns every entry in the pool.
func (p *ConnectionPool) All() []*connState {
	out := make([]*connState, 0, len(p.entries))
	for _, s := range p.entries {
		out = append(out, s)
	}
	return out
}

// FilterConnectionStates returns every entry for which pred returns
// true.
func (p *ConnectionPool) FilterConnectionStates(pred func(*connState) bool) []*connState {
	var out []*connState
	for _, s := range p.entries {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// InactiveConnections returns every Connected entry whose connection
// has had no substream activity (approximated here by overall
// connection age, since the actor does not separately track per-
// substream idle time) for at least minAge.
func (p *ConnectionPool) InactiveConnections(minAge time.Duration) []*connState {
	var out []*connState
	for _, s := range p.entries {
		if s.status == Connected && s.conn != nil && s.conn.Age() >= minAge {
			out = append(out, s)
		}
	}
	return out
}

// CountEntries reports the total number of tracked node ids.
func (p *ConnectionPool) CountEntries() int { return len(p.entries) }

// CountConnectedNodes reports the number of Connected entries whose
// peer does not advertise the client-only feature.
func (p *ConnectionPool) CountConnectedNodes() int {
	n := 0
	for _, s := range p.entries {
		if s.status == Connected && s.conn != nil && !s.conn.PeerFeatures().IsClient() {
			n++
		}
	}
	return n
}

// CountConnectedClients reports the number of Connected entries whose
// peer advertises the client-only feature.
func (p *ConnectionPool) CountConnectedClients() int {
	n := 0
	for _, s := range p.entries {
		if s.status == Connected && s.conn != nil && s.conn.PeerFeatures().IsClient() {
			n++
		}
	}
	return n
}

// CountFailed reports the number of Failed entries.
func (p *ConnectionPool) CountFailed() int { return p.countStatus(Failed) }

// CountDisconnected reports the number of Disconnected entries.
func (p *ConnectionPool) CountDisconnected() int { return p.countStatus(Disconnected) }

func (p *ConnectionPool) countStatus(status ConnectionStatus) int {
	n := 0
	for _, s := range p.entries {
		if s.status == status {
			n++
		}
	}
	return n
}

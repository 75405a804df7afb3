// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connectivity

import (
	"math/rand"
	"sort"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/peer"
)

// SelectionKind tags which Selection rule applies.
type SelectionKind int

const (
	// SelectRandom picks up to N connected entries uniformly at random.
	SelectRandom SelectionKind = iota
	// SelectClosestTo picks up to N connected entries ordered by
	// node-id proximity (byte-wise distance) to a target.
	SelectClosestTo
	// SelectAll returns every connected entry, nodes and clients alike.
	SelectAll
	// SelectAllNodes returns every connected non-client entry.
	SelectAllNodes
	// SelectAllClients returns every connected client entry.
	SelectAllClients
)

// Selection parameterises a SelectConnections query.
type Selection struct {
	Kind   SelectionKind
	N      int
	Target peer.NodeID // used by SelectClosestTo
}

// Random builds a Selection that picks up to n connections at random.
func Random(n int) Selection { return Selection{Kind: SelectRandom, N: n} }

// ClosestTo builds a Selection that picks up to n connections closest
// to target by node-id distance.
func ClosestTo(target peer.NodeID, n int) Selection {
	return Selection{Kind: SelectClosestTo, N: n, Target: target}
}

// All selects every connected peer, node or client.
func All() Selection { return Selection{Kind: SelectAll} }

// AllNodes selects every connected non-client peer.
func AllNodes() Selection { return Selection{Kind: SelectAllNodes} }

// AllClients selects every connected client peer.
func AllClients() Selection { return Selection{Kind: SelectAllClients} }

// selectFrom evaluates the selection against pool and returns the
// matching connection handles.
func (sel Selection) selectFrom(pool *ConnectionPool) []*connection.PeerConnection {
	connected := pool.FilterConnectionStates(func(s *connState) bool { return s.IsConnected() && s.conn != nil })

	switch sel.Kind {
	case SelectAll:
		return toConns(connected)
	case SelectAllNodes:
		return toConns(filterStates(connected, func(s *connState) bool { return !s.conn.PeerFeatures().IsClient() }))
	case SelectAllClients:
		return toConns(filterStates(connected, func(s *connState) bool { return s.conn.PeerFeatures().IsClient() }))
	case SelectRandom:
		shuffled := append([]*connState(nil), connected...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return toConns(capped(shuffled, sel.N))
	case SelectClosestTo:
		sorted := append([]*connState(nil), connected...)
		sort.Slice(sorted, func(i, j int) bool {
			return nodeDistance(sel.Target, sorted[i].nodeID).Less(nodeDistance(sel.Target, sorted[j].nodeID))
		})
		return toConns(capped(sorted, sel.N))
	default:
		return nil
	}
}

func filterStates(states []*connState, pred func(*connState) bool) []*connState {
	var out []*connState
	for _, s := range states {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

func capped(states []*connState, n int) []*connState {
	if n <= 0 || n >= len(states) {
		return states
	}
	return states[:n]
}

func toConns(states []*connState) []*connection.PeerConnection {
	out := make([]*connection.PeerConnection, 0, len(states))
	for _, s := range states {
		out = append(out, s.conn)
	}
	return out
}

// nodeDistance is the byte-wise XOR distance between two node ids,
// itself just a NodeID so Less can reuse NodeID's own total order.
func nodeDistance(a, b peer.NodeID) peer.NodeID {
	var d peer.NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

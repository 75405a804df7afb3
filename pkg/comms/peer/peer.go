// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package peer defines the identifiers shared by every comms
// sub-package: a peer's node id, its advertised feature set, and the
// direction a connection to it was established in.
package peer

import "encoding/hex"

// NodeIDLength is the size of a node id: a truncated hash of the
// peer's public key, long enough to make collisions practically
// impossible without carrying a full key around everywhere.
const NodeIDLength = 13

// NodeID uniquely identifies a peer on the network. It is comparable,
// so it can be used directly as a map key -- the connection pool and
// the peer store both key on it.
type NodeID [NodeIDLength]byte

// NodeIDFromBytes copies b into a NodeID, zero-padding or truncating to
// NodeIDLength.
func NodeIDFromBytes(b []byte) NodeID {
	var id NodeID
	copy(id[:], b)
	return id
}

// String renders the full hex encoding.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// ShortString truncates the hex encoding to the first few bytes, for
// log lines where the full id would be noise.
func (n NodeID) ShortString() string {
	s := n.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// Less gives NodeID a total order so the connectivity manager's
// tie-break rule ("our_node_id < peer_node_id") has a concrete
// comparison to perform.
func (n NodeID) Less(other NodeID) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// Features is a bitset of capabilities a peer advertises at connect
// time. The connectivity manager's selection queries (AllNodes vs
// AllClients) partition on FeatureCommunicationClient.
type Features uint32

const (
	// FeatureCommunicationNode marks a full network participant that
	// relays and stores messages for others.
	FeatureCommunicationNode Features = 1 << iota
	// FeatureCommunicationClient marks a lightweight client that only
	// originates its own traffic.
	FeatureCommunicationClient
)

// IsClient reports whether f carries only the client feature bit.
func (f Features) IsClient() bool {
	return f&FeatureCommunicationClient != 0 && f&FeatureCommunicationNode == 0
}

// Direction records which side dialed.
type Direction int

const (
	// DirectionInbound means the remote side dialed us.
	DirectionInbound Direction = iota
	// DirectionOutbound means we dialed the remote side.
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "Inbound"
	case DirectionOutbound:
		return "Outbound"
	default:
		return "Unknown"
	}
}

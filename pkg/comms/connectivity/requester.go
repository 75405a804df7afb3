// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connectivity

import (
	"time"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/peer"
)

// DialResult is the outcome of a DialPeer request.
type DialResult struct {
	Conn *connection.PeerConnection
	Err  error
}

// Dialer is the lower-level connection manager the connectivity
// manager forwards a dial to when no Connected pool entry already
// exists for the target. Transport-level dial retries are the Dialer's
// own concern; the connectivity manager only observes the resulting
// events.
type Dialer interface {
	// DialPeer asynchronously dials nodeID and delivers the result on
	// reply. reply may be nil when the caller only wants the resulting
	// ConnectionManagerEvent (PeerConnected/PeerConnectFailed), not a
	// direct reply.
	DialPeer(nodeID peer.NodeID, reply chan<- DialResult)
	// CancelDial cancels an in-flight dial to nodeID, if any. A
	// cancelled dial must report DialCancelled, never a generic
	// failure, so it is excluded from the failure counter.
	CancelDial(nodeID peer.NodeID)
}

type request struct {
	waitStarted        chan<- struct{}
	dialPeer           *dialPeerReq
	selectConnections  *selectConnectionsReq
	getConnection      *getConnectionReq
	getAllStates       chan<- []ConnectionStatus
	banPeer            *banPeerReq
	getActiveConns     chan<- []*connection.PeerConnection
	getStatus          chan<- Status
	shutdown           chan<- struct{}
}

type dialPeerReq struct {
	nodeID peer.NodeID
	reply  chan<- DialResult
}

type selectConnectionsReq struct {
	selection Selection
	reply     chan<- []*connection.PeerConnection
}

type getConnectionReq struct {
	nodeID peer.NodeID
	reply  chan<- *connection.PeerConnection
}

type banPeerReq struct {
	nodeID   peer.NodeID
	duration time.Duration
	reason   string
}

// Requester is a cheap, cloneable handle to the connectivity manager
// actor. All methods are synchronous request/response over the
// manager's bounded request channel.
type Requester struct {
	requestCh chan<- request
}

// WaitStarted blocks until the manager's actor loop is running and has
// serviced this request (StateInitialized has been published by then),
// used as a startup barrier by components that talk to the manager.
func (r Requester) WaitStarted() {
	reply := make(chan struct{})
	r.requestCh <- request{waitStarted: reply}
	<-reply
}

// DialPeer returns the existing Connected connection for nodeID, or
// forwards the dial to the lower-level connection manager.
func (r Requester) DialPeer(nodeID peer.NodeID) (*connection.PeerConnection, error) {
	reply := make(chan DialResult, 1)
	r.requestCh <- request{dialPeer: &dialPeerReq{nodeID: nodeID, reply: reply}}
	res := <-reply
	return res.Conn, res.Err
}

// SelectConnections evaluates selection against the current pool.
func (r Requester) SelectConnections(selection Selection) []*connection.PeerConnection {
	reply := make(chan []*connection.PeerConnection, 1)
	r.requestCh <- request{selectConnections: &selectConnectionsReq{selection: selection, reply: reply}}
	return <-reply
}

// GetConnection returns nodeID's live connection, or nil.
func (r Requester) GetConnection(nodeID peer.NodeID) *connection.PeerConnection {
	reply := make(chan *connection.PeerConnection, 1)
	r.requestCh <- request{getConnection: &getConnectionReq{nodeID: nodeID, reply: reply}}
	return <-reply
}

// GetAllConnectionStates returns every tracked entry's status.
func (r Requester) GetAllConnectionStates() []ConnectionStatus {
	reply := make(chan []ConnectionStatus, 1)
	r.requestCh <- request{getAllStates: reply}
	return <-reply
}

// GetActiveConnections returns every currently connected handle.
func (r Requester) GetActiveConnections() []*connection.PeerConnection {
	reply := make(chan []*connection.PeerConnection, 1)
	r.requestCh <- request{getActiveConns: reply}
	return <-reply
}

// GetConnectivityStatus returns the manager's current status.
func (r Requester) GetConnectivityStatus() Status {
	reply := make(chan Status, 1)
	r.requestCh <- request{getStatus: reply}
	return <-reply
}

// BanPeer records a ban, disconnects any live connection to nodeID,
// and publishes PeerBanned. Fire-and-forget: the manager performs the
// ban asynchronously and there is nothing meaningful to reply with.
func (r Requester) BanPeer(nodeID peer.NodeID, duration time.Duration, reason string) {
	r.requestCh <- request{banPeer: &banPeerReq{nodeID: nodeID, duration: duration, reason: reason}}
}

// Shutdown tears down every pooled connection (silently at the
// transport level, publishing one PeerDisconnected per torn-down
// connection) and stops the manager actor. Blocks until teardown
// completes; the Requester is unusable afterwards.
func (r Requester) Shutdown() {
	done := make(chan struct{})
	r.requestCh <- request{shutdown: done}
	<-done
}

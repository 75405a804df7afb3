// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connectivity

import (
	"time"

	lg "github.com/sirupsen/logrus"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/peer"
	"github.com/tari-go/base-node/pkg/config"
	"github.com/tari-go/base-node/pkg/eventbus"
)

var logMgr = lg.WithFields(lg.Fields{"prefix": "comms.connectivity"})

// PeerManager is the durable collaborator the manager consults for
// bans and the per-peer offline flag. pkg/comms/peerstore.Store
// satisfies this interface; it is kept as an interface here so the
// manager never depends on a storage engine directly.
type PeerManager interface {
	BanPeer(nodeID peer.NodeID, duration time.Duration, reason string) error
	SetOffline(nodeID peer.NodeID, offline bool) (wasOffline bool, err error)
}

// Manager is the single actor owning the fleet-wide ConnectionPool. Use
// Spawn to start it; the returned Requester is the only supported way
// to interact with it afterwards.
type Manager struct {
	config     config.ConnectivityConfig
	ourNodeID  peer.NodeID
	dialer     Dialer
	peerMgr    PeerManager
	events     *eventbus.Bus
	connEvents <-chan connection.ManagerEvent

	status        Status
	degradedN     int // n recorded for the current Degraded status, for re-emit-on-change
	pool          *ConnectionPool
	failureCounts map[peer.NodeID]int
	requestRx     <-chan request
}

// Spawn constructs and starts the connectivity manager actor, returning
// a Requester handle. connEvents is the shared connection-manager event
// channel that peer-connection actors and the dialer both publish on.
func Spawn(
	cfg config.ConnectivityConfig,
	ourNodeID peer.NodeID,
	dialer Dialer,
	peerMgr PeerManager,
	events *eventbus.Bus,
	connEvents <-chan connection.ManagerEvent,
) Requester {
	reqCh := make(chan request, 16)
	m := &Manager{
		config:        cfg,
		ourNodeID:     ourNodeID,
		dialer:        dialer,
		peerMgr:       peerMgr,
		events:        events,
		connEvents:    connEvents,
		status:        StatusInitializing,
		pool:          NewConnectionPool(),
		failureCounts: make(map[peer.NodeID]int),
		requestRx:     reqCh,
	}
	go m.run()
	return Requester{requestCh: reqCh}
}

func (m *Manager) run() {
	logMgr.Infoln("connectivity manager started")

	interval := m.config.ConnectionPoolRefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.publish(Event{Kind: EventStateInitialized})

	for {
		select {
		case req, ok := <-m.requestRx:
			if !ok {
				return
			}
			if m.handleRequest(req) {
				return
			}

		case ev, ok := <-m.connEvents:
			if !ok {
				m.connEvents = nil
				continue
			}
			m.handleConnectionManagerEvent(ev)

		case <-ticker.C:
			m.refreshConnectionPool()
		}
	}
}

// handleRequest services one request and reports whether the actor
// should now terminate (true only for a completed shutdown request).
func (m *Manager) handleRequest(req request) bool {
	switch {
	case req.waitStarted != nil:
		close(req.waitStarted)

	case req.dialPeer != nil:
		nodeID := req.dialPeer.nodeID
		if conn := m.pool.GetConnection(nodeID); conn != nil {
			logMgr.WithFields(lg.Fields{"peer": nodeID.ShortString()}).Debugln("found existing connection")
			if req.dialPeer.reply != nil {
				req.dialPeer.reply <- DialResult{Conn: conn}
			}
			return false
		}
		logMgr.WithFields(lg.Fields{"peer": nodeID.ShortString()}).Debugln("no existing connection, dialing")
		m.dialer.DialPeer(nodeID, req.dialPeer.reply)

	case req.selectConnections != nil:
		req.selectConnections.reply <- req.selectConnections.selection.selectFrom(m.pool)

	case req.getConnection != nil:
		req.getConnection.reply <- m.pool.GetConnection(req.getConnection.nodeID)

	case req.getAllStates != nil:
		states := make([]ConnectionStatus, 0, m.pool.CountEntries())
		for _, s := range m.pool.All() {
			states = append(states, s.status)
		}
		req.getAllStates <- states

	case req.getActiveConns != nil:
		states := m.pool.FilterConnectionStates(func(s *connState) bool { return s.IsConnected() })
		out := make([]*connection.PeerConnection, 0, len(states))
		for _, s := range states {
			out = append(out, s.conn)
		}
		req.getActiveConns <- out

	case req.getStatus != nil:
		req.getStatus <- m.status

	case req.banPeer != nil:
		if err := m.banPeer(req.banPeer.nodeID, req.banPeer.duration, req.banPeer.reason); err != nil {
			logMgr.WithError(err).Errorln("error banning peer")
		}

	case req.shutdown != nil:
		logMgr.Infoln("connectivity manager shutting down")
		m.disconnectAll()
		close(req.shutdown)
		return true
	}
	return false
}

// disconnectAll drains the whole pool, silently disconnecting every
// live connection, then publishes one PeerDisconnected per connection
// that actually tore down.
func (m *Manager) disconnectAll() {
	var nodeIDs []peer.NodeID
	for _, s := range m.pool.FilterDrain(func(ConnectionStatus) bool { return true }) {
		if s.conn == nil {
			continue
		}
		if err := s.conn.DisconnectSilent(); err != nil {
			logMgr.WithError(err).WithFields(lg.Fields{"peer": s.nodeID.ShortString()}).Debugln(
				"error disconnecting peer during shutdown")
			continue
		}
		nodeIDs = append(nodeIDs, s.nodeID)
	}
	for _, id := range nodeIDs {
		m.publish(Event{Kind: EventPeerDisconnected, NodeID: id})
	}
}

func (m *Manager) refreshConnectionPool() {
	logMgr.WithFields(lg.Fields{
		"entries":    m.pool.CountEntries(),
		"connected":  m.pool.CountConnectedNodes(),
		"failed":     m.pool.CountFailed(),
		"disconnect": m.pool.CountDisconnected(),
		"clients":    m.pool.CountConnectedClients(),
	}).Debugln("refreshing connection pool")

	m.pool.FilterDrain(func(s ConnectionStatus) bool { return s == Failed || s == Disconnected })

	if m.config.IsConnectionReapingEnabled {
		minAge := m.config.ReaperMinInactiveAge
		if minAge <= 0 {
			minAge = 30 * time.Second
		}
		for _, s := range m.pool.InactiveConnections(minAge) {
			if s.conn == nil || !s.conn.IsConnected() {
				continue
			}
			logMgr.WithFields(lg.Fields{"peer": s.nodeID.ShortString()}).Debugln("reaping inactive connection")
			_ = s.conn.Disconnect()
		}
	}

	m.updateConnectivityStatus()
}

func (m *Manager) handleConnectionManagerEvent(ev connection.ManagerEvent) {
	if ev.Kind == connection.EventPeerConnected {
		// Cancel any in-flight dial to this peer before resolving the
		// tie break, so a dial that is about to report PeerConnected
		// itself doesn't race the just-established connection.
		m.dialer.CancelDial(ev.Conn.PeerNodeID())
		m.resolveTieBreak(ev.Conn)
	}

	var (
		nodeID    peer.NodeID
		newStatus ConnectionStatus
		newConn   *connection.PeerConnection
	)

	switch ev.Kind {
	case connection.EventPeerDisconnected:
		delete(m.failureCounts, ev.NodeID)
		nodeID, newStatus = ev.NodeID, Disconnected
	case connection.EventPeerConnected:
		nodeID, newStatus, newConn = ev.Conn.PeerNodeID(), Connected, ev.Conn
	case connection.EventDialCancelled:
		logMgr.WithFields(lg.Fields{"peer": ev.NodeID.ShortString()}).Debugln("dial cancelled before connection completed")
		nodeID, newStatus = ev.NodeID, Failed
	case connection.EventPeerConnectFailed:
		logMgr.WithFields(lg.Fields{"peer": ev.NodeID.ShortString()}).WithError(ev.Err).Debugln("connection failed")
		m.handlePeerConnectionFailure(ev.NodeID)
		nodeID, newStatus = ev.NodeID, Failed
	default:
		return
	}

	oldStatus := m.pool.SetStatus(nodeID, newStatus)
	if newConn != nil {
		newStatus = m.pool.InsertConnection(newConn)
	}
	if oldStatus != newStatus {
		logMgr.WithFields(lg.Fields{"peer": nodeID.ShortString(), "from": oldStatus, "to": newStatus}).Debugln("connection state transition")
	}

	switch {
	case newStatus == Connected:
		delete(m.failureCounts, nodeID)
		if conn := m.pool.GetConnection(nodeID); conn != nil {
			m.publish(Event{Kind: EventPeerConnected, NodeID: nodeID, Conn: conn})
		}
	case oldStatus == Connected && newStatus == Disconnected:
		m.publish(Event{Kind: EventPeerDisconnected, NodeID: nodeID})
	case newStatus == Disconnected:
		// was not connected, nothing to announce
	case newStatus == Failed:
		m.publish(Event{Kind: EventPeerConnectFailed, NodeID: nodeID})
	}

	m.updateConnectivityStatus()
}

// resolveTieBreak resolves a duplicate connection against the pool's
// existing entry. It never mutates the pool directly -- it only
// decides, and schedules, which side (if any) to close; the pool
// transition that follows is handled uniformly afterwards.
func (m *Manager) resolveTieBreak(newConn *connection.PeerConnection) {
	existing := m.pool.GetConnection(newConn.PeerNodeID())
	if existing == nil {
		return
	}

	switch {
	case !existing.IsConnected():
		logMgr.WithFields(lg.Fields{"peer": newConn.PeerNodeID().ShortString()}).Debugln(
			"tie break: existing connection was not connected, using new connection")

	case existing.Age() >= staleConnectionAge:
		logMgr.WithFields(lg.Fields{"peer": newConn.PeerNodeID().ShortString()}).Debugln(
			"tie break: existing connection is stale, using new connection")
		m.closeLoser(existing)

	case m.tieBreakCloseExisting(existing, newConn):
		logMgr.WithFields(lg.Fields{"peer": newConn.PeerNodeID().ShortString()}).Debugln(
			"tie break: keep new connection, close existing")
		m.closeLoser(existing)

	default:
		logMgr.WithFields(lg.Fields{"peer": newConn.PeerNodeID().ShortString()}).Debugln(
			"tie break: keep existing connection, close new")
		m.closeLoser(newConn)
	}
}

// tieBreakCloseExisting is the deterministic direction-pair rule: both
// endpoints of the same dial collision evaluate it identically,
// because it only depends on the two directions and the two node ids
// (never on arrival order).
func (m *Manager) tieBreakCloseExisting(existing, newConn *connection.PeerConnection) bool {
	peerNodeID := existing.PeerNodeID()
	switch {
	case existing.Direction() == peer.DirectionInbound && newConn.Direction() == peer.DirectionInbound:
		return true
	case existing.Direction() == peer.DirectionInbound && newConn.Direction() == peer.DirectionOutbound:
		return m.ourNodeID.Less(peerNodeID)
	case existing.Direction() == peer.DirectionOutbound && newConn.Direction() == peer.DirectionInbound:
		return peerNodeID.Less(m.ourNodeID)
	default: // Outbound x Outbound
		return false
	}
}

func (m *Manager) closeLoser(loser *connection.PeerConnection) {
	linger := m.config.ConnectionTieBreakLinger
	nodeID, direction := loser.PeerNodeID(), loser.Direction()
	go func() {
		if linger > 0 {
			time.Sleep(linger)
		}
		_ = loser.DisconnectSilent()
	}()
	m.publish(Event{Kind: EventPeerConnectionWillClose, NodeID: nodeID, Direction: direction})
}

func (m *Manager) handlePeerConnectionFailure(nodeID peer.NodeID) {
	m.failureCounts[nodeID]++
	numFailed := m.failureCounts[nodeID]

	max := m.config.MaxFailuresMarkOffline
	if max <= 0 {
		max = 5
	}
	if numFailed < max {
		return
	}

	wasOffline, err := m.peerMgr.SetOffline(nodeID, true)
	if err != nil {
		logMgr.WithError(err).Errorln("failed to mark peer offline")
		return
	}
	if !wasOffline {
		m.publish(Event{Kind: EventPeerOffline, NodeID: nodeID})
	}
	delete(m.failureCounts, nodeID)
}

func (m *Manager) banPeer(nodeID peer.NodeID, duration time.Duration, reason string) error {
	logMgr.WithFields(lg.Fields{"peer": nodeID.ShortString(), "reason": reason}).Infoln("banning peer")

	if err := m.peerMgr.BanPeer(nodeID, duration, reason); err != nil {
		return err
	}
	m.publish(Event{Kind: EventPeerBanned, NodeID: nodeID, Reason: reason})

	if conn := m.pool.GetConnection(nodeID); conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// updateConnectivityStatus recomputes overall status: with n the
// connected non-client count, c the connected-client count and m
// min_connectivity, the node is Online when n >= m, Degraded when
// 0 < n < m, Offline when both counts are zero, and keeps its previous
// status while only clients remain.
func (m *Manager) updateConnectivityStatus() {
	minPeers := m.config.MinConnectivity
	n := m.pool.CountConnectedNodes()
	c := m.pool.CountConnectedClients()

	switch {
	case n >= minPeers:
		m.transition(StatusOnline, n)
	case n > 0:
		m.transition(StatusDegraded, n)
	case c == 0:
		m.transition(StatusOffline, 0)
	default:
		// n == 0 && c > 0: previous status retained.
	}
}

func (m *Manager) transition(next Status, n int) {
	old := m.status
	switch {
	case old == StatusOnline && next == StatusOnline:
		// already online, no event regardless of n

	case next == StatusOnline:
		m.publish(Event{Kind: EventStateOnline, N: n})

	case old == StatusDegraded && next == StatusDegraded:
		if m.degradedN != n {
			m.publish(Event{Kind: EventStateDegraded, N: n})
		}

	case next == StatusDegraded:
		m.publish(Event{Kind: EventStateDegraded, N: n})

	case old == StatusOffline && next == StatusOffline:
		// already offline, no event

	case next == StatusOffline:
		m.publish(Event{Kind: EventStateOffline})
	}
	m.status = next
	if next == StatusDegraded {
		m.degradedN = n
	}
}

func (m *Manager) publish(event Event) {
	m.events.Publish(Topic, event)
}

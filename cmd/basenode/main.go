// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/yamux"
	lg "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/comms/connectivity"
	"github.com/tari-go/base-node/pkg/comms/peer"
	"github.com/tari-go/base-node/pkg/comms/peerstore"
	"github.com/tari-go/base-node/pkg/comms/rpcpool"
	"github.com/tari-go/base-node/pkg/config"
	"github.com/tari-go/base-node/pkg/core/chainview"
	"github.com/tari-go/base-node/pkg/core/mempool"
	"github.com/tari-go/base-node/pkg/core/txtypes"
	"github.com/tari-go/base-node/pkg/eventbus"
	applog "github.com/tari-go/base-node/pkg/log"
	"github.com/tari-go/base-node/pkg/rpcbus"
	"github.com/tari-go/base-node/pkg/wire/framing"
	"github.com/tari-go/base-node/pkg/wire/negotiate"
)

var (
	configPath    string
	listenAddress string
	peerstorePath string
	logLevel      string
	seedPeers     string

	logMain = applog.WithPrefix("cmd.basenode")

	// protocolMempoolRPC is the one protocol id this entrypoint
	// negotiates substreams for; a real deployment would offer several.
	protocolMempoolRPC = negotiate.ProtocolID("/tari/mempool-rpc/1.0.0")

	ourProtocols = []negotiate.ProtocolID{protocolMempoolRPC}
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to a TOML/YAML/properties configuration file")
	flag.StringVar(&listenAddress, "listen", "0.0.0.0:7777", "address to accept inbound peer connections on")
	flag.StringVar(&peerstorePath, "peerstore", "./data/peerstore", "leveldb path for the peer ban/offline store")
	flag.StringVar(&logLevel, "log-level", "info", "logrus level name")
	flag.StringVar(&seedPeers, "seed-peers", "", "comma-separated node_id_hex@host:port pairs to dial at startup")
}

func main() {
	defer handlePanic()
	flag.Parse()

	if err := applog.Configure(applog.Options{Level: logLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "configure logging:", err)
		os.Exit(1)
	}

	if configPath != "" {
		if err := config.Load(configPath); err != nil {
			logMain.WithError(err).Fatalln("failed to load configuration")
		}
	}
	cfg := config.Get()

	ourNodeID := newRandomNodeID()
	logMain.WithFields(lg.Fields{"node_id": ourNodeID.ShortString(), "listen": listenAddress}).Infoln("starting base node")

	store, err := peerstore.Open(peerstorePath)
	if err != nil {
		logMain.WithError(err).Fatalln("failed to open peer store")
	}
	defer store.Close()

	bus := eventbus.New(64)
	rb := rpcbus.New()

	chain := &stubChainView{}
	validator := &mempool.InputMaturityValidator{MaxBlockWeight: cfg.Mempool.MaxBlockWeight}
	mp := mempool.NewMempool(bus, rb, chain, validator, 0)
	mp.Run()
	defer mp.Quit()

	connEvents := make(chan connection.ManagerEvent, 256)
	dialer := newTCPDialer(connEvents, ourProtocols)

	connMgr := connectivity.Spawn(cfg.Connectivity, ourNodeID, dialer, store, bus, connEvents)
	connMgr.WaitStarted()
	defer connMgr.Shutdown()

	rpcPools := newRPCPoolRegistry(cfg.Connectivity.MaxRPCSessions)
	go watchConnectivityEvents(bus, rpcPools)

	for _, sp := range parseSeedPeers(seedPeers) {
		dialer.addKnownAddress(sp.nodeID, sp.address)
		if _, err := connMgr.DialPeer(sp.nodeID); err != nil {
			logMain.WithError(err).WithFields(lg.Fields{"peer": sp.nodeID.ShortString()}).Warnln("seed dial failed")
		}
	}

	if err := acceptInbound(listenAddress, connEvents); err != nil {
		logMain.WithError(err).Fatalln("inbound listener failed")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintln(os.Stderr, fmt.Errorf("%+v", r), "base node panic")
	}
	time.Sleep(time.Second)
}

func newRandomNodeID() peer.NodeID {
	var b [peer.NodeIDLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		logMain.WithError(err).Fatalln("failed to generate node id")
	}
	return peer.NodeIDFromBytes(b[:])
}

// stubChainView stands in for the blockchain database: every output
// reports unspent-but-unknown and every transaction passes consensus
// validation, so the mempool and RPC surfaces can run end to end
// without a ledger behind them. See pkg/core/chainview's package doc
// for why the real database is out of this repository's scope.
type stubChainView struct {
	height uint64
}

func (c *stubChainView) FetchUTXO(ctx context.Context, commitment txtypes.Commitment) (txtypes.Output, error) {
	return txtypes.Output{}, chainview.ErrNotFound
}

func (c *stubChainView) IsSpent(ctx context.Context, commitment txtypes.Commitment) (bool, error) {
	return false, nil
}

func (c *stubChainView) FetchChainHeight(ctx context.Context) (uint64, error) {
	return atomic.LoadUint64(&c.height), nil
}

func (c *stubChainView) ValidateBlockTransaction(ctx context.Context, tx *txtypes.Transaction, tip uint64) error {
	return nil
}

// tcpDialer is the lower-level connection manager connectivity.Manager
// forwards dials to: a plain TCP transport keyed by an address book
// populated from -seed-peers, wrapped in a yamux session per dial.
type tcpDialer struct {
	mu        sync.Mutex
	addresses map[peer.NodeID]string
	cancels   map[peer.NodeID]context.CancelFunc

	events    chan<- connection.ManagerEvent
	protocols []negotiate.ProtocolID
}

func newTCPDialer(events chan<- connection.ManagerEvent, protocols []negotiate.ProtocolID) *tcpDialer {
	return &tcpDialer{
		addresses: make(map[peer.NodeID]string),
		cancels:   make(map[peer.NodeID]context.CancelFunc),
		events:    events,
		protocols: protocols,
	}
}

func (d *tcpDialer) addKnownAddress(nodeID peer.NodeID, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[nodeID] = address
}

// DialPeer implements connectivity.Dialer.
func (d *tcpDialer) DialPeer(nodeID peer.NodeID, reply chan<- connectivity.DialResult) {
	d.mu.Lock()
	address, ok := d.addresses[nodeID]
	if !ok {
		d.mu.Unlock()
		err := fmt.Errorf("dial %s: no known address", nodeID.ShortString())
		if reply != nil {
			reply <- connectivity.DialResult{Err: err}
		}
		d.events <- connection.ManagerEvent{Kind: connection.EventPeerConnectFailed, NodeID: nodeID, Err: err}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancels[nodeID] = cancel
	d.mu.Unlock()

	go d.dial(ctx, nodeID, address, reply)
}

func (d *tcpDialer) dial(ctx context.Context, nodeID peer.NodeID, address string, reply chan<- connectivity.DialResult) {
	defer d.clearCancel(nodeID)

	netDialer := net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := netDialer.DialContext(ctx, "tcp", address)
	if err != nil {
		d.reportDialOutcome(ctx, nodeID, nil, err, reply)
		return
	}

	session, err := yamux.Client(rawConn, nil)
	if err != nil {
		_ = rawConn.Close()
		d.reportDialOutcome(ctx, nodeID, nil, err, reply)
		return
	}

	if ctx.Err() != nil {
		_ = session.Close()
		d.reportDialOutcome(ctx, nodeID, nil, ctx.Err(), reply)
		return
	}

	pc := connection.Create(session, address, nodeID, peer.FeatureCommunicationNode, peer.DirectionOutbound, d.events, d.protocols, nil)
	d.events <- connection.ManagerEvent{Kind: connection.EventPeerConnected, Conn: pc}
	if reply != nil {
		reply <- connectivity.DialResult{Conn: pc}
	}
}

func (d *tcpDialer) reportDialOutcome(ctx context.Context, nodeID peer.NodeID, conn *connection.PeerConnection, err error, reply chan<- connectivity.DialResult) {
	kind := connection.EventPeerConnectFailed
	if ctx.Err() != nil {
		kind = connection.EventDialCancelled
	}
	d.events <- connection.ManagerEvent{Kind: kind, NodeID: nodeID, Err: err}
	if reply != nil {
		reply <- connectivity.DialResult{Conn: conn, Err: err}
	}
}

func (d *tcpDialer) clearCancel(nodeID peer.NodeID) {
	d.mu.Lock()
	delete(d.cancels, nodeID)
	d.mu.Unlock()
}

// CancelDial implements connectivity.Dialer.
func (d *tcpDialer) CancelDial(nodeID peer.NodeID) {
	d.mu.Lock()
	cancel, ok := d.cancels[nodeID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func acceptInbound(address string, events chan<- connection.ManagerEvent) error {
	// SO_REUSEADDR lets a restarted node rebind its listen port while
	// connections from the previous run linger in TIME_WAIT.
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return err
	}
	defer ln.Close()
	logMain.WithFields(lg.Fields{"address": address}).Infoln("listening for inbound peer connections")

	for {
		rawConn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handleInbound(rawConn, events)
	}
}

func handleInbound(rawConn net.Conn, events chan<- connection.ManagerEvent) {
	session, err := yamux.Server(rawConn, nil)
	if err != nil {
		logMain.WithError(err).Warnln("failed to establish inbound session")
		_ = rawConn.Close()
		return
	}

	// The peer's persistent node id is only known once an identity
	// handshake completes; that protocol is out of this repository's
	// scope, so the connection is keyed by a freshly assigned id until
	// then, the same provisional bookkeeping a real handshake would
	// replace once negotiated.
	nodeID := newRandomNodeID()
	pc := connection.Create(session, rawConn.RemoteAddr().String(), nodeID, peer.FeatureCommunicationNode, peer.DirectionInbound, events, ourProtocols, nil)
	events <- connection.ManagerEvent{Kind: connection.EventPeerConnected, Conn: pc}
}

type seedPeer struct {
	nodeID  peer.NodeID
	address string
}

func parseSeedPeers(raw string) []seedPeer {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []seedPeer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		parts := strings.SplitN(entry, "@", 2)
		if len(parts) != 2 {
			logMain.WithFields(lg.Fields{"entry": entry}).Warnln("ignoring malformed seed peer")
			continue
		}
		idBytes, err := hex.DecodeString(parts[0])
		if err != nil {
			logMain.WithError(err).WithFields(lg.Fields{"entry": entry}).Warnln("ignoring seed peer with invalid node id")
			continue
		}
		out = append(out, seedPeer{nodeID: peer.NodeIDFromBytes(idBytes), address: parts[1]})
	}
	return out
}

// rpcSession wraps an outbound framed substream as an rpcpool.Session,
// tracking in-flight calls so the pool can prefer the least loaded one.
type rpcSession struct {
	stream   *yamux.Stream
	framed   *framing.Framed
	inFlight int32
	closed   int32
}

func newRPCSession(conn *connection.PeerConnection, protocol negotiate.ProtocolID) (rpcpool.Session, error) {
	sub, err := conn.OpenSubstream(protocol)
	if err != nil {
		return nil, err
	}
	return &rpcSession{stream: sub.Stream, framed: framing.New(sub.Stream, false)}, nil
}

func (s *rpcSession) InFlight() int { return int(atomic.LoadInt32(&s.inFlight)) }

func (s *rpcSession) IsClosed() bool { return atomic.LoadInt32(&s.closed) == 1 }

func (s *rpcSession) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return s.stream.Close()
}

// Call sends req and waits for the framed response, bracketing it with
// the in-flight counter rpcpool.Pool.Acquire load-balances on. The
// configured rpc_request_timeout bounds the whole round trip.
func (s *rpcSession) Call(req []byte) ([]byte, error) {
	atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)

	if timeout := config.Get().Connectivity.RPCRequestTimeout; timeout > 0 {
		_ = s.stream.SetDeadline(time.Now().Add(timeout))
		defer s.stream.SetDeadline(time.Time{})
	}

	if err := s.framed.WriteFrame(req); err != nil {
		return nil, err
	}
	return s.framed.ReadFrame()
}

// rpcPoolRegistry holds one rpcpool.Pool per currently connected peer,
// torn down again once the peer disconnects.
type rpcPoolRegistry struct {
	mu          sync.Mutex
	maxSessions int
	pools       map[peer.NodeID]*rpcpool.Pool
}

func newRPCPoolRegistry(maxSessions int) *rpcPoolRegistry {
	return &rpcPoolRegistry{maxSessions: maxSessions, pools: make(map[peer.NodeID]*rpcpool.Pool)}
}

func (r *rpcPoolRegistry) onConnected(conn *connection.PeerConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[conn.PeerNodeID()] = rpcpool.New(conn, protocolMempoolRPC, r.maxSessions, newRPCSession)
}

func (r *rpcPoolRegistry) onDisconnected(nodeID peer.NodeID) {
	r.mu.Lock()
	pool, ok := r.pools[nodeID]
	delete(r.pools, nodeID)
	r.mu.Unlock()
	if ok {
		_ = pool.Close()
	}
}

// watchConnectivityEvents keeps the rpc pool registry in step with the
// connectivity manager's broadcast stream and logs every event.
func watchConnectivityEvents(bus *eventbus.Bus, pools *rpcPoolRegistry) {
	sub := bus.Subscribe(connectivity.Topic)
	for raw := range sub.C {
		ev, ok := raw.(connectivity.Event)
		if !ok {
			continue
		}
		logMain.WithFields(lg.Fields{"kind": ev.Kind, "peer": ev.NodeID.ShortString()}).Infoln("connectivity event")

		switch ev.Kind {
		case connectivity.EventPeerConnected:
			pools.onConnected(ev.Conn)
		case connectivity.EventPeerDisconnected:
			pools.onDisconnected(ev.NodeID)
		}
	}
}

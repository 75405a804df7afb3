// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package connection owns the peer-connection actor: one goroutine per
// live multiplexed session that multiplexes handle requests (open
// substream, disconnect) against inbound substreams arriving over a
// yamux session, performing multistream-style protocol negotiation on
// each.
package connection

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
	lg "github.com/sirupsen/logrus"

	"github.com/tari-go/base-node/pkg/comms/peer"
	"github.com/tari-go/base-node/pkg/wire/framing"
	"github.com/tari-go/base-node/pkg/wire/negotiate"
)

var logConn = lg.WithFields(lg.Fields{"prefix": "comms.connection"})

// NegotiationTimeout bounds how long a single protocol negotiation (in
// either direction) may take before the substream is abandoned.
const NegotiationTimeout = 10 * time.Second

var idCounter uint64

// ID uniquely (monotonically) identifies a PeerConnection within this
// process's lifetime.
type ID uint64

func nextID() ID {
	return ID(atomic.AddUint64(&idCounter, 1))
}

// NegotiatedSubstream pairs a freshly opened substream with the
// protocol id the two sides agreed on.
type NegotiatedSubstream struct {
	Protocol negotiate.ProtocolID
	Stream   *yamux.Stream
}

// request is the sum type of messages a PeerConnection handle can send
// to its actor. All requests are request/response, so the channel
// capacity of 1 used in Create is sufficient.
type request struct {
	openSubstream *openSubstreamReq
	disconnect    *disconnectReq
}

type openSubstreamReq struct {
	protocol negotiate.ProtocolID
	reply    chan<- openSubstreamResult
}

type openSubstreamResult struct {
	substream NegotiatedSubstream
	err       error
}

type disconnectReq struct {
	silent bool
	reply  chan<- error
}

// PeerConnection is a cheap, cloneable handle to a live peer
// connection. Many handles may share one underlying actor; the actor
// alone owns the transport. Handles never own the actor and the actor
// never holds handles -- requests flow one way, down the channel.
type PeerConnection struct {
	id           ID
	nodeID       peer.NodeID
	features     peer.Features
	address      string
	direction    peer.Direction
	startedAt    time.Time
	requestCh    chan<- request
	closedCh     <-chan struct{} // closed by the actor when it exits
	substreamCnt *int32          // shared with the actor; incremented per open substream
	handleCnt    *int32          // shared across clones of this handle
}

// Handle returns a new clone of the connection's handle, incrementing
// the shared handle-count accessor.
func (c *PeerConnection) Handle() *PeerConnection {
	atomic.AddInt32(c.handleCnt, 1)
	clone := *c
	return &clone
}

// ID returns the connection's identifier.
func (c *PeerConnection) ID() ID { return c.id }

// PeerNodeID returns the remote peer's node id.
func (c *PeerConnection) PeerNodeID() peer.NodeID { return c.nodeID }

// PeerFeatures returns the remote peer's advertised feature set.
func (c *PeerConnection) PeerFeatures() peer.Features { return c.features }

// Direction reports whether this connection was dialled or accepted.
func (c *PeerConnection) Direction() peer.Direction { return c.direction }

// Address returns the remote peer's network address as dialled or
// accepted.
func (c *PeerConnection) Address() string { return c.address }

// Age reports how long this connection has been open.
func (c *PeerConnection) Age() time.Duration { return time.Since(c.startedAt) }

// SubstreamCount reports the number of substreams currently open on
// this connection.
func (c *PeerConnection) SubstreamCount() int { return int(atomic.LoadInt32(c.substreamCnt)) }

// HandleCount reports how many live clones of this handle exist.
func (c *PeerConnection) HandleCount() int { return int(atomic.LoadInt32(c.handleCnt)) }

// IsConnected reports whether the actor is still alive to service
// requests.
func (c *PeerConnection) IsConnected() bool {
	select {
	case <-c.closedCh:
		return false
	default:
		return true
	}
}

// OpenSubstream opens an outbound substream and negotiates protocol.
func (c *PeerConnection) OpenSubstream(protocol negotiate.ProtocolID) (NegotiatedSubstream, error) {
	reply := make(chan openSubstreamResult, 1)
	select {
	case c.requestCh <- request{openSubstream: &openSubstreamReq{protocol: protocol, reply: reply}}:
	case <-c.closedCh:
		return NegotiatedSubstream{}, ErrActorShutdown
	}
	select {
	case res := <-reply:
		return res.substream, res.err
	case <-c.closedCh:
		return NegotiatedSubstream{}, ErrInternalReplyCancelled
	}
}

// OpenFramedSubstream opens an outbound substream, negotiates protocol,
// and wraps the result in length-delimited framing.
func (c *PeerConnection) OpenFramedSubstream(protocol negotiate.ProtocolID, maxFrameSize int) (*framing.Framed, error) {
	sub, err := c.OpenSubstream(protocol)
	if err != nil {
		return nil, err
	}
	return framing.New(sub.Stream, false), nil
}

// Disconnect requests a graceful teardown and publishes
// PeerDisconnected.
func (c *PeerConnection) Disconnect() error {
	return c.disconnect(false)
}

// DisconnectSilent requests a graceful teardown without publishing
// PeerDisconnected -- used when the caller (e.g. a delayed tie-break
// close) already accounts for the event itself.
func (c *PeerConnection) DisconnectSilent() error {
	return c.disconnect(true)
}

func (c *PeerConnection) disconnect(silent bool) error {
	reply := make(chan error, 1)
	select {
	case c.requestCh <- request{disconnect: &disconnectReq{silent: silent, reply: reply}}:
	case <-c.closedCh:
		return ErrActorShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-c.closedCh:
		return ErrInternalReplyCancelled
	}
}

func (c *PeerConnection) String() string {
	return fmt.Sprintf("Id: %d, Node ID: %s, Direction: %s, Address: %s, Age: %s, #Substreams: %d, #Refs: %d",
		c.id, c.nodeID.ShortString(), c.direction, c.address, c.Age().Round(time.Millisecond),
		c.SubstreamCount(), c.HandleCount())
}

// actor owns the multiplexed session and is the sole goroutine that
// ever touches it. It is never exposed outside this package.
type actor struct {
	id                    ID
	nodeID                peer.NodeID
	direction             peer.Direction
	session               *yamux.Session
	requestRx             <-chan request
	closedCh              chan struct{}
	eventNotifier         chan<- ManagerEvent
	ourSupportedProtocols []negotiate.ProtocolID
	theirKnownProtocols   []negotiate.ProtocolID
	substreamCnt          *int32
}

// Create spawns a new peer-connection actor over session and returns a
// cloneable handle to it. our_supported_protocols is consulted when
// negotiating inbound substreams; their_known_protocols lets
// OpenSubstream use the cheaper optimistic (non-offer-list) negotiation
// when the peer is already known to support the requested protocol.
func Create(
	session *yamux.Session,
	address string,
	nodeID peer.NodeID,
	features peer.Features,
	direction peer.Direction,
	eventNotifier chan<- ManagerEvent,
	ourSupportedProtocols []negotiate.ProtocolID,
	theirKnownProtocols []negotiate.ProtocolID,
) *PeerConnection {
	reqCh := make(chan request, 1)
	closedCh := make(chan struct{})
	substreamCnt := new(int32)
	handleCnt := new(int32)
	*handleCnt = 1

	id := nextID()
	conn := &PeerConnection{
		id:           id,
		nodeID:       nodeID,
		features:     features,
		address:      address,
		direction:    direction,
		startedAt:    time.Now(),
		requestCh:    reqCh,
		closedCh:     closedCh,
		substreamCnt: substreamCnt,
		handleCnt:    handleCnt,
	}

	a := &actor{
		id:                    id,
		nodeID:                nodeID,
		direction:             direction,
		session:               session,
		requestRx:             reqCh,
		closedCh:              closedCh,
		eventNotifier:         eventNotifier,
		ourSupportedProtocols: ourSupportedProtocols,
		theirKnownProtocols:   theirKnownProtocols,
		substreamCnt:          substreamCnt,
	}
	go a.run()

	return conn
}

func (a *actor) run() {
	defer close(a.closedCh)
	log := logConn.WithFields(lg.Fields{"peer": a.nodeID.ShortString(), "direction": a.direction})
	inbound := make(chan *yamux.Stream)
	inboundDone := make(chan struct{})
	go func() {
		defer close(inbound)
		for {
			s, err := a.session.AcceptStream()
			if err != nil {
				return
			}
			select {
			case inbound <- s:
			case <-inboundDone:
				_ = s.Close()
				return
			}
		}
	}()

	for {
		select {
		case req, ok := <-a.requestRx:
			if !ok {
				log.Debugln("all peer connection handles dropped, closing the connection")
				close(inboundDone)
				a.disconnect(false)
				return
			}
			if a.handleRequest(req) {
				close(inboundDone)
				return
			}

		case stream, ok := <-inbound:
			if !ok {
				log.Debugln("peer closed the connection")
				a.disconnect(false)
				return
			}
			a.handleIncomingSubstream(stream)
		}
	}
}

// handleRequest services one request and reports whether the actor
// should now terminate (true only for a completed disconnect request).
func (a *actor) handleRequest(req request) bool {
	switch {
	case req.openSubstream != nil:
		sub, err := a.openNegotiatedProtocolStream(req.openSubstream.protocol)
		req.openSubstream.reply <- openSubstreamResult{substream: sub, err: err}
		return false
	case req.disconnect != nil:
		err := a.disconnect(req.disconnect.silent)
		req.disconnect.reply <- err
		return true
	}
	return false
}

// handleIncomingSubstream negotiates off the actor loop so a peer that
// opens a substream and then goes quiet cannot stall request handling.
// Negotiation failures are logged and drop the substream only -- they
// are never fatal to the actor.
func (a *actor) handleIncomingSubstream(stream *yamux.Stream) {
	atomic.AddInt32(a.substreamCnt, 1)
	go func() {
		type negResult struct {
			protocol negotiate.ProtocolID
			err      error
		}
		done := make(chan negResult, 1)
		go func() {
			p, err := negotiate.NegotiateInbound(stream, a.ourSupportedProtocols)
			done <- negResult{p, err}
		}()

		log := logConn.WithFields(lg.Fields{"peer": a.nodeID.ShortString()})
		select {
		case res := <-done:
			if res.err != nil {
				atomic.AddInt32(a.substreamCnt, -1)
				_ = stream.Close()
				log.WithError(res.err).Errorln("incoming substream failed to negotiate")
				return
			}
			a.notify(ManagerEvent{
				Kind:     EventNewInboundSubstream,
				NodeID:   a.nodeID,
				Protocol: res.protocol,
				Stream:   stream,
			})
		case <-time.After(NegotiationTimeout):
			atomic.AddInt32(a.substreamCnt, -1)
			_ = stream.Close()
			log.Errorln("incoming substream negotiation timed out")
		}
	}()
}

func (a *actor) openNegotiatedProtocolStream(protocol negotiate.ProtocolID) (NegotiatedSubstream, error) {
	stream, err := a.session.OpenStream()
	if err != nil {
		return NegotiatedSubstream{}, err
	}
	atomic.AddInt32(a.substreamCnt, 1)

	type negResult struct {
		protocol negotiate.ProtocolID
		err      error
	}
	done := make(chan negResult, 1)
	go func() {
		if containsProtocol(a.theirKnownProtocols, protocol) {
			p, err := negotiate.NegotiateOutboundOptimistic(stream, protocol)
			done <- negResult{p, err}
			return
		}
		p, err := negotiate.NegotiateOutbound(stream, []negotiate.ProtocolID{protocol})
		done <- negResult{p, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			atomic.AddInt32(a.substreamCnt, -1)
			_ = stream.Close()
			if errors.Is(res.err, negotiate.ErrNoProtocolAccepted) {
				return NegotiatedSubstream{}, ErrProtocolNotSupported
			}
			return NegotiatedSubstream{}, res.err
		}
		return NegotiatedSubstream{Protocol: res.protocol, Stream: stream}, nil
	case <-time.After(NegotiationTimeout):
		atomic.AddInt32(a.substreamCnt, -1)
		_ = stream.Close()
		return NegotiatedSubstream{}, ErrNegotiationTimeout
	}
}

// disconnect closes the session. When silent is false it first
// publishes PeerDisconnected -- the actor's one chance to announce its
// own exit, since by definition nothing will call it again afterwards.
func (a *actor) disconnect(silent bool) error {
	if !silent {
		a.notify(ManagerEvent{Kind: EventPeerDisconnected, NodeID: a.nodeID})
	}
	return a.session.Close()
}

func (a *actor) notify(event ManagerEvent) {
	select {
	case a.eventNotifier <- event:
	default:
		logConn.WithFields(lg.Fields{"peer": a.nodeID.ShortString()}).Warnln("event notifier full, dropping event", event.Kind)
	}
}

func containsProtocol(known []negotiate.ProtocolID, target negotiate.ProtocolID) bool {
	for _, p := range known {
		if string(p) == string(target) {
			return true
		}
	}
	return false
}

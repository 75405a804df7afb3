// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package rpcpool is a thin RPC client pool: up to max_sessions
// lazily-created sessions sharing one peer connection, handing out
// whichever is least loaded.
package rpcpool

import (
	"errors"
	"sync"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/wire/negotiate"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("rpcpool: pool is closed")

// Session is one client session negotiated over its own substream. A
// session tracks how many calls are currently in flight so the pool
// can pick the least-loaded one, and reports whether its substream has
// since closed so the pool knows to replace it.
type Session interface {
	InFlight() int
	IsClosed() bool
	Close() error
}

// SessionFactory opens a new substream for protocol on conn and wraps
// it as a Session.
type SessionFactory func(conn *connection.PeerConnection, protocol negotiate.ProtocolID) (Session, error)

// Pool maintains up to maxSessions lazily-created sessions over a
// single peer connection.
type Pool struct {
	mu          sync.Mutex
	conn        *connection.PeerConnection
	protocol    negotiate.ProtocolID
	maxSessions int
	factory     SessionFactory
	sessions    []Session
	closed      bool
}

// New constructs a pool bound to conn. No sessions are created until
// the first Acquire.
func New(conn *connection.PeerConnection, protocol negotiate.ProtocolID, maxSessions int, factory SessionFactory) *Pool {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Pool{conn: conn, protocol: protocol, maxSessions: maxSessions, factory: factory}
}

// Acquire first drops closed sessions. While the pool then holds fewer
// than maxSessions sessions it creates and returns a new one; once at
// the cap it returns the live session with the fewest in-flight calls.
func (p *Pool) Acquire() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	p.dropClosedLocked()

	if len(p.sessions) < p.maxSessions {
		s, err := p.factory(p.conn, p.protocol)
		if err != nil {
			return nil, err
		}
		p.sessions = append(p.sessions, s)
		return s, nil
	}

	return p.leastLoadedLocked(), nil
}

func (p *Pool) dropClosedLocked() {
	live := p.sessions[:0]
	for _, s := range p.sessions {
		if !s.IsClosed() {
			live = append(live, s)
		}
	}
	p.sessions = live
}

func (p *Pool) leastLoadedLocked() Session {
	var best Session
	bestLoad := -1
	for _, s := range p.sessions {
		if s.IsClosed() {
			continue
		}
		load := s.InFlight()
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = s, load
		}
	}
	return best
}

// Len reports the current number of live sessions, mainly for tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close closes every session and marks the pool unusable.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var firstErr error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.sessions = nil
	return firstErr
}

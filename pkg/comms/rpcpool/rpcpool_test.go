// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package rpcpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tari-go/base-node/pkg/comms/connection"
	"github.com/tari-go/base-node/pkg/wire/negotiate"
)

type fakeSession struct {
	inFlight int
	closed   bool
}

func (s *fakeSession) InFlight() int  { return s.inFlight }
func (s *fakeSession) IsClosed() bool { return s.closed }
func (s *fakeSession) Close() error   { s.closed = true; return nil }

func fakeFactory(sessions *[]*fakeSession) SessionFactory {
	return func(_ *connection.PeerConnection, _ negotiate.ProtocolID) (Session, error) {
		s := &fakeSession{}
		*sessions = append(*sessions, s)
		return s, nil
	}
}

func TestAcquireCreatesSessionsLazilyUpToCap(t *testing.T) {
	r := require.New(t)
	var created []*fakeSession
	p := New(nil, negotiate.ProtocolID("proto"), 2, fakeFactory(&created))

	r.Equal(0, p.Len())

	_, err := p.Acquire()
	r.NoError(err)
	r.Equal(1, p.Len())

	_, err = p.Acquire()
	r.NoError(err)
	r.Equal(2, p.Len())

	// at cap: a third Acquire must reuse an existing session, not create
	// a new one.
	_, err = p.Acquire()
	r.NoError(err)
	r.Equal(2, p.Len())
	r.Len(created, 2)
}

func TestAcquireReturnsLeastLoadedSession(t *testing.T) {
	r := require.New(t)
	var created []*fakeSession
	p := New(nil, negotiate.ProtocolID("proto"), 2, fakeFactory(&created))

	_, _ = p.Acquire()
	_, _ = p.Acquire()
	created[0].inFlight = 5
	created[1].inFlight = 1

	got, err := p.Acquire()
	r.NoError(err)
	r.Same(created[1], got)
}

func TestAcquireReplacesClosedSession(t *testing.T) {
	r := require.New(t)
	var created []*fakeSession
	p := New(nil, negotiate.ProtocolID("proto"), 1, fakeFactory(&created))

	_, _ = p.Acquire()
	created[0].closed = true

	_, err := p.Acquire()
	r.NoError(err)
	r.Equal(1, p.Len())
	r.Len(created, 2)
}

func TestAcquireAfterCloseFails(t *testing.T) {
	r := require.New(t)
	var created []*fakeSession
	p := New(nil, negotiate.ProtocolID("proto"), 1, fakeFactory(&created))

	_, _ = p.Acquire()
	r.NoError(p.Close())
	r.True(created[0].closed)

	_, err := p.Acquire()
	r.ErrorIs(err, ErrPoolClosed)
}

func TestNewClampsNonPositiveMaxSessionsToOne(t *testing.T) {
	r := require.New(t)
	var created []*fakeSession
	p := New(nil, negotiate.ProtocolID("proto"), 0, fakeFactory(&created))

	_, _ = p.Acquire()
	_, _ = p.Acquire()
	r.Equal(1, p.Len())
}

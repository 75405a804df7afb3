// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package peerstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tari-go/base-node/pkg/comms/peer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "peerstore"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBanPeerMarksBannedUntilExpiry(t *testing.T) {
	r := require.New(t)
	s := openTestStore(t)
	nodeID := peer.NodeIDFromBytes([]byte{1, 2, 3})

	banned, err := s.IsBanned(nodeID)
	r.NoError(err)
	r.False(banned)

	r.NoError(s.BanPeer(nodeID, time.Hour, "misbehaving"))

	banned, err = s.IsBanned(nodeID)
	r.NoError(err)
	r.True(banned)
}

func TestBanPeerExpires(t *testing.T) {
	r := require.New(t)
	s := openTestStore(t)
	nodeID := peer.NodeIDFromBytes([]byte{4, 5, 6})

	r.NoError(s.BanPeer(nodeID, -time.Hour, "expired ban"))

	banned, err := s.IsBanned(nodeID)
	r.NoError(err)
	r.False(banned)
}

func TestSetOfflineReportsPreviousValue(t *testing.T) {
	r := require.New(t)
	s := openTestStore(t)
	nodeID := peer.NodeIDFromBytes([]byte{7, 8, 9})

	wasOffline, err := s.SetOffline(nodeID, true)
	r.NoError(err)
	r.False(wasOffline)

	offline, err := s.IsOffline(nodeID)
	r.NoError(err)
	r.True(offline)

	wasOffline, err = s.SetOffline(nodeID, true)
	r.NoError(err)
	r.True(wasOffline)

	wasOffline, err = s.SetOffline(nodeID, false)
	r.NoError(err)
	r.True(wasOffline)

	offline, err = s.IsOffline(nodeID)
	r.NoError(err)
	r.False(offline)
}

func TestIsOfflineDefaultsFalseForUnknownPeer(t *testing.T) {
	r := require.New(t)
	s := openTestStore(t)
	offline, err := s.IsOffline(peer.NodeIDFromBytes([]byte{9, 9, 9}))
	r.NoError(err)
	r.False(offline)
}

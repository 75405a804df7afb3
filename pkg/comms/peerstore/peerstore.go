// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package peerstore is the peer manager's persistence: durable storage
// of a peer's ban state and online/offline flag, so bans survive a
// node restart.
package peerstore

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tari-go/base-node/pkg/comms/peer"
)

const (
	banPrefix     = "ban:"
	offlinePrefix = "offline:"
)

// Store persists ban expiries and offline flags. All mutations are
// serialised by mu; callers never need their own locking around a ban
// or an offline-flag transition.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "peerstore: open %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BanPeer marks nodeID banned until now+duration, overwriting any
// earlier ban.
func (s *Store) BanPeer(nodeID peer.NodeID, duration time.Duration, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry := time.Now().Add(duration).Unix()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(expiry))
	if err := s.db.Put(banKey(nodeID), buf[:], nil); err != nil {
		return errors.Wrap(err, "peerstore: record ban expiry")
	}
	return errors.Wrap(s.db.Put(banReasonKey(nodeID), []byte(reason), nil), "peerstore: record ban reason")
}

// IsBanned reports whether nodeID is currently within an active ban
// window.
func (s *Store) IsBanned(nodeID peer.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.db.Get(banKey(nodeID), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "peerstore: read ban expiry")
	}
	expiry := int64(binary.BigEndian.Uint64(val))
	return time.Now().Unix() < expiry, nil
}

// SetOffline records nodeID's online/offline flag and reports the
// flag's previous value, so the caller can detect an online->offline
// transition and publish PeerOffline exactly once.
func (s *Store) SetOffline(nodeID peer.NodeID, offline bool) (wasOffline bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.db.Get(offlineKey(nodeID), nil)
	switch err {
	case nil:
		wasOffline = len(val) > 0 && val[0] == 1
	case leveldb.ErrNotFound:
		wasOffline = false
	default:
		return false, errors.Wrap(err, "peerstore: read offline flag")
	}

	flag := byte(0)
	if offline {
		flag = 1
	}
	if putErr := s.db.Put(offlineKey(nodeID), []byte{flag}, nil); putErr != nil {
		return wasOffline, errors.Wrap(putErr, "peerstore: record offline flag")
	}
	return wasOffline, nil
}

// IsOffline reports nodeID's persisted offline flag.
func (s *Store) IsOffline(nodeID peer.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.db.Get(offlineKey(nodeID), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "peerstore: read offline flag")
	}
	return len(val) > 0 && val[0] == 1, nil
}

func banKey(nodeID peer.NodeID) []byte {
	return append([]byte(banPrefix), nodeID[:]...)
}

func banReasonKey(nodeID peer.NodeID) []byte {
	return append([]byte("ban_reason:"), nodeID[:]...)
}

func offlineKey(nodeID peer.NodeID) []byte {
	return append([]byte(offlinePrefix), nodeID[:]...)
}

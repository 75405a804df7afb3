// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package negotiate implements the multistream-style protocol
// negotiation run on every freshly opened substream: length-prefixed,
// null-terminated protocol-id strings, with the listening side replying
// either the accepted protocol id or a rejection token.
package negotiate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ProtocolID is an opaque protocol identifier, never interpreted beyond
// byte-equality.
type ProtocolID []byte

// rejectionToken is the reply a listener sends for a protocol it does
// not support, following the multistream-select "na" convention.
var rejectionToken = ProtocolID("na")

// ErrNoProtocolAccepted is returned when every offered protocol was
// rejected by the remote side.
var ErrNoProtocolAccepted = errors.New("negotiate: no offered protocol was accepted")

// ErrProtocolTooLong guards the length prefix against a corrupt or
// hostile peer.
var ErrProtocolTooLong = errors.New("negotiate: protocol id exceeds maximum length")

const maxProtocolLen = 1 << 12

func writeProtocol(w io.Writer, id ProtocolID) error {
	if len(id) > maxProtocolLen {
		return ErrProtocolTooLong
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(id)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(id); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func readProtocol(r io.Reader) (ProtocolID, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 || int(n) > maxProtocolLen {
		return nil, ErrProtocolTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	// buf[n-1] is the null terminator.
	return ProtocolID(buf[:n-1]), nil
}

// NegotiateOutboundOptimistic writes protocol without waiting for an
// acknowledgement, for use only when the caller already knows (from a
// prior handshake) that the remote side supports it.
func NegotiateOutboundOptimistic(stream io.Writer, protocol ProtocolID) (ProtocolID, error) {
	if err := writeProtocol(stream, protocol); err != nil {
		return nil, err
	}
	return protocol, nil
}

// NegotiateOutbound offers each protocol in offered, in order, until the
// remote side accepts one or every offer is rejected.
func NegotiateOutbound(stream io.ReadWriter, offered []ProtocolID) (ProtocolID, error) {
	for _, p := range offered {
		if err := writeProtocol(stream, p); err != nil {
			return nil, err
		}
		reply, err := readProtocol(stream)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(reply, rejectionToken) {
			continue
		}
		return reply, nil
	}
	return nil, ErrNoProtocolAccepted
}

// NegotiateInbound reads proposed protocol ids until one is in
// supported, replies with it, and returns it. Unsupported proposals are
// answered with the rejection token and the loop continues.
func NegotiateInbound(stream io.ReadWriter, supported []ProtocolID) (ProtocolID, error) {
	for {
		proposed, err := readProtocol(stream)
		if err != nil {
			return nil, err
		}
		if supportsProtocol(supported, proposed) {
			if err := writeProtocol(stream, proposed); err != nil {
				return nil, err
			}
			return proposed, nil
		}
		if err := writeProtocol(stream, rejectionToken); err != nil {
			return nil, err
		}
	}
}

func supportsProtocol(supported []ProtocolID, id ProtocolID) bool {
	for _, p := range supported {
		if bytes.Equal(p, id) {
			return true
		}
	}
	return false
}

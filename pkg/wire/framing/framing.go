// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package framing turns a raw byte stream (a negotiated substream) into
// a sequence of discrete messages: a big-endian uint32 length prefix
// followed by that many payload bytes, optionally snappy-compressed.
package framing

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// MaxFrameLength bounds a single frame so a misbehaving or malicious
// peer cannot force unbounded buffering.
const MaxFrameLength = 4 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned by ReadFrame when the advertised
	// length exceeds MaxFrameLength.
	ErrFrameTooLarge = errors.New("framing: frame exceeds maximum length")
	// ErrEmptyFrame is returned by WriteFrame for a nil/empty payload,
	// which the wire format has no way to distinguish from absence.
	ErrEmptyFrame = errors.New("framing: cannot write an empty frame")
)

// Framed wraps a raw stream with length-delimited message framing and
// optional snappy compression of each frame's payload.
type Framed struct {
	rw       io.ReadWriter
	compress bool
}

// New wraps rw for length-delimited read/write. When compress is true,
// every frame's payload is snappy-compressed on write and decompressed
// on read.
func New(rw io.ReadWriter, compress bool) *Framed {
	return &Framed{rw: rw, compress: compress}
}

// WriteFrame writes one length-prefixed message.
func (f *Framed) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	out := payload
	if f.compress {
		out = snappy.Encode(nil, payload)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(out)))
	if _, err := f.rw.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := f.rw.Write(out)
	return err
}

// ReadFrame reads one length-prefixed message.
func (f *Framed) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.rw, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		return nil, err
	}
	if !f.compress {
		return buf, nil
	}
	return snappy.Decode(nil, buf)
}

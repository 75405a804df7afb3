// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

import (
	"encoding/hex"
	"math/big"

	"github.com/bwesterb/go-ristretto"
)

// ExcessSignature is the Schnorr-style signature over a kernel's excess
// commitment: the unique, chain-wide identifier of a transaction
// kernel, and therefore the mempool's primary key.
type ExcessSignature struct {
	nonce ristretto.Point
	s     ristretto.Scalar
}

// NewExcessSignatureFromBytes decodes a 64-byte (32-byte nonce point ||
// 32-byte scalar) excess signature.
func NewExcessSignatureFromBytes(b []byte) (ExcessSignature, error) {
	var sig ExcessSignature
	if len(b) != 64 {
		return sig, errInvalidSignatureLength
	}
	var nonceBuf, sBuf [32]byte
	copy(nonceBuf[:], b[:32])
	copy(sBuf[:], b[32:])
	if !sig.nonce.SetBytes(&nonceBuf) {
		return sig, errInvalidSignatureEncoding
	}
	sig.s.SetBytes(&sBuf)
	return sig, nil
}

// Bytes returns the 64-byte encoding of the signature.
func (s ExcessSignature) Bytes() []byte {
	out := make([]byte, 0, 64)
	n := s.nonce.Bytes()
	sc := s.s.Bytes()
	out = append(out, n[:]...)
	out = append(out, sc[:]...)
	return out
}

// Key returns the hex encoding used as the mempool's sub-pool map key.
// Using the hex string (rather than the raw bytes) as the Go map key
// keeps SigKey comparable and directly loggable.
func (s ExcessSignature) Key() SigKey {
	return SigKey(hex.EncodeToString(s.Bytes()))
}

// ExcessSignatureFromUint64 derives a deterministic, valid excess
// signature from a small integer, for the same testing reasons as
// CommitmentFromUint64: distinct, decodable signatures without running a
// full Schnorr-signing pipeline.
func ExcessSignatureFromUint64(n uint64) ExcessSignature {
	var nonceScalar, s ristretto.Scalar
	nonceScalar.SetBigInt(big.NewInt(0).SetUint64(n + 1))
	s.SetBigInt(big.NewInt(0).SetUint64(n + 2))

	var sig ExcessSignature
	sig.nonce.ScalarMultBase(&nonceScalar)
	sig.s = s
	return sig
}

// SigKey is the comparable, map-key form of an ExcessSignature.
type SigKey string

// ShortString truncates a SigKey to its first 16 hex characters for
// log lines.
func (k SigKey) ShortString() string {
	if len(k) <= 16 {
		return string(k)
	}
	return string(k[:16])
}

// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

import (
	"encoding/hex"
	"math/big"

	"github.com/bwesterb/go-ristretto"
)

// Commitment is a Pedersen commitment to an output value, expressed as a
// ristretto group element. Two commitments are equal when their encoded
// points are equal; commitments are never decrypted by the pool, only
// compared and hashed.
type Commitment struct {
	point ristretto.Point
}

// NewCommitmentFromBytes decodes a 32-byte compressed ristretto point.
func NewCommitmentFromBytes(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != 32 {
		return c, errInvalidCommitmentLength
	}
	var buf [32]byte
	copy(buf[:], b)
	if !c.point.SetBytes(&buf) {
		return c, errInvalidCommitmentEncoding
	}
	return c, nil
}

// Bytes returns the compressed 32-byte encoding of the commitment.
func (c Commitment) Bytes() []byte {
	b := c.point.Bytes()
	return b[:]
}

// Hex returns the lower-case hex encoding of the commitment.
func (c Commitment) Hex() string {
	return hex.EncodeToString(c.Bytes())
}

// Equal reports whether two commitments encode the same point.
func (c Commitment) Equal(other Commitment) bool {
	return c.Hex() == other.Hex()
}

// IsZero reports whether the commitment was never set.
func (c Commitment) IsZero() bool {
	return len(c.Bytes()) == 0 || c.Hex() == zeroCommitmentHex
}

var zeroCommitmentHex = func() string {
	var z Commitment
	return z.Hex()
}()

// CommitmentFromUint64 derives a deterministic, valid commitment (n+1)*G from
// a small integer. It has no cryptographic meaning -- it exists so tests
// can produce distinct, decodable commitments without a full
// output-blinding pipeline.
func CommitmentFromUint64(n uint64) Commitment {
	var s ristretto.Scalar
	s.SetBigInt(big.NewInt(0).SetUint64(n + 1))
	var c Commitment
	c.point.ScalarMultBase(&s)
	return c
}

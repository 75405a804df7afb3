// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// BlockHash identifies a block by its header hash.
type BlockHash [32]byte

// Hex returns the lower-case hex encoding of the hash.
func (h BlockHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// BlockHeader carries the fields the mempool's reorg engine needs:
// height, achieved difficulty and parent linkage.
type BlockHeader struct {
	Height     uint64
	Hash       BlockHash
	PrevHash   BlockHash
	Difficulty uint64
}

// ComputeHash digests the header's height, parent linkage and achieved
// difficulty. The real chain hashes the full consensus header; height,
// parent and difficulty are the only header fields this repository
// carries, so they are what gets committed to here.
func (h *BlockHeader) ComputeHash() BlockHash {
	var buf [48]byte // height (8) || prev hash (32) || difficulty (8)
	binary.BigEndian.PutUint64(buf[:8], h.Height)
	copy(buf[8:40], h.PrevHash[:])
	binary.BigEndian.PutUint64(buf[40:], h.Difficulty)
	return blake2b.Sum256(buf[:])
}

// Block is an ordered sequence of transactions plus a header.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// NewBlock assembles a block at height on top of prev, stamping the
// header with its computed hash.
func NewBlock(height uint64, prev BlockHash, difficulty uint64, txs []*Transaction) *Block {
	header := BlockHeader{Height: height, PrevHash: prev, Difficulty: difficulty}
	header.Hash = header.ComputeHash()
	return &Block{Header: header, Transactions: txs}
}

// KernelSignatures returns the excess-signature keys of every kernel in
// every transaction in the block, in order -- the set process_published_block
// uses to migrate Unconfirmed entries into the Reorg pool.
func (b *Block) KernelSignatures() []SigKey {
	var out []SigKey
	for _, tx := range b.Transactions {
		for _, k := range tx.Kernels {
			out = append(out, k.ExcessSig.Key())
		}
	}
	return out
}

// SpentCommitments returns every input commitment spent across the
// block's transactions, used by the double-spend sweep.
func (b *Block) SpentCommitments() []Commitment {
	var out []Commitment
	for _, tx := range b.Transactions {
		out = append(out, tx.InputCommitments()...)
	}
	return out
}

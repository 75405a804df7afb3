// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package txtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockHeaderHashIsDeterministic(t *testing.T) {
	r := require.New(t)
	h := BlockHeader{Height: 7, PrevHash: BlockHash{1, 2, 3}, Difficulty: 1000}
	r.Equal(h.ComputeHash(), h.ComputeHash())
}

func TestBlockHeaderHashCommitsToAllFields(t *testing.T) {
	r := require.New(t)
	base := BlockHeader{Height: 7, PrevHash: BlockHash{1, 2, 3}, Difficulty: 1000}

	byHeight := base
	byHeight.Height = 8
	r.NotEqual(base.ComputeHash(), byHeight.ComputeHash())

	byParent := base
	byParent.PrevHash = BlockHash{9}
	r.NotEqual(base.ComputeHash(), byParent.ComputeHash())

	byDifficulty := base
	byDifficulty.Difficulty = 1001
	r.NotEqual(base.ComputeHash(), byDifficulty.ComputeHash())
}

func TestNewBlockStampsHeaderHash(t *testing.T) {
	r := require.New(t)
	parent := NewBlock(1, BlockHash{}, 500, nil)
	child := NewBlock(2, parent.Header.Hash, 500, nil)

	r.Equal(parent.Header.ComputeHash(), parent.Header.Hash)
	r.Equal(parent.Header.Hash, child.Header.PrevHash)
	r.NotEqual(parent.Header.Hash, child.Header.Hash)
}

func TestBlockKernelSignaturesAndSpentCommitments(t *testing.T) {
	r := require.New(t)
	tx := &Transaction{
		Inputs:  []Input{{Commitment: CommitmentFromUint64(1)}},
		Outputs: []Output{{Commitment: CommitmentFromUint64(2)}},
		Kernels: []Kernel{{ExcessSig: ExcessSignatureFromUint64(1)}},
	}
	b := NewBlock(2, BlockHash{}, 1, []*Transaction{tx})

	r.Equal([]SigKey{tx.PrimarySigKey()}, b.KernelSignatures())
	r.Len(b.SpentCommitments(), 1)
	r.True(b.SpentCommitments()[0].Equal(CommitmentFromUint64(1)))
}

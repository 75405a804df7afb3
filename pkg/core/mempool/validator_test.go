// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tari-go/base-node/pkg/core/txtypes"
)

func TestConsensusValidatorIgnoresMaturity(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 50)

	v := &ConsensusValidator{MaxBlockWeight: 1_000_000}
	tx := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(100)})
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)
}

func TestInputMaturityValidatorRejectsImmatureInput(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 50)

	v := &InputMaturityValidator{MaxBlockWeight: 1_000_000}
	tx := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(100)})
	r.NoError(err)
	r.Equal(NotStored, resp)
}

func TestValidatorRejectsOrphanInput(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()

	v := &InputMaturityValidator{MaxBlockWeight: 1_000_000}
	tx := newTestTx(2, 10, 0, []uint64{999}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(999)})
	r.NoError(err)
	r.Equal(NotStoredOrphan, resp)
}

func TestValidatorReportsChainSpentInput(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)
	chain.spend(txtypes.CommitmentFromUint64(100))

	v := &InputMaturityValidator{MaxBlockWeight: 1_000_000}
	tx := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(100)})
	r.NoError(err)
	r.Equal(NotStoredAlreadySpent, resp)
}

func TestValidatorRejectsTimeLocked(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	v := &InputMaturityValidator{MaxBlockWeight: 1_000_000}
	tx := newTestTx(2, 10, 5, []uint64{100}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(100)})
	r.NoError(err)
	r.Equal(NotStoredTimeLocked, resp)
}

func TestValidatorRejectsOversizedTx(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	v := &InputMaturityValidator{MaxBlockWeight: 1}
	tx := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})

	resp, err := v.Validate(context.Background(), tx, chain, 1, []txtypes.Commitment{txtypes.CommitmentFromUint64(100)})
	r.NoError(err)
	r.Equal(NotStoredConsensus, resp)
}

// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tari-go/base-node/pkg/core/chainview"
	"github.com/tari-go/base-node/pkg/core/txtypes"
)

// fakeChainView is an in-memory ChainView used to drive the mempool
// through the scenarios without a real blockchain database.
type fakeChainView struct {
	utxos map[string]txtypes.Output
	spent map[string]bool
	// failOn makes FetchUTXO return a non-ErrNotFound error for one
	// commitment, simulating a database I/O failure mid-operation.
	failOn string
}

var errFakeChainDown = errors.New("fake chain view: database unavailable")

func newFakeChainView() *fakeChainView {
	return &fakeChainView{utxos: make(map[string]txtypes.Output), spent: make(map[string]bool)}
}

func (c *fakeChainView) addUTXO(commitment txtypes.Commitment, maturity uint64) {
	c.utxos[commitment.Hex()] = txtypes.Output{Commitment: commitment, Maturity: maturity}
}

func (c *fakeChainView) spend(commitment txtypes.Commitment) {
	delete(c.utxos, commitment.Hex())
	c.spent[commitment.Hex()] = true
}

func (c *fakeChainView) FetchUTXO(_ context.Context, commitment txtypes.Commitment) (txtypes.Output, error) {
	if c.failOn != "" && c.failOn == commitment.Hex() {
		return txtypes.Output{}, errFakeChainDown
	}
	out, ok := c.utxos[commitment.Hex()]
	if !ok {
		return txtypes.Output{}, chainview.ErrNotFound
	}
	return out, nil
}

func (c *fakeChainView) IsSpent(_ context.Context, commitment txtypes.Commitment) (bool, error) {
	return c.spent[commitment.Hex()], nil
}

func (c *fakeChainView) FetchChainHeight(_ context.Context) (uint64, error) {
	return 0, nil
}

func (c *fakeChainView) ValidateBlockTransaction(_ context.Context, _ *txtypes.Transaction, _ uint64) error {
	return nil
}

func newTestTx(n int, fee, lockHeight uint64, inputs, outputs []uint64) *txtypes.Transaction {
	tx := &txtypes.Transaction{
		Kernels: []txtypes.Kernel{{
			Fee:        fee,
			LockHeight: lockHeight,
			ExcessSig:  txtypes.ExcessSignatureFromUint64(uint64(n)),
		}},
	}
	for _, in := range inputs {
		tx.Inputs = append(tx.Inputs, txtypes.Input{Commitment: txtypes.CommitmentFromUint64(in)})
	}
	for _, out := range outputs {
		tx.Outputs = append(tx.Outputs, txtypes.Output{Commitment: txtypes.CommitmentFromUint64(out)})
	}
	return tx
}

func newTestMempool(chain chainview.ChainView, tip uint64, maxBlockWeight uint64) *Mempool {
	v := &InputMaturityValidator{MaxBlockWeight: maxBlockWeight}
	return NewMempool(nil, nil, chain, v, tip)
}

// Scenario 1: insert-and-publish.
func TestInsertAndPublish(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	// four spendable chain outputs, commitments 100..103
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)
	chain.addUTXO(txtypes.CommitmentFromUint64(101), 0)
	chain.addUTXO(txtypes.CommitmentFromUint64(102), 5) // matures at height 5
	chain.addUTXO(txtypes.CommitmentFromUint64(103), 0)

	m := newTestMempool(chain, 1, 1_000_000)

	t2 := newTestTx(2, 10, 1, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), t2)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	// orphan: input has no chain UTXO and no unconfirmed parent
	orphan := newTestTx(3, 10, 1, []uint64{999}, []uint64{201})
	resp, err = m.Insert(context.Background(), orphan)
	r.NoError(err)
	r.Equal(NotStoredOrphan, resp)

	// maturity-locked: chain UTXO matures at height 5, tip is 1
	t3 := newTestTx(4, 10, 1, []uint64{102}, []uint64{202})
	resp, err = m.Insert(context.Background(), t3)
	r.NoError(err)
	r.Equal(NotStored, resp)

	block := &txtypes.Block{
		Header:       txtypes.BlockHeader{Height: 2},
		Transactions: []*txtypes.Transaction{t2},
	}
	r.NoError(m.ProcessPublishedBlock(context.Background(), block))

	stats := m.Stats()
	r.Equal(uint64(0), stats.UnconfirmedTxs)
	r.Equal(uint64(1), stats.ReorgTxs)
	r.Equal(ReorgPool, m.HasTxWithExcessSig(t2.PrimarySigKey()))
}

// Scenario 2: time-lock.
func TestTimeLock(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)
	chain.addUTXO(txtypes.CommitmentFromUint64(101), 0)

	m := newTestMempool(chain, 1, 1_000_000)

	t2 := newTestTx(2, 10, 3, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), t2)
	r.NoError(err)
	r.Equal(NotStoredTimeLocked, resp)

	t3 := newTestTx(3, 10, 2, []uint64{101}, []uint64{201})
	resp, err = m.Insert(context.Background(), t3)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	block := &txtypes.Block{
		Header:       txtypes.BlockHeader{Height: 2},
		Transactions: []*txtypes.Transaction{t3},
	}
	r.NoError(m.ProcessPublishedBlock(context.Background(), block))

	resp, err = m.Insert(context.Background(), t2)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)
}

// Scenario 3: priority retrieval.
func TestPriorityRetrieval(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	fees := []uint64{20, 20, 40, 50, 20, 20, 60, 25}
	for i := range fees {
		chain.addUTXO(txtypes.CommitmentFromUint64(uint64(100+i)), 0)
	}

	m := newTestMempool(chain, 1, 1_000_000)

	var txs []*txtypes.Transaction
	for i, feePerGram := range fees {
		weight := txtypes.BaseWeight + txtypes.WeightPerInput + txtypes.WeightPerOutput + txtypes.WeightPerKernel
		tx := newTestTx(i+2, feePerGram*weight, 0, []uint64{uint64(100 + i)}, []uint64{uint64(200 + i)})
		txs = append(txs, tx)
		resp, err := m.Insert(context.Background(), tx)
		r.NoError(err)
		r.Equal(UnconfirmedPool, resp)
	}

	weightOf := func(tx *txtypes.Transaction) uint64 { return tx.Weight() }
	targetWeight := weightOf(txs[6]) + weightOf(txs[2]) + weightOf(txs[3])

	got := m.Retrieve(targetWeight)
	r.Len(got, 3)

	gotSigs := make(map[txtypes.SigKey]bool)
	for _, tx := range got {
		gotSigs[tx.PrimarySigKey()] = true
	}
	r.True(gotSigs[txs[6].PrimarySigKey()])
	r.True(gotSigs[txs[2].PrimarySigKey()])
	r.True(gotSigs[txs[3].PrimarySigKey()])
}

// Idempotence invariant: insert(t) twice has the same effect as once.
func TestInsertIdempotent(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	m := newTestMempool(chain, 1, 1_000_000)
	tx := newTestTx(2, 10, 1, []uint64{100}, []uint64{200})

	resp1, err := m.Insert(context.Background(), tx)
	r.NoError(err)
	resp2, err := m.Insert(context.Background(), tx)
	r.NoError(err)
	r.Equal(resp1, resp2)
	r.Equal(1, m.unconfirmed.len())
}

// Zero-conf dependency: a child spending a still-unconfirmed parent's
// output is admitted, tracked as a dependency, and excluded from
// retrieve until the parent is also selected.
func TestZeroConfDependency(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	m := newTestMempool(chain, 1, 1_000_000)

	// the child carries a much higher fee-per-gram than the parent, so
	// retrieve would try the child first if dependency tracking did not
	// force the whole chain to be considered as a unit.
	parent := newTestTx(2, 14, 1, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), parent)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	child := newTestTx(3, 140, 1, []uint64{200}, []uint64{201})
	resp, err = m.Insert(context.Background(), child)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	entry, ok := m.unconfirmed.get(child.PrimarySigKey())
	r.True(ok)
	_, hasDep := entry.dependencies[parent.PrimarySigKey()]
	r.True(hasDep)

	// retrieving with room for only one transaction's weight must skip the
	// child's chain (parent plus child) as a unit; the parent on its own
	// fits and is selected, the child never is.
	got := m.Retrieve(child.Weight())
	r.Len(got, 1)
	r.Equal(parent.PrimarySigKey(), got[0].PrimarySigKey())

	got = m.Retrieve(parent.Weight() + child.Weight())
	r.Len(got, 2)
	r.Equal(parent.PrimarySigKey(), got[0].PrimarySigKey())
	r.Equal(child.PrimarySigKey(), got[1].PrimarySigKey())
}

// Reorg: a transaction confirmed in a rolled-back block re-appears in
// Unconfirmed once the reorg completes.
func TestReorgReadmitsRolledBackTx(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	m := newTestMempool(chain, 1, 1_000_000)

	tx := newTestTx(2, 10, 1, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), tx)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	block2 := &txtypes.Block{
		Header:       txtypes.BlockHeader{Height: 2},
		Transactions: []*txtypes.Transaction{tx},
	}
	r.NoError(m.ProcessPublishedBlock(context.Background(), block2))
	r.Equal(ReorgPool, m.HasTxWithExcessSig(tx.PrimarySigKey()))

	// rewind block 2, replace with an empty block 2'
	altBlock2 := &txtypes.Block{Header: txtypes.BlockHeader{Height: 2}}
	r.NoError(m.ProcessReorg(context.Background(), []*txtypes.Block{block2}, []*txtypes.Block{altBlock2}))

	r.Equal(UnconfirmedPool, m.HasTxWithExcessSig(tx.PrimarySigKey()))
}

// Out-of-order block application returns a StateError and leaves the
// pool unchanged.
func TestProcessPublishedBlockOutOfOrder(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	m := newTestMempool(chain, 1, 1_000_000)

	block := &txtypes.Block{Header: txtypes.BlockHeader{Height: 5}}
	err := m.ProcessPublishedBlock(context.Background(), block)
	r.Error(err)

	var merr *MempoolError
	r.ErrorAs(err, &merr)
	r.Equal(KindState, merr.Kind)
}

// Zero-conf grid: four independent spend columns, each four
// transactions deep (chain UTXO -> basis -> L1 -> L2 -> L3). Holding
// one basis transaction back orphans its whole column; inserting it
// later lets the column in, and retrieval always returns an
// ancestry-closed, parent-before-child set.
func TestZeroConfGrid(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	for col := uint64(0); col < 4; col++ {
		chain.addUTXO(txtypes.CommitmentFromUint64(101+col), 0)
	}

	m := newTestMempool(chain, 1, 1_000_000)

	// grid[row][col]: row 0 spends the chain UTXO for its column, each
	// later row spends the output of the row above.
	weight := txtypes.BaseWeight + txtypes.WeightPerInput + txtypes.WeightPerOutput + txtypes.WeightPerKernel
	var grid [4][4]*txtypes.Transaction
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			in := uint64(101 + col + 100*row)
			out := uint64(201 + col + 100*row)
			fee := weight * uint64(16-row*4-col) // distinct fee-per-gram, parents above children
			grid[row][col] = newTestTx(10*row+col+2, fee, 1, []uint64{in}, []uint64{out})
		}
	}

	heldBack := grid[0][1]
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			tx := grid[row][col]
			if tx == heldBack {
				continue // inserted later
			}
			resp, err := m.Insert(context.Background(), tx)
			r.NoError(err)
			if col == 1 {
				// ancestry incomplete: neither a chain UTXO nor an
				// unconfirmed parent backs this input.
				r.Equal(NotStoredOrphan, resp)
			} else {
				r.Equal(UnconfirmedPool, resp)
			}
		}
	}

	assertAncestryClosedAndOrdered := func(got []*txtypes.Transaction) {
		index := make(map[txtypes.SigKey]int, len(got))
		for i, tx := range got {
			index[tx.PrimarySigKey()] = i
		}
		for _, tx := range got {
			i := index[tx.PrimarySigKey()]
			e, ok := m.unconfirmed.get(tx.PrimarySigKey())
			r.True(ok)
			for dep := range e.dependencies {
				j, selected := index[dep]
				r.True(selected, "selected tx is missing its in-pool parent")
				r.Less(j, i, "parent must precede its child")
			}
		}
	}

	got := m.Retrieve(1_000_000)
	r.Len(got, 12) // three full columns
	assertAncestryClosedAndOrdered(got)

	// admit the held-back basis transaction, then its orphaned column.
	resp, err := m.Insert(context.Background(), heldBack)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)
	for row := 1; row < 4; row++ {
		resp, err = m.Insert(context.Background(), grid[row][1])
		r.NoError(err)
		r.Equal(UnconfirmedPool, resp)
	}

	var totalWeight uint64
	for _, e := range m.unconfirmed.all() {
		totalWeight += e.weight
	}

	got = m.Retrieve(totalWeight)
	r.Len(got, 16)
	assertAncestryClosedAndOrdered(got)

	// one weight unit short: exactly one leaf must drop out, and the
	// remainder must still form a valid ancestry-closed prefix.
	got = m.Retrieve(totalWeight - 1)
	r.Len(got, 15)
	assertAncestryClosedAndOrdered(got)
}

// An input the chain has already seen spent is rejected as a double
// spend, not mistaken for an orphan.
func TestInsertChainSpentInput(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)
	chain.spend(txtypes.CommitmentFromUint64(100))

	m := newTestMempool(chain, 1, 1_000_000)

	tx := newTestTx(2, 10, 1, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), tx)
	r.NoError(err)
	r.Equal(NotStoredAlreadySpent, resp)
}

// A chain view failure mid-reorg aborts the whole operation with the
// pools and tip restored to their pre-reorg state.
func TestProcessReorgAbortsAtomically(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)

	m := newTestMempool(chain, 1, 1_000_000)

	tx := newTestTx(2, 10, 1, []uint64{100}, []uint64{200})
	resp, err := m.Insert(context.Background(), tx)
	r.NoError(err)
	r.Equal(UnconfirmedPool, resp)

	block2 := &txtypes.Block{
		Header:       txtypes.BlockHeader{Height: 2},
		Transactions: []*txtypes.Transaction{tx},
	}
	r.NoError(m.ProcessPublishedBlock(context.Background(), block2))

	chain.failOn = txtypes.CommitmentFromUint64(100).Hex()
	altBlock2 := &txtypes.Block{Header: txtypes.BlockHeader{Height: 2}}
	err = m.ProcessReorg(context.Background(), []*txtypes.Block{block2}, []*txtypes.Block{altBlock2})
	r.Error(err)

	var merr *MempoolError
	r.ErrorAs(err, &merr)
	r.Equal(KindDependency, merr.Kind)

	// pre-reorg state intact: tx still in the Reorg pool, tip unmoved
	r.Equal(ReorgPool, m.HasTxWithExcessSig(tx.PrimarySigKey()))
	r.Equal(uint64(2), m.tip)
}

// process_reorg(A->B, B->C) is equivalent to process_reorg(A->B) then
// process_reorg(B->C) in final state.
func TestProcessReorgComposes(t *testing.T) {
	r := require.New(t)

	buildChain := func() *fakeChainView {
		chain := newFakeChainView()
		chain.addUTXO(txtypes.CommitmentFromUint64(100), 0)
		chain.addUTXO(txtypes.CommitmentFromUint64(101), 0)
		return chain
	}
	txA := func() *txtypes.Transaction { return newTestTx(2, 10, 1, []uint64{100}, []uint64{200}) }
	txB := func() *txtypes.Transaction { return newTestTx(3, 10, 1, []uint64{101}, []uint64{201}) }

	setup := func(chain *fakeChainView) (*Mempool, *txtypes.Block, *txtypes.Block) {
		m := newTestMempool(chain, 1, 1_000_000)
		a, b := txA(), txB()
		_, err := m.Insert(context.Background(), a)
		r.NoError(err)
		_, err = m.Insert(context.Background(), b)
		r.NoError(err)
		block2 := txtypes.NewBlock(2, txtypes.BlockHash{}, 1, []*txtypes.Transaction{a})
		block3 := txtypes.NewBlock(3, block2.Header.Hash, 1, []*txtypes.Transaction{b})
		r.NoError(m.ProcessPublishedBlock(context.Background(), block2))
		r.NoError(m.ProcessPublishedBlock(context.Background(), block3))
		return m, block2, block3
	}

	alt2 := txtypes.NewBlock(2, txtypes.BlockHash{}, 2, nil)
	alt3 := txtypes.NewBlock(3, alt2.Header.Hash, 2, nil)

	// one compound reorg: rewind blocks 3 and 2, apply 2' and 3'
	m1, b2, b3 := setup(buildChain())
	r.NoError(m1.ProcessReorg(context.Background(), []*txtypes.Block{b2, b3}, []*txtypes.Block{alt2, alt3}))

	// the same rewind split into two successive reorgs
	m2, c2, c3 := setup(buildChain())
	r.NoError(m2.ProcessReorg(context.Background(), []*txtypes.Block{c3}, nil))
	r.NoError(m2.ProcessReorg(context.Background(), []*txtypes.Block{c2}, []*txtypes.Block{alt2, alt3}))

	s1, s2 := m1.Stats(), m2.Stats()
	r.Equal(s1, s2)
	r.Equal(m1.tip, m2.tip)
	for _, tx := range []*txtypes.Transaction{txA(), txB()} {
		r.Equal(m1.HasTxWithExcessSig(tx.PrimarySigKey()), m2.HasTxWithExcessSig(tx.PrimarySigKey()))
	}
}

func TestHasTxWithExcessSigUnknown(t *testing.T) {
	r := require.New(t)
	chain := newFakeChainView()
	m := newTestMempool(chain, 1, 1_000_000)
	r.Equal(NotStored, m.HasTxWithExcessSig(txtypes.ExcessSignatureFromUint64(42).Key()))
}

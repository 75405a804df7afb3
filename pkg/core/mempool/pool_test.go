// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tari-go/base-node/pkg/core/txtypes"
)

func TestUnconfirmedPoolEvictsLowestPriorityLeafFirst(t *testing.T) {
	r := require.New(t)
	p := newUnconfirmedPool(4)

	low := newTestTx(2, 1, 0, []uint64{100}, []uint64{200})
	high := newTestTx(3, 1000, 0, []uint64{101}, []uint64{201})

	lowEntry := newEntry(low, 0)
	highEntry := newEntry(high, 0)
	p.insert(lowEntry)
	p.insert(highEntry)

	evicted := p.evictLowestPriority(highEntry.weight, "")
	r.Equal([]txtypes.SigKey{low.PrimarySigKey()}, evicted)
	r.False(p.contains(low.PrimarySigKey()))
	r.True(p.contains(high.PrimarySigKey()))
}

func TestUnconfirmedPoolProtectsDependents(t *testing.T) {
	r := require.New(t)
	p := newUnconfirmedPool(4)

	parent := newTestTx(2, 1, 0, []uint64{100}, []uint64{200})
	child := newTestTx(3, 1, 0, []uint64{200}, []uint64{201})

	pe := newEntry(parent, 0)
	ce := newEntry(child, 0)
	ce.dependencies[parent.PrimarySigKey()] = struct{}{}

	p.insert(pe)
	p.insert(ce)

	// parent has a dependent (child), so it must never be picked as the
	// lowest-priority leaf even though nothing else is cheaper.
	sig, ok := p.lowestPriorityLeaf("")
	r.True(ok)
	r.Equal(child.PrimarySigKey(), sig)
}

func TestUnconfirmedPoolZeroConfIndex(t *testing.T) {
	r := require.New(t)
	p := newUnconfirmedPool(4)

	parent := newTestTx(2, 1, 0, []uint64{100}, []uint64{200})
	pe := newEntry(parent, 0)
	p.insert(pe)

	sig, ok := p.findParent(txtypes.CommitmentFromUint64(200))
	r.True(ok)
	r.Equal(parent.PrimarySigKey(), sig)

	_, ok = p.findParent(txtypes.CommitmentFromUint64(999))
	r.False(ok)
}

func TestUnconfirmedPoolDoubleSpendIndex(t *testing.T) {
	r := require.New(t)
	p := newUnconfirmedPool(4)

	tx := newTestTx(2, 1, 0, []uint64{100}, []uint64{200})
	p.insert(newEntry(tx, 0))

	spender, ok := p.findDoubleSpender(txtypes.CommitmentFromUint64(100))
	r.True(ok)
	r.Equal(tx.PrimarySigKey(), spender)
}

func TestUnconfirmedPoolSortedDescending(t *testing.T) {
	r := require.New(t)
	p := newUnconfirmedPool(4)

	weight := txtypes.BaseWeight + txtypes.WeightPerInput + txtypes.WeightPerOutput + txtypes.WeightPerKernel
	low := newTestTx(2, 10*weight, 0, []uint64{100}, []uint64{200})
	high := newTestTx(3, 50*weight, 0, []uint64{101}, []uint64{201})
	mid := newTestTx(4, 20*weight, 0, []uint64{102}, []uint64{202})

	p.insert(newEntry(low, 0))
	p.insert(newEntry(high, 0))
	p.insert(newEntry(mid, 0))

	sorted := p.sortedDescending()
	r.Len(sorted, 3)
	r.Equal(high.PrimarySigKey(), sorted[0].sig)
	r.Equal(mid.PrimarySigKey(), sorted[1].sig)
	r.Equal(low.PrimarySigKey(), sorted[2].sig)
}

func TestReorgPoolAgeOutByDepth(t *testing.T) {
	r := require.New(t)
	p := newReorgPool()

	tx := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})
	p.insert(tx, 5)

	r.Empty(p.ageOut(10, 50, 0))
	r.Equal([]txtypes.SigKey{tx.PrimarySigKey()}, p.ageOut(56, 50, 0))
}

func TestReorgPoolEntriesAtHeight(t *testing.T) {
	r := require.New(t)
	p := newReorgPool()

	tx1 := newTestTx(2, 10, 0, []uint64{100}, []uint64{200})
	tx2 := newTestTx(3, 10, 0, []uint64{101}, []uint64{201})
	p.insert(tx1, 5)
	p.insert(tx2, 6)

	atFive := p.entriesAtHeight(5)
	r.Len(atFive, 1)
	r.Equal(tx1.PrimarySigKey(), atFive[0].tx.PrimarySigKey())
}

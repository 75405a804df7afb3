// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"sort"

	"github.com/tari-go/base-node/pkg/core/txtypes"
)

// entry is a sub-pool entry: a transaction plus the bookkeeping the
// Unconfirmed pool needs for priority ordering and zero-conf dependency
// tracking.
type entry struct {
	tx           *txtypes.Transaction
	sig          txtypes.SigKey
	weight       uint64
	feePerGram   uint64
	insertedAt   uint64
	dependencies map[txtypes.SigKey]struct{}
}

func newEntry(tx *txtypes.Transaction, seq uint64) *entry {
	return &entry{
		tx:           tx,
		sig:          tx.PrimarySigKey(),
		weight:       tx.Weight(),
		feePerGram:   tx.FeePerGram(),
		insertedAt:   seq,
		dependencies: make(map[txtypes.SigKey]struct{}),
	}
}

// unconfirmedPool holds entries keyed by kernel-excess-signature (the
// default hashmap pool type), with commitment indices supporting
// zero-conf parent and double-spend lookups.
type unconfirmedPool struct {
	entries map[txtypes.SigKey]*entry
	// outputIndex maps a produced output's commitment to the signature
	// of the Unconfirmed entry that produces it.
	outputIndex map[string]txtypes.SigKey
	// spentIndex maps a spent input's commitment to the signature of the
	// Unconfirmed entry that spends it, used for mempool-level
	// double-spend detection and for finding dependents during eviction.
	spentIndex  map[string]txtypes.SigKey
	totalWeight uint64
	seq         uint64
}

func newUnconfirmedPool(capacityHint int) *unconfirmedPool {
	return &unconfirmedPool{
		entries:     make(map[txtypes.SigKey]*entry, capacityHint),
		outputIndex: make(map[string]txtypes.SigKey, capacityHint),
		spentIndex:  make(map[string]txtypes.SigKey, capacityHint*2),
	}
}

func (p *unconfirmedPool) contains(sig txtypes.SigKey) bool {
	_, ok := p.entries[sig]
	return ok
}

func (p *unconfirmedPool) get(sig txtypes.SigKey) (*entry, bool) {
	e, ok := p.entries[sig]
	return e, ok
}

func (p *unconfirmedPool) len() int {
	return len(p.entries)
}

// findParent returns the signature of the Unconfirmed entry that
// produced commitment as one of its outputs, for zero-conf dependency
// detection, if any.
func (p *unconfirmedPool) findParent(commitment txtypes.Commitment) (txtypes.SigKey, bool) {
	sig, ok := p.outputIndex[commitment.Hex()]
	return sig, ok
}

// findDoubleSpender returns the signature of the Unconfirmed entry that
// already spends commitment, if any.
func (p *unconfirmedPool) findDoubleSpender(commitment txtypes.Commitment) (txtypes.SigKey, bool) {
	sig, ok := p.spentIndex[commitment.Hex()]
	return sig, ok
}

// insert adds e to the pool, indexing its outputs and inputs. Callers
// must have already determined e's dependencies.
func (p *unconfirmedPool) insert(e *entry) {
	p.seq++
	e.insertedAt = p.seq
	p.entries[e.sig] = e
	p.totalWeight += e.weight
	for _, c := range e.tx.OutputCommitments() {
		p.outputIndex[c.Hex()] = e.sig
	}
	for _, c := range e.tx.InputCommitments() {
		p.spentIndex[c.Hex()] = e.sig
	}
}

// remove deletes the entry for sig, if present, and unwinds its indices.
func (p *unconfirmedPool) remove(sig txtypes.SigKey) (*entry, bool) {
	e, ok := p.entries[sig]
	if !ok {
		return nil, false
	}
	delete(p.entries, sig)
	p.totalWeight -= e.weight
	for _, c := range e.tx.OutputCommitments() {
		if p.outputIndex[c.Hex()] == sig {
			delete(p.outputIndex, c.Hex())
		}
	}
	for _, c := range e.tx.InputCommitments() {
		if p.spentIndex[c.Hex()] == sig {
			delete(p.spentIndex, c.Hex())
		}
	}
	return e, true
}

// dependents returns the signatures of entries that directly depend on
// sig (i.e. whose dependency set contains it).
func (p *unconfirmedPool) dependents(sig txtypes.SigKey) []txtypes.SigKey {
	var out []txtypes.SigKey
	for other, e := range p.entries {
		if other == sig {
			continue
		}
		if _, ok := e.dependencies[sig]; ok {
			out = append(out, other)
		}
	}
	return out
}

// hasNoDependents reports whether no other Unconfirmed entry depends on
// sig, a precondition for evicting it.
func (p *unconfirmedPool) hasNoDependents(sig txtypes.SigKey) bool {
	return len(p.dependents(sig)) == 0
}

// evictLowestPriority evicts leaf entries (no dependents), lowest
// fee-per-gram first, ties broken by earliest insertion, until
// totalWeight <= cap or no further eviction is possible. It returns the
// signatures evicted, in eviction order.
func (p *unconfirmedPool) evictLowestPriority(cap uint64, protect txtypes.SigKey) []txtypes.SigKey {
	var evicted []txtypes.SigKey
	for p.totalWeight > cap {
		candidate, ok := p.lowestPriorityLeaf(protect)
		if !ok {
			break
		}
		p.remove(candidate)
		evicted = append(evicted, candidate)
	}
	return evicted
}

func (p *unconfirmedPool) lowestPriorityLeaf(protect txtypes.SigKey) (txtypes.SigKey, bool) {
	type cand struct {
		sig txtypes.SigKey
		e   *entry
	}
	var leaves []cand
	for sig, e := range p.entries {
		if sig == protect {
			continue
		}
		if p.hasNoDependents(sig) {
			leaves = append(leaves, cand{sig, e})
		}
	}
	if len(leaves) == 0 {
		return "", false
	}
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].e.feePerGram != leaves[j].e.feePerGram {
			return leaves[i].e.feePerGram < leaves[j].e.feePerGram
		}
		return leaves[i].e.insertedAt < leaves[j].e.insertedAt
	})
	return leaves[0].sig, true
}

// sortedDescending returns every entry ordered by descending
// fee-per-gram, ties broken by ascending insertion order -- the
// traversal order `retrieve` walks.
func (p *unconfirmedPool) sortedDescending() []*entry {
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].feePerGram != out[j].feePerGram {
			return out[i].feePerGram > out[j].feePerGram
		}
		return out[i].insertedAt < out[j].insertedAt
	})
	return out
}

// clone returns a copy of the pool's bookkeeping that shares the
// (immutable once inserted) entries themselves. The reorg engine takes
// one before mutating so a failed reorg can restore the pre-reorg
// state wholesale.
func (p *unconfirmedPool) clone() *unconfirmedPool {
	c := &unconfirmedPool{
		entries:     make(map[txtypes.SigKey]*entry, len(p.entries)),
		outputIndex: make(map[string]txtypes.SigKey, len(p.outputIndex)),
		spentIndex:  make(map[string]txtypes.SigKey, len(p.spentIndex)),
		totalWeight: p.totalWeight,
		seq:         p.seq,
	}
	for k, v := range p.entries {
		c.entries[k] = v
	}
	for k, v := range p.outputIndex {
		c.outputIndex[k] = v
	}
	for k, v := range p.spentIndex {
		c.spentIndex[k] = v
	}
	return c
}

// all returns every entry in the pool in no particular order.
func (p *unconfirmedPool) all() []*entry {
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package mempool

import (
	"time"

	"github.com/tari-go/base-node/pkg/core/txtypes"
)

// reorgEntry is a transaction that was confirmed in some block but is a
// candidate for automatic re-admission if the chain is rewound past
// that block.
type reorgEntry struct {
	tx              *txtypes.Transaction
	confirmedHeight uint64
	confirmedAt     time.Time
}

// reorgPool holds transactions keyed by kernel-excess-signature that
// were confirmed on some block the mempool has seen, but might not be
// confirmed on the current best chain.
type reorgPool struct {
	entries map[txtypes.SigKey]*reorgEntry
}

func newReorgPool() *reorgPool {
	return &reorgPool{entries: make(map[txtypes.SigKey]*reorgEntry)}
}

func (p *reorgPool) contains(sig txtypes.SigKey) bool {
	_, ok := p.entries[sig]
	return ok
}

func (p *reorgPool) get(sig txtypes.SigKey) (*reorgEntry, bool) {
	e, ok := p.entries[sig]
	return e, ok
}

func (p *reorgPool) insert(tx *txtypes.Transaction, height uint64) {
	p.entries[tx.PrimarySigKey()] = &reorgEntry{tx: tx, confirmedHeight: height, confirmedAt: time.Now()}
}

func (p *reorgPool) remove(sig txtypes.SigKey) (*reorgEntry, bool) {
	e, ok := p.entries[sig]
	if ok {
		delete(p.entries, sig)
	}
	return e, ok
}

func (p *reorgPool) len() int {
	return len(p.entries)
}

// ageOut returns the signatures of entries whose confirming block is
// more than maxDepth below tip, or whose confirmedAt is older than
// maxAge -- entries that leave the Reorg pool simply because the chain
// moved on, not because they were re-admitted.
func (p *reorgPool) ageOut(tip uint64, maxDepth uint64, maxAge time.Duration) []txtypes.SigKey {
	var out []txtypes.SigKey
	now := time.Now()
	for sig, e := range p.entries {
		if tip > e.confirmedHeight && tip-e.confirmedHeight > maxDepth {
			out = append(out, sig)
			continue
		}
		if maxAge > 0 && now.Sub(e.confirmedAt) > maxAge {
			out = append(out, sig)
		}
	}
	return out
}

// clone returns a copy of the pool sharing the underlying entries, for
// the same restore-on-failed-reorg purpose as unconfirmedPool.clone.
func (p *reorgPool) clone() *reorgPool {
	c := newReorgPool()
	for k, v := range p.entries {
		c.entries[k] = v
	}
	return c
}

func (p *reorgPool) all() []*reorgEntry {
	out := make([]*reorgEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// entriesAtHeight returns the entries whose confirming block is h, used
// when rewinding that block so its transactions can be re-admitted.
func (p *reorgPool) entriesAtHeight(h uint64) []*reorgEntry {
	var out []*reorgEntry
	for _, e := range p.entries {
		if e.confirmedHeight == h {
			out = append(out, e)
		}
	}
	return out
}

// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package mempool is a storage for the chain transactions that are valid
// according to the current chain state and can be included in the next
// block. It holds two logical pools -- Unconfirmed and Reorg -- behind a
// single exclusive-write / multi-read lock, and runs an actor loop on
// top of that state for its externally-visible request surfaces.
package mempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/tari-go/base-node/pkg/config"
	"github.com/tari-go/base-node/pkg/core/chainview"
	"github.com/tari-go/base-node/pkg/core/txtypes"
	"github.com/tari-go/base-node/pkg/eventbus"
	"github.com/tari-go/base-node/pkg/rpcbus"
)

var log = logger.WithFields(logger.Fields{"prefix": "mempool"})

const idleInterval = 20 * time.Second

// Gossip topics the mempool subscribes to and publishes on. The p2p
// layer is expected to subscribe to TopicPropagateTx and forward it to
// peers not yet known to have the transaction.
const (
	TopicNewTransaction eventbus.Topic = "mempool.new_transaction"
	TopicPropagateTx    eventbus.Topic = "mempool.propagate_tx"
)

// Stats is the snapshot returned by the stats() operation.
type Stats struct {
	TotalTxs       uint64
	UnconfirmedTxs uint64
	ReorgTxs       uint64
	TotalWeight    uint64
}

// BlockEvent is delivered to the mempool's actor loop in block-height
// order. Added describes a simple append; RemovedBlocks/AddedBlocks
// together describe a reorg (RemovedBlocks may be empty, a pure-append
// reorg handled identically to a sequence of Added events).
type BlockEvent struct {
	Added         *txtypes.Block
	RemovedBlocks []*txtypes.Block
	AddedBlocks   []*txtypes.Block
}

// NewBlockAddedEvent builds the BlockEvent for a single confirmed block.
func NewBlockAddedEvent(b *txtypes.Block) BlockEvent {
	return BlockEvent{Added: b}
}

// NewReorgEvent builds the BlockEvent for a chain reorganisation.
func NewReorgEvent(removed, added []*txtypes.Block) BlockEvent {
	return BlockEvent{RemovedBlocks: removed, AddedBlocks: added}
}

// Mempool owns the Unconfirmed and Reorg pools exclusively; all mutation
// and lookup go through its RWMutex, and its Run loop is the only thing
// that drives block-event application and RPC service.
type Mempool struct {
	mu sync.RWMutex

	unconfirmed *unconfirmedPool
	reorg       *reorgPool
	validator   Validator
	chain       chainview.ChainView
	tip         uint64

	maxUnconfirmedWeight uint64
	maxTxWeight          uint64
	reorgPoolMaxDepth    uint64
	reorgPoolExpiry      time.Duration

	bus *eventbus.Bus

	newTxCh      <-chan interface{}
	blockEvents  chan BlockEvent
	getStatsChan <-chan rpcbus.Request
	getStateChan <-chan rpcbus.Request
	getTxsChan   <-chan rpcbus.Request
	sendTxChan   <-chan rpcbus.Request
	quit         chan struct{}
}

// NewMempool instantiates and initializes the node mempool. bus and rb
// may be nil in tests that drive Insert/Retrieve/Stats directly.
func NewMempool(bus *eventbus.Bus, rb *rpcbus.RPCBus, chain chainview.ChainView, validator Validator, tip uint64) *Mempool {
	cfg := config.Get().Mempool

	log.Infof("create new instance with pool type %s", cfg.PoolType)

	m := &Mempool{
		unconfirmed:          newUnconfirmedPool(cfg.PreallocTxs),
		reorg:                newReorgPool(),
		validator:            validator,
		chain:                chain,
		tip:                  tip,
		maxUnconfirmedWeight: cfg.MaxUnconfirmedWeight,
		maxTxWeight:          cfg.MaxTxWeight,
		reorgPoolMaxDepth:    cfg.ReorgPoolMaxDepth,
		reorgPoolExpiry:      cfg.ReorgPoolExpiry,
		bus:                  bus,
		blockEvents:          make(chan BlockEvent, 16),
		quit:                 make(chan struct{}),
	}

	if rb != nil {
		statsChan := make(chan rpcbus.Request, 1)
		rb.Register(rpcbus.GetMempoolStats, statsChan)
		m.getStatsChan = statsChan

		stateChan := make(chan rpcbus.Request, 1)
		rb.Register(rpcbus.GetTxState, stateChan)
		m.getStateChan = stateChan

		txsChan := make(chan rpcbus.Request, 1)
		rb.Register(rpcbus.GetMempoolTxs, txsChan)
		m.getTxsChan = txsChan

		sendChan := make(chan rpcbus.Request, 1)
		rb.Register(rpcbus.SendMempoolTx, sendChan)
		m.sendTxChan = sendChan
	}

	if bus != nil {
		m.newTxCh = bus.Subscribe(TopicNewTransaction).C
	}

	return m
}

// Run spawns the mempool's lifecycle goroutine. All non-locking,
// event-driven bookkeeping (block application, RPC service, reorg-pool
// ageing) happens on this single goroutine; Insert/Retrieve/Stats remain
// directly callable from any goroutine under the pool's RWMutex.
func (m *Mempool) Run() {
	go func() {
		ticker := time.NewTicker(idleInterval)
		defer ticker.Stop()
		for {
			select {
			case ev := <-m.blockEvents:
				if err := m.applyBlockEvent(context.Background(), ev); err != nil {
					log.Errorf("apply block event: %v", err)
				}
			case r := <-m.getStatsChan:
				m.onGetStats(r)
			case r := <-m.getStateChan:
				m.onGetTxState(r)
			case r := <-m.getTxsChan:
				m.onGetTxs(r)
			case r := <-m.sendTxChan:
				m.onSendTx(r)
			case raw := <-m.newTxCh:
				m.onNewTransaction(raw)
			case <-ticker.C:
				m.onIdle()
			case <-m.quit:
				return
			}
		}
	}()
}

// Quit terminates the mempool's lifecycle goroutine.
func (m *Mempool) Quit() {
	close(m.quit)
}

// SubmitBlockEvent enqueues a block event for the actor loop, in
// block-height order. The channel is bounded; a caller applying events
// faster than Run drains them will block, providing back-pressure.
func (m *Mempool) SubmitBlockEvent(ev BlockEvent) {
	m.blockEvents <- ev
}

// Collect accepts a gossip- or RPC-sourced candidate transaction,
// inserts it, and on admission to the Unconfirmed pool publishes it for
// propagation to peers. Safe to call from any goroutine.
func (m *Mempool) Collect(tx *txtypes.Transaction) {
	m.onNewTransaction(tx)
}

func (m *Mempool) onNewTransaction(raw interface{}) {
	tx, ok := raw.(*txtypes.Transaction)
	if !ok {
		log.Warnf("discarding non-transaction gossip payload")
		return
	}
	resp, err := m.Insert(context.Background(), tx)
	if err != nil {
		log.Errorf("insert %s: %v", tx.PrimarySigKey().ShortString(), err)
		return
	}
	log.Tracef("insert %s -> %s", tx.PrimarySigKey().ShortString(), resp)
	if resp == UnconfirmedPool && m.bus != nil {
		m.bus.Publish(TopicPropagateTx, tx)
	}
}

func (m *Mempool) onGetStats(r rpcbus.Request) {
	r.RespChan <- rpcbus.Response{Result: m.Stats()}
}

func (m *Mempool) onGetTxState(r rpcbus.Request) {
	sig, ok := r.Params.(txtypes.SigKey)
	if !ok {
		r.RespChan <- rpcbus.Response{Err: fmt.Errorf("get_tx_state: unexpected params type %T", r.Params)}
		return
	}
	r.RespChan <- rpcbus.Response{Result: m.HasTxWithExcessSig(sig)}
}

// onGetTxs serves block assembly: params is the target block weight to
// fill, the result a block-valid, priority-ordered transaction prefix.
func (m *Mempool) onGetTxs(r rpcbus.Request) {
	weight, ok := r.Params.(uint64)
	if !ok {
		r.RespChan <- rpcbus.Response{Err: fmt.Errorf("get_txs: unexpected params type %T", r.Params)}
		return
	}
	r.RespChan <- rpcbus.Response{Result: m.Retrieve(weight)}
}

// onSendTx is the RPC-submission counterpart of gossip intake: same
// insert-then-propagate path, but the caller gets the StorageResponse
// back.
func (m *Mempool) onSendTx(r rpcbus.Request) {
	tx, ok := r.Params.(*txtypes.Transaction)
	if !ok {
		r.RespChan <- rpcbus.Response{Err: fmt.Errorf("send_tx: unexpected params type %T", r.Params)}
		return
	}
	resp, err := m.Insert(context.Background(), tx)
	if err != nil {
		r.RespChan <- rpcbus.Response{Err: err}
		return
	}
	if resp == UnconfirmedPool && m.bus != nil {
		m.bus.Publish(TopicPropagateTx, tx)
	}
	r.RespChan <- rpcbus.Response{Result: resp}
}

func (m *Mempool) onIdle() {
	m.mu.Lock()
	expired := m.reorg.ageOut(m.tip, m.reorgPoolMaxDepth, m.reorgPoolExpiry)
	for _, sig := range expired {
		m.reorg.remove(sig)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		log.Infof("aged %d transactions out of the reorg pool", len(expired))
	}

	stats := m.Stats()
	log.Debugf("unconfirmed=%d reorg=%d weight=%d", stats.UnconfirmedTxs, stats.ReorgTxs, stats.TotalWeight)
	if stats.TotalWeight > m.maxUnconfirmedWeight {
		log.Errorf("unconfirmed pool weight %d exceeds cap %d", stats.TotalWeight, m.maxUnconfirmedWeight)
	}
}

func (m *Mempool) applyBlockEvent(ctx context.Context, ev BlockEvent) error {
	if ev.Added != nil {
		return m.ProcessPublishedBlock(ctx, ev.Added)
	}
	return m.ProcessReorg(ctx, ev.RemovedBlocks, ev.AddedBlocks)
}

// Insert runs the full insert(tx) -> StorageResponse algorithm: identity
// check, stateless validation, stateful validation against the chain
// view and in-pool zero-conf parents, then admission with priority
// eviction. It never mutates the pool on a rejecting path.
func (m *Mempool) Insert(ctx context.Context, tx *txtypes.Transaction) (StorageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(ctx, tx)
}

func (m *Mempool) insertLocked(ctx context.Context, tx *txtypes.Transaction) (StorageResponse, error) {
	sig := tx.PrimarySigKey()
	if m.unconfirmed.contains(sig) {
		return UnconfirmedPool, nil
	}
	if m.reorg.contains(sig) {
		return ReorgPool, nil
	}

	if err := tx.Validate(); err != nil {
		return NotStored, nil
	}
	if tx.Weight() > m.maxTxWeight {
		return NotStored, nil
	}

	deps, unpooled, doubleSpent := m.classifyInputs(tx, "")
	if doubleSpent {
		return NotStoredAlreadySpent, nil
	}

	resp, err := m.validator.Validate(ctx, tx, m.chain, m.tip, unpooled)
	if err != nil {
		return NotStored, err
	}
	if resp != UnconfirmedPool {
		return resp, nil
	}

	e := newEntry(tx, 0)
	e.dependencies = deps
	// Admission past the cap evicts; keep the pool as it was so a
	// transaction that ends up evicting itself leaves it untouched.
	var saved *unconfirmedPool
	if m.unconfirmed.totalWeight+e.weight > m.maxUnconfirmedWeight {
		saved = m.unconfirmed.clone()
	}
	m.unconfirmed.insert(e)

	evicted := m.unconfirmed.evictLowestPriority(m.maxUnconfirmedWeight, "")
	for _, evSig := range evicted {
		if evSig == sig {
			if saved != nil {
				m.unconfirmed = saved
			}
			return NotStored, nil
		}
	}
	return UnconfirmedPool, nil
}

// classifyInputs splits tx's input commitments into zero-conf
// dependencies on already-Unconfirmed parents and commitments that must
// be checked against the chain. excludeSig lets re-validation of an
// entry already present in the pool ignore its own prior bookkeeping.
func (m *Mempool) classifyInputs(tx *txtypes.Transaction, excludeSig txtypes.SigKey) (deps map[txtypes.SigKey]struct{}, unpooled []txtypes.Commitment, doubleSpent bool) {
	deps = make(map[txtypes.SigKey]struct{})
	for _, c := range tx.InputCommitments() {
		if spender, ok := m.unconfirmed.findDoubleSpender(c); ok && spender != excludeSig {
			return nil, nil, true
		}
		if parent, ok := m.unconfirmed.findParent(c); ok && parent != excludeSig {
			deps[parent] = struct{}{}
			continue
		}
		unpooled = append(unpooled, c)
	}
	return deps, unpooled, false
}

// ProcessPublishedBlock moves every Unconfirmed entry matching a block
// kernel signature into the Reorg pool, sweeps Unconfirmed for entries
// double-spent by the block, and advances the tip. Block events must be
// applied in height order; an out-of-order call returns a StateError and
// leaves the pool unchanged.
func (m *Mempool) ProcessPublishedBlock(ctx context.Context, block *txtypes.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processPublishedBlockLocked(block)
}

func (m *Mempool) processPublishedBlockLocked(block *txtypes.Block) error {
	if block.Header.Height != m.tip+1 {
		return stateError("process_published_block", fmt.Errorf("expected height %d, got %d", m.tip+1, block.Header.Height))
	}

	for _, sig := range block.KernelSignatures() {
		if e, ok := m.unconfirmed.remove(sig); ok {
			m.reorg.insert(e.tx, block.Header.Height)
		}
	}

	spent := make(map[string]struct{}, len(block.SpentCommitments()))
	for _, c := range block.SpentCommitments() {
		spent[c.Hex()] = struct{}{}
	}
	for _, e := range m.unconfirmed.all() {
		for _, c := range e.tx.InputCommitments() {
			if _, ok := spent[c.Hex()]; ok {
				m.unconfirmed.remove(e.sig)
				break
			}
		}
	}

	m.tip = block.Header.Height
	return nil
}

// ProcessReorg rewinds removed blocks newest-first, re-admitting their
// transactions to Unconfirmed where they still validate, then applies
// added blocks as process_published_block, then drops any Unconfirmed
// entry that the new tip renders time-locked or double-spent. The whole
// operation runs under the pool's exclusive lock and leaves the pool in
// either the pre- or the fully post-reorg state: on any error -- a
// chain view failure mid-revalidation, an out-of-order added block --
// the pre-reorg pools and tip are restored wholesale, so the caller can
// retry the whole event later.
func (m *Mempool) ProcessReorg(ctx context.Context, removed, added []*txtypes.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	savedUnconfirmed, savedReorg, savedTip := m.unconfirmed.clone(), m.reorg.clone(), m.tip
	if err := m.processReorgLocked(ctx, removed, added); err != nil {
		m.unconfirmed, m.reorg, m.tip = savedUnconfirmed, savedReorg, savedTip
		return err
	}
	return nil
}

func (m *Mempool) processReorgLocked(ctx context.Context, removed, added []*txtypes.Block) error {
	for i := len(removed) - 1; i >= 0; i-- {
		b := removed[i]
		if b.Header.Height != m.tip {
			return stateError("process_reorg", fmt.Errorf("expected to remove height %d, got %d", m.tip, b.Header.Height))
		}
		m.tip--

		for _, re := range m.reorg.entriesAtHeight(b.Header.Height) {
			sig := re.tx.PrimarySigKey()
			m.reorg.remove(sig)

			deps, unpooled, doubleSpent := m.classifyInputs(re.tx, sig)
			if doubleSpent {
				continue
			}
			resp, err := m.validator.Validate(ctx, re.tx, m.chain, m.tip, unpooled)
			if err != nil {
				return dependencyError("process_reorg", err)
			}
			if resp != UnconfirmedPool {
				continue
			}
			ne := newEntry(re.tx, 0)
			ne.dependencies = deps
			m.unconfirmed.insert(ne)
		}
	}

	for _, b := range added {
		if err := m.processPublishedBlockLocked(b); err != nil {
			return err
		}
	}

	for _, e := range m.unconfirmed.all() {
		if e.tx.LockHeight() > m.tip+1 {
			m.unconfirmed.remove(e.sig)
			continue
		}
		if _, _, doubleSpent := m.classifyInputs(e.tx, e.sig); doubleSpent {
			m.unconfirmed.remove(e.sig)
		}
	}

	return nil
}

// Retrieve fills a notional block of at most targetWeight, walking
// Unconfirmed entries in descending fee-per-gram (insertion-order
// tie-break). A candidate whose unselected ancestor chain would overflow
// the budget is skipped as a whole unit, never partially -- the returned
// set is always a valid, topologically sorted block prefix.
func (m *Mempool) Retrieve(targetWeight uint64) []*txtypes.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	selected := make(map[txtypes.SigKey]*entry)
	var order []txtypes.SigKey
	var selectedWeight uint64

	for _, e := range m.unconfirmed.sortedDescending() {
		if _, ok := selected[e.sig]; ok {
			continue
		}
		chain, chainWeight, ok := m.dependencyChain(e, selected)
		if !ok || selectedWeight+chainWeight > targetWeight {
			continue
		}
		for _, c := range chain {
			selected[c.sig] = c
			order = append(order, c.sig)
		}
		selectedWeight += chainWeight
	}

	out := make([]*txtypes.Transaction, 0, len(order))
	for _, sig := range order {
		out = append(out, selected[sig].tx)
	}
	return out
}

// dependencyChain returns start plus every not-yet-selected ancestor it
// depends on, in parent-first order, along with their combined weight.
func (m *Mempool) dependencyChain(start *entry, selected map[txtypes.SigKey]*entry) ([]*entry, uint64, bool) {
	visited := make(map[txtypes.SigKey]bool)
	var chain []*entry
	var weight uint64

	var visit func(e *entry) bool
	visit = func(e *entry) bool {
		if _, ok := selected[e.sig]; ok {
			return true
		}
		if visited[e.sig] {
			return true
		}
		visited[e.sig] = true
		for dep := range e.dependencies {
			parent, ok := m.unconfirmed.get(dep)
			if !ok {
				continue
			}
			if !visit(parent) {
				return false
			}
		}
		chain = append(chain, e)
		weight += e.weight
		return true
	}

	if !visit(start) {
		return nil, 0, false
	}
	return chain, weight, true
}

// HasTxWithExcessSig reports which pool, if any, holds sig.
func (m *Mempool) HasTxWithExcessSig(sig txtypes.SigKey) StorageResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unconfirmed.contains(sig) {
		return UnconfirmedPool
	}
	if m.reorg.contains(sig) {
		return ReorgPool
	}
	return NotStored
}

// Snapshot returns every Unconfirmed transaction as of the call.
// Repeated calls observe a fresh, consistent state each time.
func (m *Mempool) Snapshot() []*txtypes.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.unconfirmed.all()
	out := make([]*txtypes.Transaction, 0, len(all))
	for _, e := range all {
		out = append(out, e.tx)
	}
	return out
}

// Stats reports pool sizes and total Unconfirmed weight.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := uint64(m.unconfirmed.len())
	r := uint64(m.reorg.len())
	return Stats{
		TotalTxs:       u + r,
		UnconfirmedTxs: u,
		ReorgTxs:       r,
		TotalWeight:    m.unconfirmed.totalWeight,
	}
}

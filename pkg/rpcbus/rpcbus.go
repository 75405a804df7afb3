// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package rpcbus provides the request/response channel pattern the
// mempool actor uses to answer queries (get_stats, get_tx_state) without
// ever being touched from outside its own goroutine. A caller builds a
// Request, registers to a Topic-keyed channel, and blocks on RespChan
// until the owning actor replies.
package rpcbus

import (
	"errors"
	"sync"
)

// Topic identifies a registered request channel.
type Topic string

// Well-known topics the mempool registers on construction.
const (
	GetMempoolTxs   Topic = "mempool.get_txs"
	SendMempoolTx   Topic = "mempool.send_tx"
	GetMempoolStats Topic = "mempool.get_stats"
	GetTxState      Topic = "mempool.get_tx_state"
)

// Request carries an arbitrary parameter payload and a reply channel.
// RespChan always has capacity 1 so the owning actor's reply never
// blocks on a caller that has stopped listening.
type Request struct {
	Params   interface{}
	RespChan chan Response
}

// Response carries a result payload or an error, never both meaningfully
// populated.
type Response struct {
	Result interface{}
	Err    error
}

// NewRequest builds a Request with a ready-to-receive reply channel.
func NewRequest(params interface{}) Request {
	return Request{Params: params, RespChan: make(chan Response, 1)}
}

// ErrNotRegistered is returned by Call when no handler is registered for
// the requested topic.
var ErrNotRegistered = errors.New("rpcbus: no handler registered for topic")

// RPCBus routes Requests to the channel registered for their Topic.
type RPCBus struct {
	mu       sync.RWMutex
	registry map[Topic]chan Request
}

// New creates an empty RPCBus.
func New() *RPCBus {
	return &RPCBus{registry: make(map[Topic]chan Request)}
}

// Register associates topic with the channel an owning actor reads
// requests from. Only one registrant per topic is supported -- this
// mirrors the mempool's single-owner-per-pool-state discipline.
func (b *RPCBus) Register(topic Topic, ch chan Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry[topic] = ch
}

// Unregister removes topic's registration, typically called from the
// owning actor's shutdown path.
func (b *RPCBus) Unregister(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registry, topic)
}

// Call sends req to topic's registered channel and blocks for a reply.
// Cancellation is implicit: if ctx-equivalent cancellation is needed the
// caller should instead select on req.RespChan and its own timer,
// discarding the reply if it loses the race.
func (b *RPCBus) Call(topic Topic, req Request) (Response, error) {
	b.mu.RLock()
	ch, ok := b.registry[topic]
	b.mu.RUnlock()
	if !ok {
		return Response{}, ErrNotRegistered
	}
	ch <- req
	return <-req.RespChan, nil
}

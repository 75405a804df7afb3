// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package eventbus is a topic-keyed broadcast fan-out: every subscriber
// gets its own buffered channel, and a slow subscriber drops its oldest
// buffered event rather than ever blocking the publisher. This is the
// shape the connectivity manager needs for its event stream.
package eventbus

import (
	"sync"
	"sync/atomic"

	lg "github.com/sirupsen/logrus"
)

var logEB = lg.WithFields(lg.Fields{"prefix": "eventbus"})

// Topic identifies a broadcast channel.
type Topic string

var subscriptionCounter uint32

// Subscription is a handle returned by Bus.Subscribe. Unsubscribe with
// Bus.Unsubscribe(topic, subscription.ID).
type Subscription struct {
	ID uint32
	C  <-chan interface{}
}

type subscriber struct {
	id uint32
	ch chan interface{}
}

// Bus is a broadcast publish/subscribe bus. Zero value is not usable;
// construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*subscriber
	bufferSize  int
}

// New creates a Bus whose per-subscriber channels are buffered to
// bufferSize events. A buffer of 0 falls back to 1, since a zero-length
// buffered channel would make every publish synchronous with the
// subscriber, violating the "never block publication" invariant.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Bus{
		subscribers: make(map[Topic][]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new listener on topic. The subscriber only
// receives events published after Subscribe returns -- subscribers opt
// in at subscription time, they never see backlog.
func (b *Bus) Subscribe(topic Topic) Subscription {
	id := atomic.AddUint32(&subscriptionCounter, 1)
	sub := &subscriber{id: id, ch: make(chan interface{}, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	return Subscription{ID: id, C: sub.ch}
}

// Unsubscribe removes the subscription identified by id from topic.
func (b *Bus) Unsubscribe(topic Topic, id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			logEB.WithFields(lg.Fields{"topic": topic, "id": id}).Traceln("unsubscribed")
			return
		}
	}
}

// Publish fans event out to every current subscriber of topic. A
// subscriber whose buffer is full has its oldest event dropped to make
// room -- publication itself never blocks.
func (b *Bus) Publish(topic Topic, event interface{}) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports how many listeners are currently registered
// for topic, mainly useful in tests.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

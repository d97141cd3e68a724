// Package fanout delivers events to subscribers attached to named topics.
package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maauso/mediaflow/internal/events"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Delivery is one event as seen by a subscriber.
type Delivery struct {
	Topic string
	Event events.Event
}

// Observer receives broker activity, typically for metrics.
type Observer interface {
	EventPublished(name string, delivered int)
	EventDropped(name string)
	SubscribersChanged(active int)
}

type nopObserver struct{}

func (nopObserver) EventPublished(string, int) {}
func (nopObserver) EventDropped(string) {}
func (nopObserver) SubscribersChanged(int) {}

// Subscriber is one consumer, usually one real-time connection.
// Its topic set and channel are guarded by the broker lock.
type Subscriber struct {
	id      uint64
	ch      chan Delivery
	topics  map[string]struct{}
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive side of the subscriber queue.
// The channel is closed when the subscriber is closed.
func (s *Subscriber) Events() <-chan Delivery {
	return s.ch
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Broker routes published events to attached subscribers.
// Publishing never blocks: a subscriber whose queue is full misses the event.
type Broker struct {
	mu         sync.RWMutex
	topics     map[string]map[*Subscriber]struct{}
	subs       map[*Subscriber]struct{}
	nextID     uint64
	bufferSize int
	observer   Observer
	logger     *slog.Logger
}

// NewBroker creates a new Broker. bufferSize <= 0 uses DefaultBufferSize.
func NewBroker(bufferSize int, observer Observer, logger *slog.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		topics:     make(map[string]map[*Subscriber]struct{}),
		subs:       make(map[*Subscriber]struct{}),
		bufferSize: bufferSize,
		observer:   observer,
		logger:     logger,
	}
}

// Subscribe registers a new subscriber with no topics.
func (b *Broker) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		id:     b.nextID,
		ch:     make(chan Delivery, b.bufferSize),
		topics: make(map[string]struct{}),
	}
	b.subs[sub] = struct{}{}
	b.observer.SubscribersChanged(len(b.subs))
	return sub
}

// Attach adds topic to the subscriber. It reports false if the subscriber was
// already attached or has been closed; attaching twice never duplicates delivery.
func (b *Broker) Attach(sub *Subscriber, topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return false
	}
	if _, ok := sub.topics[topic]; ok {
		return false
	}

	room, ok := b.topics[topic]
	if !ok {
		room = make(map[*Subscriber]struct{})
		b.topics[topic] = room
	}
	room[sub] = struct{}{}
	sub.topics[topic] = struct{}{}

	b.logger.Debug("subscriber attached",
		slog.Uint64("subscriber", sub.id),
		slog.String("topic", topic),
		slog.Int("topic_subscribers", len(room)),
	)
	return true
}

// Detach removes topic from the subscriber. Unknown topics are ignored.
func (b *Broker) Detach(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(sub, topic)
}

// Close detaches the subscriber from every topic and closes its queue.
// Close is idempotent.
func (b *Broker) Close(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	for topic := range sub.topics {
		b.detachLocked(sub, topic)
	}
	sub.closed = true
	close(sub.ch)
	delete(b.subs, sub)
	b.observer.SubscribersChanged(len(b.subs))
}

func (b *Broker) detachLocked(sub *Subscriber, topic string) {
	delete(sub.topics, topic)
	room, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(b.topics, topic)
	}
}

// Publish delivers e to every subscriber attached to any of topics, at most once
// per subscriber. It returns the number of subscribers that received the event.
func (b *Broker) Publish(e events.Event, topics ...string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	name := e.Name()
	delivered := 0
	var seen map[*Subscriber]struct{}
	if len(topics) > 1 {
		seen = make(map[*Subscriber]struct{})
	}

	for _, topic := range topics {
		for sub := range b.topics[topic] {
			if seen != nil {
				if _, dup := seen[sub]; dup {
					continue
				}
				seen[sub] = struct{}{}
			}
			select {
			case sub.ch <- Delivery{Topic: topic, Event: e}:
				delivered++
			default:
				sub.dropped.Add(1)
				b.observer.EventDropped(name)
				b.logger.Warn("subscriber queue full, event dropped",
					slog.Uint64("subscriber", sub.id),
					slog.String("topic", topic),
					slog.String("event", name),
				)
			}
		}
	}

	b.observer.EventPublished(name, delivered)
	return delivered
}

// Subscribers returns the number of open subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// TopicSize returns the number of subscribers attached to topic.
func (b *Broker) TopicSize(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Package events provides the lifecycle notification bus for the pipeline.
// Topics are named channels; any number of collaborators may subscribe.
// Delivery order matches emission order, and a stalled or failed subscriber
// never affects the emitter.
package events

import (
	"sync"
	"time"

	"github.com/chainhound/chainhound/internal/core"
)

// Topic names a lifecycle event channel.
type Topic string

const (
	TopicQueued        Topic = "opportunity.queued"
	TopicExecuting     Topic = "opportunity.executing"
	TopicExecuted      Topic = "opportunity.executed"
	TopicFailed        Topic = "opportunity.failed"
	TopicDiscarded     Topic = "opportunity.discarded"
	TopicConfigUpdated Topic = "config.updated"
)

// Event is a single lifecycle notification.
type Event struct {
	Topic       Topic                 `json:"topic"`
	Opportunity *core.Opportunity     `json:"opportunity,omitempty"`
	Result      *core.ExecutionResult `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
	At          time.Time             `json:"at"`
}

// Bus fans events out to subscribers. Each subscriber drains its own
// ordered queue on a dedicated goroutine, so Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]*subscriber
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	out     chan Event
	done    chan struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*subscriber)}
}

// Subscribe registers interest in the given topics and returns the event
// channel plus a cancel function. Subscribing to no topics subscribes to
// nothing.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], sub)
	}
	b.mu.Unlock()

	go sub.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.remove(sub, topics)
			close(sub.done)
		})
	}
	return sub.out, cancel
}

// Publish emits an event to every subscriber of its topic.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := b.subs[event.Topic]
	for _, sub := range targets {
		sub.enqueue(event)
	}
	b.mu.Unlock()
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*subscriber]bool)
	for _, subs := range b.subs {
		for _, sub := range subs {
			if !seen[sub] {
				seen[sub] = true
				close(sub.done)
			}
		}
	}
	b.subs = make(map[Topic][]*subscriber)
	b.mu.Unlock()
}

func (b *Bus) remove(target *subscriber, topics []Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub == target {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (s *subscriber) enqueue(event Event) {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, event := range pending {
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

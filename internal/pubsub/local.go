package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// localSubscriber is a single subscriber with its channel and closed state.
type localSubscriber struct {
	ch     chan Message
	closed bool
	mu     sync.Mutex
}

// send attempts to deliver a message to the subscriber.
// Returns false if the subscriber is closed or its channel is full.
func (s *localSubscriber) send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- msg:
		return true
	default:
		// Channel full, skip
		return false
	}
}

func (s *localSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// LocalPubSub implements PubSub for single-instance deployments.
// Messages are only delivered within the same process, with zero external
// infrastructure. It is also the backend used by tests.
type LocalPubSub struct {
	subscribers map[string][]*localSubscriber
	mu          sync.RWMutex
	dropped     atomic.Uint64
}

// NewLocalPubSub creates a new in-process pub/sub.
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{
		subscribers: make(map[string][]*localSubscriber),
	}
}

// Publish sends a message to all local subscribers of a topic.
func (l *LocalPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	l.mu.RLock()
	// Copy the slice to avoid holding the lock during sends
	subs := make([]*localSubscriber, len(l.subscribers[topic]))
	copy(subs, l.subscribers[topic])
	l.mu.RUnlock()

	msg := Message{
		Topic:   topic,
		Payload: payload,
	}

	for _, sub := range subs {
		if !sub.send(msg) {
			l.dropped.Add(1)
		}
	}

	return nil
}

// Dropped returns how many messages could not be handed to a subscriber.
func (l *LocalPubSub) Dropped() uint64 {
	return l.dropped.Load()
}

// Subscribe returns a channel that receives messages published to the topic.
func (l *LocalPubSub) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	sub := &localSubscriber{
		ch: make(chan Message, 100),
	}

	l.mu.Lock()
	l.subscribers[topic] = append(l.subscribers[topic], sub)
	l.mu.Unlock()

	// Remove subscription when context is cancelled
	go func() {
		<-ctx.Done()
		l.unsubscribe(topic, sub)
	}()

	return sub.ch, nil
}

func (l *LocalPubSub) unsubscribe(topic string, sub *localSubscriber) {
	l.mu.Lock()
	subs := l.subscribers[topic]
	for i, s := range subs {
		if s == sub {
			l.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	// Close outside the lock to avoid potential deadlock
	sub.close()
}

// Close releases all resources.
func (l *LocalPubSub) Close() error {
	l.mu.Lock()
	allSubs := make([]*localSubscriber, 0)
	for _, subs := range l.subscribers {
		allSubs = append(allSubs, subs...)
	}
	l.subscribers = make(map[string][]*localSubscriber)
	l.mu.Unlock()

	for _, sub := range allSubs {
		sub.close()
	}

	return nil
}

package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/observability"
)

// DefaultKeepaliveInterval is how often idle connections get a heartbeat
// frame when no interval is configured.
const DefaultKeepaliveInterval = 30 * time.Second

// Subscriber is the slice of the bus the registry drives: broker interest
// tracking for the topics that currently have local viewers.
type Subscriber interface {
	Subscribe(topic string) error
	Unsubscribe(topic string)
}

// Registry tracks the live push connections held by this process, keyed by
// topic, and writes fanned-out events to them.
//
// It is the hot shared structure of the core, mutated by attach requests,
// transport-close callbacks and broadcast delivery at once. The registry
// map is guarded by a short-lived lock; each topic's member set has its own
// lock, so traffic on one thread never serializes behind another's.
type Registry struct {
	bus       Subscriber
	keepalive time.Duration
	metrics   *observability.Metrics

	mu     sync.RWMutex
	topics map[string]*topicConns
}

type topicConns struct {
	mu      sync.Mutex
	members map[string]*member
}

type member struct {
	conn          Conn
	stopKeepalive chan struct{}
}

// NewRegistry creates an empty registry. keepalive <= 0 falls back to
// DefaultKeepaliveInterval.
func NewRegistry(bus Subscriber, keepalive time.Duration) *Registry {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	return &Registry{
		bus:       bus,
		keepalive: keepalive,
		topics:    make(map[string]*topicConns),
	}
}

// SetBus wires the bus after construction. The bus needs the registry's
// Deliver as its sink and the registry needs the bus for subscriptions, so
// one side is attached late.
func (r *Registry) SetBus(bus Subscriber) {
	r.bus = bus
}

// SetMetrics sets the metrics instance for recording realtime gauges.
func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// Attach registers a connection under a topic. The first connection on a
// topic opens the broker subscription. The new connection synchronously
// receives the connected acknowledgement frame and then gets heartbeats at
// the keepalive interval until it detaches.
//
// The bus transition is tied to the topic group's lifecycle: creating a
// group subscribes exactly once, and Detach unsubscribes exactly once when
// it deletes the group. Both lifecycle steps happen under the registry
// lock, and a group never exists empty, so the subscribe and unsubscribe
// counts stay balanced no matter how attach and detach interleave.
func (r *Registry) Attach(topic string, conn Conn) error {
	m := &member{conn: conn, stopKeepalive: make(chan struct{})}

	r.mu.Lock()
	tc, ok := r.topics[topic]
	created := !ok
	if created {
		tc = &topicConns{members: make(map[string]*member)}
		r.topics[topic] = tc
	}
	tc.mu.Lock()
	tc.members[conn.ID()] = m
	tc.mu.Unlock()
	r.mu.Unlock()

	if created {
		if err := r.bus.Subscribe(topic); err != nil {
			// No broker means no cross-instance delivery, but the connection
			// is still served by locally published events. Degrade, don't
			// refuse.
			log.Error().Err(err).Str("topic", topic).Msg("Broker subscribe failed, live delivery degraded")
		}
	}

	if err := conn.Write(connectedFrame(topic)); err != nil {
		r.Detach(topic, conn)
		return err
	}

	go r.keepaliveLoop(topic, m)

	r.updateMetrics()
	log.Debug().Str("topic", topic).Str("connection_id", conn.ID()).Msg("Push connection attached")
	return nil
}

// Detach removes a connection from a topic and stops its keepalive. The
// last detach on a topic deletes the group and releases the broker
// subscription taken when the group was created. Safe to call multiple
// times; only the first has any effect.
func (r *Registry) Detach(topic string, conn Conn) {
	r.mu.Lock()
	tc := r.topics[topic]
	if tc == nil {
		r.mu.Unlock()
		return
	}

	tc.mu.Lock()
	m, ok := tc.members[conn.ID()]
	if ok {
		delete(tc.members, conn.ID())
	}
	// The emptiness check and the group deletion share the registry lock
	// with Attach's group creation, so a racing attach either lands in
	// this group before the check or creates a fresh group with its own
	// subscription afterwards.
	deleted := ok && len(tc.members) == 0
	if deleted {
		delete(r.topics, topic)
	}
	tc.mu.Unlock()
	r.mu.Unlock()

	if !ok {
		return
	}
	close(m.stopKeepalive)

	if deleted {
		r.bus.Unsubscribe(topic)
	}

	r.updateMetrics()
	log.Debug().Str("topic", topic).Str("connection_id", conn.ID()).Msg("Push connection detached")
}

// Deliver writes an event to every connection attached to a topic. A write
// failure on one connection detaches and closes that connection only;
// delivery to the rest always continues.
func (r *Registry) Deliver(topic string, env Envelope) {
	r.mu.RLock()
	tc := r.topics[topic]
	r.mu.RUnlock()
	if tc == nil {
		return
	}

	// Snapshot members so a detach during the writes cannot invalidate the
	// iteration.
	tc.mu.Lock()
	conns := make([]Conn, 0, len(tc.members))
	for _, m := range tc.members {
		conns = append(conns, m.conn)
	}
	tc.mu.Unlock()

	frame := env.Frame()
	for _, conn := range conns {
		if err := conn.Write(frame); err != nil {
			log.Warn().
				Err(err).
				Str("topic", topic).
				Str("connection_id", conn.ID()).
				Msg("Push write failed, evicting connection")
			if r.metrics != nil {
				r.metrics.RecordRealtimeError("write_failed")
			}
			r.Detach(topic, conn)
			_ = conn.Close()
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordRealtimeEvent(string(env.Event))
		}
	}
}

// keepaliveLoop writes heartbeat frames until the member detaches. A failed
// heartbeat means the connection is gone; evict it like any other failed
// write.
func (r *Registry) keepaliveLoop(topic string, m *member) {
	ticker := time.NewTicker(r.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopKeepalive:
			return
		case <-ticker.C:
			if err := m.conn.Write(heartbeatFrame); err != nil {
				r.Detach(topic, m.conn)
				_ = m.conn.Close()
				return
			}
		}
	}
}

// ConnectionCount returns the number of attached connections across topics.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, tc := range r.topics {
		tc.mu.Lock()
		total += len(tc.members)
		tc.mu.Unlock()
	}
	return total
}

// TopicCount returns the number of topics with at least one connection.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Shutdown closes every attached connection and releases all broker
// subscriptions. Called once on process termination.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	topics := r.topics
	r.topics = make(map[string]*topicConns)
	r.mu.Unlock()

	for topic, tc := range topics {
		tc.mu.Lock()
		for _, m := range tc.members {
			close(m.stopKeepalive)
			_ = m.conn.Close()
		}
		tc.members = make(map[string]*member)
		tc.mu.Unlock()

		r.bus.Unsubscribe(topic)
		log.Debug().Str("topic", topic).Msg("Topic drained during shutdown")
	}

	r.updateMetrics()
}

func (r *Registry) updateMetrics() {
	if r.metrics == nil {
		return
	}
	r.metrics.UpdateRealtimeStats(r.ConnectionCount(), r.TopicCount())
}

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// notifyChannel is the single PostgreSQL NOTIFY channel all topics are
// multiplexed over. Topics are dynamic (one per thread), while LISTEN wants a
// fixed channel set, so the topic travels inside the payload instead.
const notifyChannel = "threadwell_events"

// notifyMaxPayload is the PostgreSQL NOTIFY payload limit.
const notifyMaxPayload = 8000

type notifyEnvelope struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// PostgresPubSub implements PubSub on PostgreSQL LISTEN/NOTIFY. It lets a
// small multi-instance fleet fan events out without extra infrastructure,
// at the cost of the ~8KB NOTIFY payload limit.
type PostgresPubSub struct {
	pool        *pgxpool.Pool
	subscribers map[string][]chan Message
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	dropped     atomic.Uint64
}

// NewPostgresPubSub creates a PostgreSQL-backed pub/sub.
func NewPostgresPubSub(pool *pgxpool.Pool) *PostgresPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresPubSub{
		pool:        pool,
		subscribers: make(map[string][]chan Message),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the LISTEN loop. Safe to call more than once.
func (p *PostgresPubSub) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.listenLoop()

	log.Info().Msg("PostgreSQL pub/sub started")
	return nil
}

func (p *PostgresPubSub) listenLoop() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		conn, err := p.pool.Acquire(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Failed to acquire connection for pub/sub LISTEN")
			time.Sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(p.ctx, "LISTEN "+notifyChannel); err != nil {
			log.Error().Err(err).Msg("Failed to LISTEN on notify channel")
			conn.Release()
			time.Sleep(time.Second)
			continue
		}

		log.Debug().Msg("Listening for pub/sub notifications")

		for {
			ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
			notification, err := conn.Conn().WaitForNotification(ctx)
			cancel()

			if err != nil {
				if p.ctx.Err() != nil {
					conn.Release()
					return
				}
				// Timeout is expected; it just re-checks for shutdown.
				if ctx.Err() == context.DeadlineExceeded {
					continue
				}
				log.Error().Err(err).Msg("Error waiting for pub/sub notification")
				break // reconnect
			}

			var env notifyEnvelope
			if err := json.Unmarshal([]byte(notification.Payload), &env); err != nil {
				log.Error().Err(err).Msg("Malformed pub/sub notification payload")
				continue
			}
			p.deliver(Message{Topic: env.Topic, Payload: env.Payload})
		}

		conn.Release()
		time.Sleep(time.Second)
	}
}

func (p *PostgresPubSub) deliver(msg Message) {
	p.mu.RLock()
	subs := p.subscribers[msg.Topic]
	p.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			p.dropped.Add(1)
			log.Warn().Str("topic", msg.Topic).Msg("Pub/sub subscriber channel full, dropping message")
		}
	}
}

// Dropped returns how many messages could not be handed to a subscriber.
func (p *PostgresPubSub) Dropped() uint64 {
	return p.dropped.Load()
}

// Publish sends a message to all subscribers of a topic, fleet-wide.
func (p *PostgresPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	raw, err := json.Marshal(notifyEnvelope{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode notify payload: %w", err)
	}
	if len(raw) > notifyMaxPayload {
		return fmt.Errorf("payload too large for PostgreSQL NOTIFY: %d bytes (max %d)", len(raw), notifyMaxPayload)
	}

	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(raw)); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives messages published to the topic.
func (p *PostgresPubSub) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 100)

	p.mu.Lock()
	p.subscribers[topic] = append(p.subscribers[topic], ch)
	p.mu.Unlock()

	if err := p.Start(); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		p.unsubscribe(topic, ch)
	}()

	return ch, nil
}

func (p *PostgresPubSub) unsubscribe(topic string, ch chan Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close releases all resources and closes all subscriptions.
func (p *PostgresPubSub) Close() error {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	p.subscribers = make(map[string][]chan Message)

	log.Info().Msg("PostgreSQL pub/sub closed")
	return nil
}

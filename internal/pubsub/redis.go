package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPubSub implements PubSub on Redis pub/sub channels, one channel per
// topic. This is the production backend: Redis preserves per-channel publish
// order, which is what gives the bus its per-topic ordering guarantee.
//
// Messages are not persisted. A broker outage means no live delivery until
// reconnect; reconnecting clients re-sync from the paginated history API.
type RedisPubSub struct {
	client      *redis.Client
	subscribers map[string][]chan Message
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dropped     atomic.Uint64
}

// NewRedisPubSub connects to a Redis-compatible broker.
// url is in the format redis://[password@]host:port[/db].
func NewRedisPubSub(url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis broker for pub/sub")

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisPubSub{
		client:      client,
		subscribers: make(map[string][]chan Message),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Publish sends a message to all subscribers of a topic, fleet-wide.
func (r *RedisPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

// Subscribe returns a channel that receives messages published to the topic.
func (r *RedisPubSub) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 100)

	sub := r.client.Subscribe(r.ctx, topic)

	// Wait until the broker has acknowledged the subscription, so a publish
	// issued right after Subscribe returns cannot be missed.
	if _, err := sub.Receive(r.ctx); err != nil {
		close(ch)
		return nil, err
	}

	r.mu.Lock()
	r.subscribers[topic] = append(r.subscribers[topic], ch)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.unsubscribe(topic, ch)
			_ = sub.Close()
		}()

		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					r.dropped.Add(1)
					log.Warn().Str("topic", topic).Msg("Pub/sub subscriber channel full, dropping message")
				}
			}
		}
	}()

	return ch, nil
}

func (r *RedisPubSub) unsubscribe(topic string, ch chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			r.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Dropped returns how many messages could not be handed to a subscriber.
func (r *RedisPubSub) Dropped() uint64 {
	return r.dropped.Load()
}

// Close releases all resources and closes all subscriptions.
func (r *RedisPubSub) Close() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	for _, subs := range r.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	r.subscribers = make(map[string][]chan Message)
	r.mu.Unlock()

	err := r.client.Close()
	log.Info().Uint64("dropped", r.dropped.Load()).Msg("Redis pub/sub closed")
	return err
}

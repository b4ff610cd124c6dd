package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/pubsub"
)

// EventSink receives events the bus pulls off the broker for a topic this
// process is subscribed to. The registry's Deliver is the production sink.
type EventSink func(topic string, env Envelope)

// Bus is the process-wide event bus. It bridges the broker to local
// delivery: publishes are fire-and-forget, and broker subscriptions are
// reference-counted per topic so a popular thread with many local viewers
// costs one broker subscription, and a thread nobody watches costs none.
//
// The global topic is pinned at Start and survives any Unsubscribe.
type Bus struct {
	ps   pubsub.PubSub
	sink EventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	topics map[string]*topicSub
}

type topicSub struct {
	refs   int
	cancel context.CancelFunc
}

// NewBus creates a bus over the given broker, delivering inbound events to
// sink.
func NewBus(ctx context.Context, ps pubsub.PubSub, sink EventSink) *Bus {
	ctx, cancel := context.WithCancel(ctx)
	return &Bus{
		ps:     ps,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*topicSub),
	}
}

// Start pins the global topic subscription for the life of the process.
func (b *Bus) Start() error {
	return b.Subscribe(TopicGlobal)
}

// Publish sends an event to every process with a live subscription on the
// topic. It is best-effort: the state change behind the event is already
// durable, so a broker failure degrades live delivery and nothing else.
// Callers that must not fail on broker loss should log the returned error
// and move on; Broadcaster does exactly that.
func (b *Bus) Publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.ps.Publish(ctx, topic, payload)
}

// Subscribe registers local interest in a topic. The first interest opens
// the broker subscription and starts its pump; later ones only bump the
// refcount.
func (b *Bus) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.topics[topic]; ok {
		sub.refs++
		return nil
	}

	subCtx, cancel := context.WithCancel(b.ctx)
	ch, err := b.ps.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return err
	}

	b.topics[topic] = &topicSub{refs: 1, cancel: cancel}

	b.wg.Add(1)
	go b.pump(topic, ch)

	log.Debug().Str("topic", topic).Msg("Broker subscription opened")
	return nil
}

// Unsubscribe drops one local interest in a topic; the last drop closes the
// broker subscription. The global topic keeps the reference taken by Start,
// so it never reaches zero.
func (b *Bus) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.topics[topic]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}

	delete(b.topics, topic)
	sub.cancel()
	log.Debug().Str("topic", topic).Msg("Broker subscription closed")
}

// pump moves broker messages for one topic into the sink until the
// subscription closes. Malformed payloads are logged and skipped; the pump
// never dies because of one bad event.
func (b *Bus) pump(topic string, ch <-chan pubsub.Message) {
	defer b.wg.Done()

	for msg := range ch {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Dropping malformed bus event")
			continue
		}
		b.sink(topic, env)
	}
}

// Close tears down all subscriptions and waits for the pumps to drain.
func (b *Bus) Close() {
	b.cancel()

	b.mu.Lock()
	for topic, sub := range b.topics {
		sub.cancel()
		delete(b.topics, topic)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

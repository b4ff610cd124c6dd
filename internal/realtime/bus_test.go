package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwell-app/threadwell/internal/pubsub"
)

// countingPubSub records broker-level subscribe/unsubscribe activity so
// refcounting can be asserted.
type countingPubSub struct {
	mu           sync.Mutex
	subscribes   map[string]int
	unsubscribes map[string]int
	channels     map[string]chan pubsub.Message
}

func newCountingPubSub() *countingPubSub {
	return &countingPubSub{
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		channels:     make(map[string]chan pubsub.Message),
	}
}

func (c *countingPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	ch := c.channels[topic]
	c.mu.Unlock()
	if ch != nil {
		ch <- pubsub.Message{Topic: topic, Payload: payload}
	}
	return nil
}

func (c *countingPubSub) Subscribe(ctx context.Context, topic string) (<-chan pubsub.Message, error) {
	c.mu.Lock()
	c.subscribes[topic]++
	ch := make(chan pubsub.Message, 16)
	c.channels[topic] = ch
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.unsubscribes[topic]++
		if c.channels[topic] == ch {
			delete(c.channels, topic)
		}
		c.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (c *countingPubSub) Close() error { return nil }

func (c *countingPubSub) subscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes[topic]
}

func (c *countingPubSub) unsubscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes[topic]
}

func TestBus_RefcountedSubscribe(t *testing.T) {
	ps := newCountingPubSub()
	bus := NewBus(context.Background(), ps, func(string, Envelope) {})
	defer bus.Close()

	topic := ThreadTopic("t1")
	require.NoError(t, bus.Subscribe(topic))
	require.NoError(t, bus.Subscribe(topic))
	require.NoError(t, bus.Subscribe(topic))

	// Three local interests, one broker subscription.
	assert.Equal(t, 1, ps.subscribeCount(topic))

	bus.Unsubscribe(topic)
	bus.Unsubscribe(topic)
	assert.Equal(t, 0, ps.unsubscribeCount(topic))

	bus.Unsubscribe(topic)
	assert.Eventually(t, func() bool {
		return ps.unsubscribeCount(topic) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBus_ResubscribeAfterRelease(t *testing.T) {
	ps := newCountingPubSub()
	bus := NewBus(context.Background(), ps, func(string, Envelope) {})
	defer bus.Close()

	topic := ThreadTopic("t1")
	require.NoError(t, bus.Subscribe(topic))
	bus.Unsubscribe(topic)
	require.NoError(t, bus.Subscribe(topic))

	assert.Equal(t, 2, ps.subscribeCount(topic))
}

func TestBus_GlobalTopicPinned(t *testing.T) {
	ps := newCountingPubSub()
	bus := NewBus(context.Background(), ps, func(string, Envelope) {})
	defer bus.Close()

	require.NoError(t, bus.Start())

	// A paired subscribe/unsubscribe must not release the pinned global
	// subscription.
	require.NoError(t, bus.Subscribe(TopicGlobal))
	bus.Unsubscribe(TopicGlobal)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, ps.subscribeCount(TopicGlobal))
	assert.Equal(t, 0, ps.unsubscribeCount(TopicGlobal))
}

func TestBus_PublishReachesSink(t *testing.T) {
	ps := newCountingPubSub()

	var mu sync.Mutex
	var got []Envelope
	sink := func(topic string, env Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	}

	bus := NewBus(context.Background(), ps, sink)
	defer bus.Close()

	topic := ThreadTopic("t1")
	require.NoError(t, bus.Subscribe(topic))

	env := NewEnvelope(EventMessage, map[string]string{"text": "hello"})
	require.NoError(t, bus.Publish(context.Background(), topic, env))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Event == EventMessage
	}, time.Second, 10*time.Millisecond)
}

func TestBus_MalformedPayloadSkipped(t *testing.T) {
	ps := newCountingPubSub()

	var mu sync.Mutex
	var got []Envelope
	bus := NewBus(context.Background(), ps, func(topic string, env Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})
	defer bus.Close()

	topic := ThreadTopic("t1")
	require.NoError(t, bus.Subscribe(topic))

	require.NoError(t, ps.Publish(context.Background(), topic, []byte("not json")))
	require.NoError(t, bus.Publish(context.Background(), topic, NewEnvelope(EventMessage, nil)))

	// The well-formed event arrives even though a malformed one preceded it.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBus_CloseStopsPumps(t *testing.T) {
	ps := newCountingPubSub()
	bus := NewBus(context.Background(), ps, func(string, Envelope) {})

	require.NoError(t, bus.Subscribe(ThreadTopic("t1")))
	require.NoError(t, bus.Subscribe(ThreadTopic("t2")))

	done := make(chan struct{})
	go func() {
		bus.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain pumps")
	}
}

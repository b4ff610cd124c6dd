package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	failAt int // fail writes once this many frames were accepted; -1 never
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, failAt: -1}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt >= 0 && len(c.frames) >= c.failAt {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) frameCountLocked() int { return len(c.frames) }

func (c *fakeConn) lastFrame() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return ""
	}
	return string(c.frames[len(c.frames)-1])
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeBus struct {
	mu           sync.Mutex
	subscribes   map[string]int
	unsubscribes map[string]int
	subscribeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
	}
}

func (b *fakeBus) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.subscribes[topic]++
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes[topic]++
}

func (b *fakeBus) counts(topic string) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes[topic], b.unsubscribes[topic]
}

func TestRegistry_AttachSendsConnectedFrame(t *testing.T) {
	reg := NewRegistry(newFakeBus(), time.Hour)
	conn := newFakeConn("c1")

	require.NoError(t, reg.Attach(ThreadTopic("t1"), conn))
	defer reg.Detach(ThreadTopic("t1"), conn)

	require.Equal(t, 1, conn.frameCount())
	assert.Equal(t, "event: connected\ndata: {\"threadId\":\"t1\"}\n\n", conn.lastFrame())
}

func TestRegistry_FirstAttachOpensSubscription(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)
	topic := ThreadTopic("t1")

	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")
	require.NoError(t, reg.Attach(topic, c1))
	require.NoError(t, reg.Attach(topic, c2))

	subs, unsubs := bus.counts(topic)
	assert.Equal(t, 1, subs)
	assert.Equal(t, 0, unsubs)

	reg.Detach(topic, c1)
	subs, unsubs = bus.counts(topic)
	assert.Equal(t, 0, unsubs)

	reg.Detach(topic, c2)
	subs, unsubs = bus.counts(topic)
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs)
}

func TestRegistry_DeliverFansOutToTopicOnly(t *testing.T) {
	reg := NewRegistry(newFakeBus(), time.Hour)

	a1 := newFakeConn("a1")
	a2 := newFakeConn("a2")
	b1 := newFakeConn("b1")
	require.NoError(t, reg.Attach(ThreadTopic("a"), a1))
	require.NoError(t, reg.Attach(ThreadTopic("a"), a2))
	require.NoError(t, reg.Attach(ThreadTopic("b"), b1))

	env := NewEnvelope(EventMessage, map[string]string{"text": "hi"})
	reg.Deliver(ThreadTopic("a"), env)

	// connected frame plus the delivered event
	assert.Equal(t, 2, a1.frameCount())
	assert.Equal(t, 2, a2.frameCount())
	assert.Equal(t, 1, b1.frameCount())
	assert.Equal(t, string(env.Frame()), a1.lastFrame())
}

func TestRegistry_DeliverUnknownTopicIsNoop(t *testing.T) {
	reg := NewRegistry(newFakeBus(), time.Hour)
	reg.Deliver(ThreadTopic("ghost"), NewEnvelope(EventMessage, nil))
}

func TestRegistry_WriteFailureEvictsOnlyThatConn(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)
	topic := ThreadTopic("t1")

	healthy := newFakeConn("healthy")
	broken := newFakeConn("broken")
	require.NoError(t, reg.Attach(topic, healthy))
	require.NoError(t, reg.Attach(topic, broken))
	broken.mu.Lock()
	broken.failAt = broken.frameCountLocked()
	broken.mu.Unlock()

	reg.Deliver(topic, NewEnvelope(EventMessage, nil))

	assert.True(t, broken.isClosed())
	assert.False(t, healthy.isClosed())
	assert.Equal(t, 2, healthy.frameCount())
	assert.Equal(t, 1, reg.ConnectionCount())

	// The healthy member keeps the subscription alive.
	_, unsubs := bus.counts(topic)
	assert.Equal(t, 0, unsubs)

	reg.Deliver(topic, NewEnvelope(EventReaction, nil))
	assert.Equal(t, 3, healthy.frameCount())
}

func TestRegistry_AttachWriteFailureRollsBack(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)
	topic := ThreadTopic("t1")

	broken := newFakeConn("broken")
	broken.failAt = 0

	err := reg.Attach(topic, broken)
	require.Error(t, err)
	assert.Equal(t, 0, reg.ConnectionCount())

	// Subscription opened by the doomed attach is released again.
	subs, unsubs := bus.counts(topic)
	assert.Equal(t, subs, unsubs)
}

func TestRegistry_KeepaliveHeartbeats(t *testing.T) {
	reg := NewRegistry(newFakeBus(), 10*time.Millisecond)
	conn := newFakeConn("c1")
	topic := ThreadTopic("t1")

	require.NoError(t, reg.Attach(topic, conn))
	defer reg.Detach(topic, conn)

	assert.Eventually(t, func() bool {
		return conn.frameCount() >= 3 && conn.lastFrame() == string(heartbeatFrame)
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_KeepaliveFailureEvicts(t *testing.T) {
	reg := NewRegistry(newFakeBus(), 10*time.Millisecond)
	conn := newFakeConn("c1")
	topic := ThreadTopic("t1")

	require.NoError(t, reg.Attach(topic, conn))
	conn.mu.Lock()
	conn.failAt = conn.frameCountLocked()
	conn.mu.Unlock()

	assert.Eventually(t, func() bool {
		return conn.isClosed() && reg.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_DetachIdempotent(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)
	topic := ThreadTopic("t1")
	conn := newFakeConn("c1")

	require.NoError(t, reg.Attach(topic, conn))
	reg.Detach(topic, conn)
	reg.Detach(topic, conn)
	reg.Detach("never-seen", conn)

	_, unsubs := bus.counts(topic)
	assert.Equal(t, 1, unsubs)
}

func TestRegistry_Shutdown(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)

	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")
	require.NoError(t, reg.Attach(ThreadTopic("a"), c1))
	require.NoError(t, reg.Attach(ThreadTopic("b"), c2))

	reg.Shutdown()

	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.Equal(t, 0, reg.ConnectionCount())
	assert.Equal(t, 0, reg.TopicCount())

	_, unsubsA := bus.counts(ThreadTopic("a"))
	_, unsubsB := bus.counts(ThreadTopic("b"))
	assert.Equal(t, 1, unsubsA)
	assert.Equal(t, 1, unsubsB)
}

func TestRegistry_ConcurrentAttachDetach(t *testing.T) {
	reg := NewRegistry(newFakeBus(), time.Hour)
	topic := ThreadTopic("t1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := newFakeConn(uuidLike(n))
			if err := reg.Attach(topic, conn); err != nil {
				return
			}
			reg.Deliver(topic, NewEnvelope(EventMessage, nil))
			reg.Detach(topic, conn)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.ConnectionCount())
}

func uuidLike(n int) string {
	return string(rune('a' + n%26))
}

// Attach/detach churn on one topic must keep the bus balanced: each group
// creation pairs with exactly one release, so the broker subscription can
// neither leak nor be torn down while members remain.
func TestRegistry_SubscriptionBalanceUnderChurn(t *testing.T) {
	bus := newFakeBus()
	reg := NewRegistry(bus, time.Hour)
	topic := ThreadTopic("t1")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				conn := newFakeConn(fmt.Sprintf("c%d-%d", g, i))
				if err := reg.Attach(topic, conn); err != nil {
					continue
				}
				reg.Detach(topic, conn)
			}
		}(g)
	}
	wg.Wait()

	subs, unsubs := bus.counts(topic)
	assert.Positive(t, subs)
	assert.Equal(t, subs, unsubs)
	assert.Equal(t, 0, reg.ConnectionCount())
	assert.Equal(t, 0, reg.TopicCount())
}

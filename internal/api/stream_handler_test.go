package api

import (
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/realtime"
)

// closingRegistry writes frames on attach and immediately closes the
// connection so the streamed response terminates and can be read in full.
type closingRegistry struct {
	mu       sync.Mutex
	topics   []string
	frames   [][]byte
	detached []string
}

func (r *closingRegistry) Attach(topic string, conn realtime.Conn) error {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	frames := r.frames
	r.mu.Unlock()

	for _, frame := range frames {
		if err := conn.Write(frame); err != nil {
			return err
		}
	}
	return conn.Close()
}

func (r *closingRegistry) Detach(topic string, conn realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, topic)
}

func (r *closingRegistry) attachedTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func newStreamApp(store *fakeThreadStore, registry *closingRegistry) *fiber.App {
	app := fiber.New()
	verifier := &fakeVerifier{token: testToken, userID: "u1", username: "ada"}
	handler := NewStreamHandler(store, registry, 16)
	authed := AuthMiddleware(verifier)
	app.Get("/api/threads/stream", authed, handler.Stream)
	app.Get("/api/threads/:id/messages/stream", authed, handler.Stream)
	return app
}

func TestStreamHandler_UnknownThread(t *testing.T) {
	app := newStreamApp(newFakeThreadStore(), &closingRegistry{})

	req := httptest.NewRequest("GET", "/api/threads/stream?threadId=ghost&token="+testToken, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestStreamHandler_GlobalTopicByDefault(t *testing.T) {
	registry := &closingRegistry{}
	app := newStreamApp(newFakeThreadStore(), registry)

	req := httptest.NewRequest("GET", "/api/threads/stream?token="+testToken, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, []string{realtime.TopicGlobal}, registry.attachedTopics())
}

func TestStreamHandler_ThreadTopicAndFrames(t *testing.T) {
	registry := &closingRegistry{frames: [][]byte{
		[]byte("event: connected\ndata: {\"threadId\":\"t1\"}\n\n"),
		[]byte("event: message\ndata: {\"text\":\"hi\"}\n\n"),
	}}
	store := newFakeThreadStore(&chat.Thread{ID: "t1", Title: "general"})
	app := newStreamApp(store, registry)

	req := httptest.NewRequest("GET", "/api/threads/t1/messages/stream?token="+testToken, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: connected")
	assert.Contains(t, string(body), "event: message")
	assert.Equal(t, []string{realtime.ThreadTopic("t1")}, registry.attachedTopics())
}

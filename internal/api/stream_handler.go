package api

import (
	"bufio"
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/realtime"
)

// ThreadReader verifies a thread exists before a stream attaches to it.
type ThreadReader interface {
	Get(ctx context.Context, id string) (*chat.Thread, error)
}

// ConnRegistry is the registry surface the stream handler drives.
type ConnRegistry interface {
	Attach(topic string, conn realtime.Conn) error
	Detach(topic string, conn realtime.Conn)
}

// StreamHandler serves the server-sent events endpoints. The per-thread
// route subscribes to that thread's events; the bare route serves the
// global thread-list feed.
type StreamHandler struct {
	threads    ThreadReader
	registry   ConnRegistry
	bufferSize int
}

func NewStreamHandler(threads ThreadReader, registry ConnRegistry, bufferSize int) *StreamHandler {
	return &StreamHandler{threads: threads, registry: registry, bufferSize: bufferSize}
}

// Stream handles GET /api/threads/stream and
// GET /api/threads/:id/messages/stream.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	topic := realtime.TopicGlobal
	threadID := c.Params("id")
	if threadID == "" {
		threadID = c.Query("threadId")
	}
	if threadID != "" {
		if _, err := h.threads.Get(c.Context(), threadID); err != nil {
			return handleError(c, err)
		}
		topic = realtime.ThreadTopic(threadID)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	conn := realtime.NewStreamConn(h.bufferSize)
	if err := h.registry.Attach(topic, conn); err != nil {
		return SendError(c, fiber.StatusInternalServerError, "Unable to open event stream")
	}

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.registry.Detach(topic, conn)
		defer func() { _ = conn.Close() }()

		for {
			select {
			case frame := <-conn.Frames():
				if _, err := w.Write(frame); err != nil {
					return
				}
				// A flush failure is the only reliable signal the client
				// hung up.
				if err := w.Flush(); err != nil {
					log.Debug().Str("topic", topic).Str("connection_id", conn.ID()).Msg("Event stream closed by client")
					return
				}
			case <-conn.Done():
				// Flush anything still buffered before tearing down.
				for {
					select {
					case frame := <-conn.Frames():
						if _, err := w.Write(frame); err != nil {
							return
						}
					default:
						_ = w.Flush()
						return
					}
				}
			}
		}
	}))

	return nil
}

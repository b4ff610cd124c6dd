package api

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/observability"
)

const (
	messageMaxLength = 10000
	pageLimitMax     = 100
)

// MessageStore reads message pages and creates messages inside the thread's
// mutation transaction.
type MessageStore interface {
	ListByThread(ctx context.Context, threadID, cursor string, limit int) (*chat.MessagePage, error)
	CreateMessage(ctx context.Context, threadID, text, author string) (*chat.Message, *chat.Thread, error)
}

// ReactionReader hydrates reaction state for a page of messages.
type ReactionReader interface {
	ForMessages(ctx context.Context, messageIDs []string) (map[string]chat.MessageReactions, error)
}

// MessageNotifier publishes message events after commit.
type MessageNotifier interface {
	MessageCreated(ctx context.Context, threadID string, msg *chat.Message)
	ThreadUpdated(ctx context.Context, thread *chat.Thread, byAuthor string)
}

// MessageHandler handles message pagination and creation.
type MessageHandler struct {
	store     MessageStore
	reactions ReactionReader
	notifier  MessageNotifier
	metrics   *observability.Metrics
}

func NewMessageHandler(store MessageStore, reactions ReactionReader, notifier MessageNotifier) *MessageHandler {
	return &MessageHandler{store: store, reactions: reactions, notifier: notifier}
}

// SetMetrics sets the metrics instance for message counters.
func (h *MessageHandler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// messagePageResponse is a message page with reaction state attached.
type messagePageResponse struct {
	Items      []chat.Message                   `json:"items"`
	NextCursor string                           `json:"nextCursor,omitempty"`
	Reactions  map[string]chat.MessageReactions `json:"reactions"`
}

// List handles GET /api/threads/:id/messages?cursor=&limit=
func (h *MessageHandler) List(c *fiber.Ctx) error {
	limit := chat.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > pageLimitMax {
			return SendError(c, fiber.StatusBadRequest, "Limit must be between 1 and 100")
		}
		limit = parsed
	}

	page, err := h.store.ListByThread(c.Context(), c.Params("id"), c.Query("cursor"), limit)
	if err != nil {
		return handleError(c, err)
	}

	ids := make([]string, len(page.Items))
	for i, msg := range page.Items {
		ids[i] = msg.ID
	}
	reactions, err := h.reactions.ForMessages(c.Context(), ids)
	if err != nil {
		return handleError(c, err)
	}
	if reactions == nil {
		reactions = map[string]chat.MessageReactions{}
	}

	return c.JSON(messagePageResponse{
		Items:      page.Items,
		NextCursor: page.NextCursor,
		Reactions:  reactions,
	})
}

type createMessageRequest struct {
	Text string `json:"text"`
}

// Create handles POST /api/threads/:id/messages
func (h *MessageHandler) Create(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return SendError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	// Limits are in characters, not bytes, so multi-byte text is not
	// penalized.
	text := strings.TrimSpace(req.Text)
	if text == "" || utf8.RuneCountInString(text) > messageMaxLength {
		return SendError(c, fiber.StatusUnprocessableEntity, "Message text must be between 1 and 10000 characters")
	}

	username, ok := GetUsername(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
	}

	msg, thread, err := h.store.CreateMessage(c.Context(), c.Params("id"), text, username)
	if err != nil {
		return handleError(c, err)
	}

	// Events go out only after the write is durable.
	h.notifier.MessageCreated(c.Context(), thread.ID, msg)
	h.notifier.ThreadUpdated(c.Context(), thread, username)

	if h.metrics != nil {
		h.metrics.RecordMessageCreated()
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": msg,
		"thread":  thread,
	})
}

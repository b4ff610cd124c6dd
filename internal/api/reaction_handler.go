package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/observability"
)

// ReactionStore toggles reactions and returns the message's full reaction
// state after the change.
type ReactionStore interface {
	Toggle(ctx context.Context, messageID, userID, reactionType string) (chat.ToggleAction, chat.MessageReactions, error)
}

// MessageReader looks up a message to resolve its thread for fan-out.
type MessageReader interface {
	Get(ctx context.Context, id string) (*chat.Message, error)
}

// ReactionNotifier publishes reaction state changes after commit.
type ReactionNotifier interface {
	ReactionUpdated(ctx context.Context, threadID, messageID string, reactions chat.MessageReactions)
}

// ReactionHandler handles reaction toggles.
type ReactionHandler struct {
	store    ReactionStore
	messages MessageReader
	notifier ReactionNotifier
	metrics  *observability.Metrics
}

func NewReactionHandler(store ReactionStore, messages MessageReader, notifier ReactionNotifier) *ReactionHandler {
	return &ReactionHandler{store: store, messages: messages, notifier: notifier}
}

// SetMetrics sets the metrics instance for reaction counters.
func (h *ReactionHandler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

type toggleRequest struct {
	Type string `json:"type"`
}

type toggleResponse struct {
	Action    chat.ToggleAction     `json:"action"`
	Reactions chat.MessageReactions `json:"reactions"`
}

// Toggle handles POST /api/messages/:id/reactions
func (h *ReactionHandler) Toggle(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return SendError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if !chat.ValidReactionType(req.Type) {
		return SendError(c, fiber.StatusBadRequest, "Unknown reaction type")
	}

	userID, ok := GetUserID(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
	}

	msg, err := h.messages.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	action, reactions, err := h.store.Toggle(c.Context(), msg.ID, userID, req.Type)
	if err != nil {
		return handleError(c, err)
	}

	h.notifier.ReactionUpdated(c.Context(), msg.ThreadID, msg.ID, reactions)

	if h.metrics != nil {
		h.metrics.RecordReactionToggle(string(action))
	}
	return c.JSON(toggleResponse{Action: action, Reactions: reactions})
}

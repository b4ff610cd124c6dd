package api

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/threadwell-app/threadwell/internal/chat"
)

const (
	titleMinLength = 2
	titleMaxLength = 255
)

// ThreadStore is the persistence surface the thread handler needs.
type ThreadStore interface {
	List(ctx context.Context, search string) ([]chat.Thread, error)
	Get(ctx context.Context, id string) (*chat.Thread, error)
	Create(ctx context.Context, title string) (*chat.Thread, error)
	Rename(ctx context.Context, id, title string) (*chat.Thread, error)
	Delete(ctx context.Context, id string) error
}

// ThreadNotifier publishes thread lifecycle events after the mutation
// committed.
type ThreadNotifier interface {
	ThreadCreated(ctx context.Context, thread *chat.Thread)
	ThreadUpdated(ctx context.Context, thread *chat.Thread, byAuthor string)
	ThreadDeleted(ctx context.Context, threadID string)
}

// ThreadHandler handles thread CRUD requests.
type ThreadHandler struct {
	store    ThreadStore
	notifier ThreadNotifier
}

func NewThreadHandler(store ThreadStore, notifier ThreadNotifier) *ThreadHandler {
	return &ThreadHandler{store: store, notifier: notifier}
}

type threadRequest struct {
	Title string `json:"title"`
}

func validateTitle(c *fiber.Ctx) (string, error) {
	var req threadRequest
	if err := c.BodyParser(&req); err != nil {
		return "", SendError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n < titleMinLength || n > titleMaxLength {
		return "", SendError(c, fiber.StatusUnprocessableEntity, "Title must be between 2 and 255 characters")
	}
	return title, nil
}

// List handles GET /api/threads, optionally filtered by ?search=
func (h *ThreadHandler) List(c *fiber.Ctx) error {
	threads, err := h.store.List(c.Context(), strings.TrimSpace(c.Query("search")))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"threads": threads})
}

// Get handles GET /api/threads/:id
func (h *ThreadHandler) Get(c *fiber.Ctx) error {
	thread, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(thread)
}

// Create handles POST /api/threads
func (h *ThreadHandler) Create(c *fiber.Ctx) error {
	title, err := validateTitle(c)
	if title == "" {
		return err
	}

	thread, err := h.store.Create(c.Context(), title)
	if err != nil {
		return handleError(c, err)
	}

	h.notifier.ThreadCreated(c.Context(), thread)
	return c.Status(fiber.StatusCreated).JSON(thread)
}

// Rename handles PUT /api/threads/:id
func (h *ThreadHandler) Rename(c *fiber.Ctx) error {
	title, err := validateTitle(c)
	if title == "" {
		return err
	}

	thread, err := h.store.Rename(c.Context(), c.Params("id"), title)
	if err != nil {
		return handleError(c, err)
	}

	h.notifier.ThreadUpdated(c.Context(), thread, "")
	return c.JSON(thread)
}

// Delete handles DELETE /api/threads/:id
func (h *ThreadHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.Delete(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	h.notifier.ThreadDeleted(c.Context(), id)
	return c.SendStatus(fiber.StatusNoContent)
}

package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/threadwell-app/threadwell/internal/presence"
)

// PresenceTracker records heartbeats and reports online users.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, userID, username string) error
	Online(ctx context.Context) ([]presence.OnlineUser, error)
	OnlineCount(ctx context.Context) (int, error)
}

// PreferenceStore reads and writes notification preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, pref string) error
}

// PresenceHandler handles presence heartbeats and notification preferences.
type PresenceHandler struct {
	tracker PresenceTracker
	prefs   PreferenceStore
}

func NewPresenceHandler(tracker PresenceTracker, prefs PreferenceStore) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, prefs: prefs}
}

// Heartbeat handles POST /api/heartbeat
func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	userID, ok := GetUserID(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
	}
	username, _ := GetUsername(c)

	if err := h.tracker.Heartbeat(c.Context(), userID, username); err != nil {
		return handleError(c, err)
	}

	count, err := h.tracker.OnlineCount(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"onlineCount": count})
}

// Online handles GET /api/users/online
func (h *PresenceHandler) Online(c *fiber.Ctx) error {
	users, err := h.tracker.Online(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// GetPreference handles GET /api/users/notification-preference
func (h *PresenceHandler) GetPreference(c *fiber.Ctx) error {
	userID, ok := GetUserID(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
	}

	pref, err := h.prefs.Get(c.Context(), userID)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"preference": pref})
}

type preferenceRequest struct {
	Preference string `json:"preference"`
}

// SetPreference handles PUT /api/users/notification-preference
func (h *PresenceHandler) SetPreference(c *fiber.Ctx) error {
	userID, ok := GetUserID(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
	}

	var req preferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return SendError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.prefs.Set(c.Context(), userID, req.Preference); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"preference": req.Preference})
}

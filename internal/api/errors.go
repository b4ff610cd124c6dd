package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/auth"
	"github.com/threadwell-app/threadwell/internal/chat"
	"github.com/threadwell-app/threadwell/internal/presence"
)

// getRequestID extracts the request ID from the Fiber context.
// It first checks the requestid middleware local, then falls back to the X-Request-ID header.
func getRequestID(c *fiber.Ctx) string {
	if requestID := c.Locals("requestid"); requestID != nil {
		if id, ok := requestID.(string); ok && id != "" {
			return id
		}
	}
	return c.Get("X-Request-ID", "")
}

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// SendError sends a standardized error response with request ID
func SendError(c *fiber.Ctx, statusCode int, errMsg string) error {
	return c.Status(statusCode).JSON(ErrorResponse{
		Error:     errMsg,
		RequestID: getRequestID(c),
	})
}

// handleError maps domain errors onto HTTP responses. Anything unrecognized
// is a 500 and gets logged with the request ID for correlation.
func handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrThreadNotFound):
		return SendError(c, fiber.StatusNotFound, "Thread not found")
	case errors.Is(err, chat.ErrMessageNotFound):
		return SendError(c, fiber.StatusNotFound, "Message not found")
	case errors.Is(err, chat.ErrInvalidCursor):
		return SendError(c, fiber.StatusBadRequest, "Invalid cursor")
	case errors.Is(err, chat.ErrUsernameTaken):
		return SendError(c, fiber.StatusConflict, "Username already taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return SendError(c, fiber.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, presence.ErrInvalidPreference):
		return SendError(c, fiber.StatusBadRequest, "Invalid notification preference")
	}

	log.Error().
		Err(err).
		Str("request_id", getRequestID(c)).
		Str("path", c.Path()).
		Msg("Request failed")
	return SendError(c, fiber.StatusInternalServerError, "Internal server error")
}

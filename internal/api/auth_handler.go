package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/threadwell-app/threadwell/internal/auth"
	"github.com/threadwell-app/threadwell/internal/observability"
)

// AuthService is the slice of the auth service the handler needs.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*auth.Session, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
}

// AuthHandler handles registration and login requests.
type AuthHandler struct {
	svc         AuthService
	metrics     *observability.Metrics
	usernameMin int
	passwordMin int
}

func NewAuthHandler(svc AuthService, usernameMin, passwordMin int) *AuthHandler {
	if usernameMin <= 0 {
		usernameMin = 2
	}
	if passwordMin <= 0 {
		passwordMin = 4
	}
	return &AuthHandler{svc: svc, usernameMin: usernameMin, passwordMin: passwordMin}
}

// SetMetrics sets the metrics instance for auth counters.
func (h *AuthHandler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) validate(c *fiber.Ctx) (*credentialsRequest, error) {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, SendError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < h.usernameMin {
		return nil, SendError(c, fiber.StatusUnprocessableEntity, "Username is too short")
	}
	if len(req.Password) < h.passwordMin {
		return nil, SendError(c, fiber.StatusUnprocessableEntity, "Password is too short")
	}
	return &req, nil
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	req, err := h.validate(c)
	if req == nil {
		return err
	}

	session, err := h.svc.Register(c.Context(), req.Username, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordAuthAttempt("register", false)
		}
		return handleError(c, err)
	}

	if h.metrics != nil {
		h.metrics.RecordAuthAttempt("register", true)
		h.metrics.RecordAuthToken()
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, err := h.validate(c)
	if req == nil {
		return err
	}

	session, err := h.svc.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordAuthAttempt("login", false)
		}
		return handleError(c, err)
	}

	if h.metrics != nil {
		h.metrics.RecordAuthAttempt("login", true)
		h.metrics.RecordAuthToken()
	}
	return c.JSON(session)
}

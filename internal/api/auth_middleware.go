package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/threadwell-app/threadwell/internal/auth"
)

// TokenVerifier validates a signed token into its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.TokenClaims, error)
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the token query parameter. EventSource cannot set headers, so the
// stream endpoint authenticates via the query string.
func extractToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}
	return c.Query("token")
}

// AuthMiddleware creates a middleware for JWT authentication
func AuthMiddleware(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return SendError(c, fiber.StatusUnauthorized, "Missing authorization token")
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Msg("Invalid token")
			return SendError(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)

		return c.Next()
	}
}

// GetUserID is a helper to extract user ID from context
func GetUserID(c *fiber.Ctx) (string, bool) {
	userID := c.Locals("user_id")
	if userID == nil {
		return "", false
	}
	return userID.(string), true
}

// GetUsername is a helper to extract the username from context
func GetUsername(c *fiber.Ctx) (string, bool) {
	username := c.Locals("username")
	if username == nil {
		return "", false
	}
	return username.(string), true
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/threadwell-app/threadwell/internal/chat"
)

// ErrInvalidCredentials is returned for both unknown usernames and wrong
// passwords so login responses never reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is the persistence the auth service needs.
type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (*chat.User, error)
	GetByUsername(ctx context.Context, username string) (*chat.User, error)
}

// Service handles registration and login, issuing signed tokens on success.
type Service struct {
	users UserStore
	jwt   *JWTManager
}

// Session is the result of a successful register or login.
type Session struct {
	Token string     `json:"token"`
	User  *chat.User `json:"user"`
}

func NewService(users UserStore, jwt *JWTManager) *Service {
	return &Service{users: users, jwt: jwt}
}

// Register creates a user with a bcrypt-hashed password and signs them in.
// Duplicate usernames surface as chat.ErrUsernameTaken.
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.Create(ctx, username, string(hash))
	if err != nil {
		return nil, err
	}

	return s.session(user)
}

// Login verifies the password and signs the user in.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.session(user)
}

// Verify parses a token back into its claims.
func (s *Service) Verify(token string) (*TokenClaims, error) {
	return s.jwt.ValidateToken(token)
}

func (s *Service) session(user *chat.User) (*Session, error) {
	token, err := s.jwt.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}

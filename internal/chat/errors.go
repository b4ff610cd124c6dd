package chat

import "errors"

var (
	// ErrThreadNotFound means the referenced thread row does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound means the referenced message row does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidCursor means a pagination cursor could not be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrUsernameTaken means the username uniqueness constraint fired.
	ErrUsernameTaken = errors.New("username already taken")
)

package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Auth errors
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotInvited         = errors.New("username is not on the invite list")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")

	// Letter errors
	ErrLetterNotFound = errors.New("letter not found")

	// Keepsake errors
	ErrKeepsakeNotFound = errors.New("keepsake not found")
)

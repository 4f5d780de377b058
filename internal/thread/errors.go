package thread

import "errors"

// Sentinel errors for conversation store operations.
var (
	// ErrNotFound indicates the requested thread does not exist.
	ErrNotFound = errors.New("thread not found")

	// ErrInvalidRole indicates a message carries a role outside the fixed set.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrContentTooLong indicates message content exceeds the configured maximum.
	ErrContentTooLong = errors.New("message content too long")

	// ErrEmptyContent indicates message content is empty.
	ErrEmptyContent = errors.New("message content is empty")
)

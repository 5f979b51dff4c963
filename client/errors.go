package client

import "errors"

var (
	// ErrNotFound indicates the URL does not resolve to an existing entry.
	ErrNotFound = errors.New("entry not found")

	// ErrAccessDenied indicates the server rejected the caller's credentials
	// for the requested operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyExists indicates a create operation collided with an
	// existing entry.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrClosed indicates the connection or transport has been closed.
	ErrClosed = errors.New("connection closed")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

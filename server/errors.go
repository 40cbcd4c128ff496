package server

import "errors"

var (
	// ErrNotFound is returned when a document, blob or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidContent is returned when a payload fails schema validation.
	ErrInvalidContent = errors.New("invalid content")
	// ErrUnauthorized is returned when no signed-in session is present.
	ErrUnauthorized = errors.New("not signed in")
	// ErrForbidden is returned when the signed-in user is not an administrator.
	ErrForbidden = errors.New("administrator access required")
)

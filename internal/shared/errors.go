package shared

import "errors"

var (
	// ErrUnauthenticated indicates the request carries no identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidIdentity occurs when the session user id cannot be parsed.
	ErrInvalidIdentity = errors.New("invalid session identity")
)

package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorMissing indicates a request without an authenticated actor.
	ErrActorMissing = errors.New("actor missing")
)

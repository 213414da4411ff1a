package domain

import "errors"

// ErrNotFound is returned by store and service functions when the requested
// trip, itinerary item or expense does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing title, non-positive expense amount).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrUnavailable wraps failures of the backing store (network, permission,
// disk). Handlers should map this to HTTP 503 so the client can show a
// transient notification instead of assuming the write succeeded.
var ErrUnavailable = errors.New("store unavailable")

// ErrUnauthenticated is returned by service functions that change trips when
// no identity is signed in. Handlers should map this to HTTP 401.
var ErrUnauthenticated = errors.New("not signed in")

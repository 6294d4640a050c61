package sentinel

import "errors"

// Sentinel errors for persistence facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
// - ErrNotFound: row does not exist
// - ErrConflict: compare-and-swap lost (version moved underneath the caller)
// - ErrAlreadyUsed: idempotency key or correlation already consumed
// - ErrInvalidState: row is in the wrong state for the requested transition
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

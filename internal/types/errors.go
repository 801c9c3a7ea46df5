// README: Error taxonomy shared by the fare, pool and driver modules.
package types

import "errors"

var (
	// ErrInvalidInput marks malformed or out-of-range arguments. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition marks a state machine guard violation. Never retried.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict marks a lost optimistic version race. Re-fetch and retry.
	ErrConflict = errors.New("version conflict")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

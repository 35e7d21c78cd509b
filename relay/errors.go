package relay

import "errors"

// Handler-local failure taxonomy. None of these ever propagate into the
// transport loop; user-visible failures are emitted envelopes.
var (
	// ErrUnauthorized: credential missing or invalid for a privileged
	// action. The action is dropped; the connection stays open so the
	// client can re-auth with a fresh login.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedAction: envelope missing required fields or carrying an
	// undecodable payload.
	ErrMalformedAction = errors.New("malformed action")
)

// Package clients contains HTTP clients for the gateway's external
// collaborators: the auth service that validates bearer tokens and the
// support service that answers chatbot questions.
package clients

import "errors"

var (
	// ErrInvalidToken covers every way a token can fail validation: empty
	// token, non-200 answer, missing identity headers, unknown role or an
	// unreachable auth service.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoAnswer is returned when the responder has no answer (HTTP 404).
	ErrNoAnswer = errors.New("responder has no answer")

	// ErrResponderUnavailable wraps transport failures, timeouts and
	// unexpected statuses from the responder.
	ErrResponderUnavailable = errors.New("responder unavailable")
)

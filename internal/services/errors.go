// Package services holds the gateway's shared realtime state (presence,
// sessions, notification buffers) and the dispatcher that routes chat
// between users, the automated responder and the system.
//
// This file centralizes service-level error values so callers can check
// them with errors.Is. Translation into frames or HTTP statuses happens in
// the transport layers.
package services

import "errors"

// Session errors.
var (
	// ErrInvalidParticipant is returned when a session is requested with an
	// empty participant id or with the same id on both sides.
	ErrInvalidParticipant = errors.New("invalid session participant")

	// ErrSessionFull is returned when a session key already holds two
	// different members. Ids containing '-' can produce the same canonical key
	// for different pairs; the second pair is refused instead of evicting.
	ErrSessionFull = errors.New("session already has two participants")

	// ErrSessionNotFound means the session id is unknown or was removed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoPeer means the session exists but the caller is not a member of it,
	// so no other participant can be resolved.
	ErrNoPeer = errors.New("no peer in session")
)

// Dispatch errors.
var (
	// ErrMissingRecipient is returned by StartChat when no recipient is given.
	ErrMissingRecipient = errors.New("recipient is required")

	// ErrEmptyContent is returned by SendMessage for blank content.
	ErrEmptyContent = errors.New("content is empty")
)

// ErrInvalidAlert is returned by InsertAlert when required alert fields are missing.
var ErrInvalidAlert = errors.New("invalid alert")

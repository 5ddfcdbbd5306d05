// Package realtime owns the websocket side of the gateway: one Client per
// open connection, and the Hub that tracks every user's connections, drives
// presence transitions and implements the push channel used by services.
package realtime

import (
	"encoding/json"
)

// Frame is what the server writes to a connection.
type Frame struct {
	Destination string `json:"destination"`
	Payload     any    `json:"payload"`
}

// Client actions.
const (
	ActionStartChat   = "chat.start"
	ActionSendMessage = "chat.send"
	ActionListOnline  = "users.online"
)

// ClientFrame is what a connection sends. Unused fields are ignored per
// action.
type ClientFrame struct {
	Action      string `json:"action"`
	RecipientID string `json:"recipientId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Error codes carried on /queue/errors.
const (
	CodeBadFrame      = "bad_frame"
	CodeUnknownAction = "unknown_action"
	CodeRateLimited   = "rate_limited"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal_error"
)

func encodeFrame(destination string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Destination: destination, Payload: payload})
}

func decodeClientFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	err := json.Unmarshal(raw, &f)
	return f, err
}

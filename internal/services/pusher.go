package services

import "context"

// Pusher delivers payloads to connected clients. The realtime hub implements
// it; services never touch connections directly.
type Pusher interface {
	// SendToUser enqueues payload on every open connection of userID and
	// reports whether at least one connection accepted it. It never blocks.
	SendToUser(userID, destination string, payload any) bool
	// SendToUserWait is SendToUser but waits for room in a full send
	// buffer until ctx ends.
	SendToUserWait(ctx context.Context, userID, destination string, payload any) bool
	// Broadcast enqueues payload on every open connection and returns how
	// many accepted it.
	Broadcast(destination string, payload any) int
}

// OnlineChecker answers whether a user currently has a live connection.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

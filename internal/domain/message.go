package domain

import (
	"time"

	"github.com/google/uuid"
)

// SenderType classifies who produced a ChatMessage.
type SenderType string

const (
	SenderUser         SenderType = "USER"
	SenderAdmin        SenderType = "ADMIN"
	SenderChatbot      SenderType = "CHATBOT"
	SenderSystem       SenderType = "SYSTEM"
	SenderNotification SenderType = "NOTIFICATION"
)

// Push destinations understood by the browser client.
const (
	DestinationChat       = "/queue/chat"
	DestinationUsers      = "/queue/users"
	DestinationErrors     = "/queue/errors"
	DestinationUserStatus = "/topic/user-status"
)

// ChatMessage is the value pushed on /queue/chat. It is created once per
// send and never mutated.
type ChatMessage struct {
	MessageID   string     `json:"messageId"`
	SessionID   string     `json:"sessionId"`
	SenderType  SenderType `json:"senderType"`
	SenderID    string     `json:"senderId"`
	SenderName  string     `json:"senderName"`
	Content     string     `json:"content"`
	RecipientID string     `json:"recipientId"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewChatMessage stamps a fresh message id and the current UTC time.
func NewChatMessage(sessionID string, senderType SenderType, senderID, senderName, content, recipientID string) ChatMessage {
	return ChatMessage{
		MessageID:   uuid.NewString(),
		SessionID:   sessionID,
		SenderType:  senderType,
		SenderID:    senderID,
		SenderName:  senderName,
		Content:     content,
		RecipientID: recipientID,
		Timestamp:   time.Now().UTC(),
	}
}

// UserStatus is the presence transition broadcast on /topic/user-status.
type UserStatus string

const (
	StatusOnline  UserStatus = "ONLINE"
	StatusOffline UserStatus = "OFFLINE"
)

// UserStatusMessage is broadcast to every connection on connect/disconnect.
type UserStatusMessage struct {
	Status UserStatus `json:"status"`
	User   Identity   `json:"user"`
}

// ErrorFrame is a negative acknowledgement pushed on /queue/errors.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

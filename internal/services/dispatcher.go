package services

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-realtime-gateway/internal/clients"
	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

// Fixed texts understood by the browser client.
const (
	SessionStartedContent = "SESSION_STARTED"
	ChatbotGreeting       = "Hello!  How can I help you today?"
	ChatbotApology        = "Sorry, I encountered an error. Please try again."

	systemSenderName  = "System"
	chatbotSenderName = "Assistant"
)

// Responder is the automated conversational peer. Ask must return at once;
// the channel yields exactly one reply.
type Responder interface {
	Ask(ctx context.Context, text string) <-chan clients.Reply
}

// Dispatcher routes client chat operations. All deliveries go through the
// Pusher; the only network call (the responder) completes on its own
// goroutine so the caller's connection is never blocked on it.
type Dispatcher struct {
	presence  *PresenceRegistry
	sessions  *SessionRouter
	bot       Responder
	push      Pusher
	chatbotID string
	systemID  string

	inflight sync.WaitGroup
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(presence *PresenceRegistry, sessions *SessionRouter, bot Responder, push Pusher, chatbotID, systemID string) *Dispatcher {
	return &Dispatcher{
		presence:  presence,
		sessions:  sessions,
		bot:       bot,
		push:      push,
		chatbotID: chatbotID,
		systemID:  systemID,
	}
}

// StartChat opens (or reuses) the session between requester and
// recipientID and confirms it to the requester with a SYSTEM message whose
// recipientId names the peer. Starting a chat with the chatbot also sends
// the canned greeting; the responder itself is not contacted.
func (d *Dispatcher) StartChat(ctx context.Context, requester domain.Identity, recipientID string) (string, error) {
	_, span := otel.Tracer("services/Dispatcher").Start(ctx, "StartChat",
		trace.WithAttributes(
			attribute.String("user.id", requester.ID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return "", ErrMissingRecipient
	}
	sessionID, err := d.sessions.CreateSession(requester.ID, recipientID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	started := domain.NewChatMessage(sessionID, domain.SenderSystem, d.systemID, systemSenderName, SessionStartedContent, recipientID)
	d.push.SendToUser(requester.ID, domain.DestinationChat, started)

	if recipientID == d.chatbotID {
		greeting := domain.NewChatMessage(sessionID, domain.SenderChatbot, d.chatbotID, chatbotSenderName, ChatbotGreeting, requester.ID)
		d.push.SendToUser(requester.ID, domain.DestinationChat, greeting)
	}

	span.SetAttributes(attribute.String("session.id", sessionID))
	return sessionID, nil
}

// SendMessage echoes content back to the sender and routes it to the other
// participant: the responder when the peer is the chatbot, the peer's
// connections when they are online, nowhere otherwise. Offline peers do not
// get the message later.
func (d *Dispatcher) SendMessage(ctx context.Context, sender domain.Identity, sessionID, content string) error {
	ctx, span := otel.Tracer("services/Dispatcher").Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("user.id", sender.ID),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	peer, err := d.sessions.Resolve(sessionID, sender.ID)
	if err != nil {
		return err
	}

	senderType := domain.SenderUser
	if sender.IsAdmin() {
		senderType = domain.SenderAdmin
	}
	msg := domain.NewChatMessage(sessionID, senderType, sender.ID, sender.Username, content, peer)
	d.push.SendToUser(sender.ID, domain.DestinationChat, msg)

	switch {
	case peer == d.chatbotID:
		span.SetAttributes(attribute.String("route", "chatbot"))
		d.askChatbot(ctx, sender.ID, sessionID, content)
	case d.presence.IsOnline(peer):
		span.SetAttributes(attribute.String("route", "peer"))
		d.push.SendToUser(peer, domain.DestinationChat, msg)
	default:
		span.SetAttributes(attribute.String("route", "offline"))
	}
	return nil
}

// askChatbot hands content to the responder and delivers its answer, or the
// apology, to the sender only. The chatbot id never receives a frame.
func (d *Dispatcher) askChatbot(ctx context.Context, senderID, sessionID, content string) {
	// The reply outlives the frame that triggered it.
	ctx = context.WithoutCancel(ctx)
	replies := d.bot.Ask(ctx, content)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		r := <-replies
		text := r.Text
		if r.Err != nil {
			zerolog.Ctx(ctx).Warn().Err(r.Err).
				Str("user_id", senderID).
				Str("session_id", sessionID).
				Msg("chatbot unavailable, sending apology")
			text = ChatbotApology
		}
		reply := domain.NewChatMessage(sessionID, domain.SenderChatbot, d.chatbotID, chatbotSenderName, text, senderID)
		d.push.SendToUser(senderID, domain.DestinationChat, reply)
	}()
}

// ListOnline returns the online snapshot without the requester.
func (d *Dispatcher) ListOnline(requester domain.Identity) []domain.Identity {
	return lo.Filter(d.presence.ListOnline(), func(id domain.Identity, _ int) bool {
		return id.ID != requester.ID
	})
}

// Wait blocks until every outstanding chatbot reply has been delivered.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

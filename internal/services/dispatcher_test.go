package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-realtime-gateway/internal/clients"
	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

var (
	alice = domain.Identity{ID: "u1", Username: "alice", Role: domain.RoleUser}
	bob   = domain.Identity{ID: "u2", Username: "bob", Role: domain.RoleUser}
	admin = domain.Identity{ID: "a1", Username: "root", Role: domain.RoleAdmin}
)

type dispatchFixture struct {
	d        *Dispatcher
	presence *PresenceRegistry
	sessions *SessionRouter
	push     *recordingPusher
	bot      *stubResponder
}

func newDispatchFixture(reply clients.Reply) *dispatchFixture {
	f := &dispatchFixture{
		presence: NewPresenceRegistry(),
		sessions: NewSessionRouter(),
		push:     newRecordingPusher(),
		bot:      &stubResponder{reply: reply},
	}
	f.d = NewDispatcher(f.presence, f.sessions, f.bot, f.push, "chatbot", "system")
	return f
}

func TestStartChat_SendsSystemConfirmationToRequesterOnly(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	ctx := context.Background()

	sid, err := f.d.StartChat(ctx, alice, "u2")
	if err != nil || sid != "session-u1-u2" {
		t.Fatalf("StartChat = %q, %v", sid, err)
	}
	got := f.push.messagesFor("u1")
	if len(got) != 1 {
		t.Fatalf("expected one message to requester, got %d", len(got))
	}
	m := got[0]
	if m.SenderType != domain.SenderSystem || m.Content != SessionStartedContent || m.SenderID != "system" || m.SenderName != "System" {
		t.Fatalf("unexpected confirmation: %+v", m)
	}
	if m.SessionID != sid || m.RecipientID != "u2" {
		t.Fatalf("confirmation must name the session and peer: %+v", m)
	}
	if len(f.push.messagesFor("u2")) != 0 {
		t.Fatal("recipient must not be notified of a new session")
	}
}

func TestStartChat_WithChatbotAddsGreeting(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	sid, err := f.d.StartChat(context.Background(), alice, "chatbot")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	got := f.push.messagesFor("u1")
	if len(got) != 2 {
		t.Fatalf("expected confirmation + greeting, got %d", len(got))
	}
	g := got[1]
	if g.SenderType != domain.SenderChatbot || g.Content != ChatbotGreeting || g.SenderName != "Assistant" || g.SessionID != sid {
		t.Fatalf("unexpected greeting: %+v", g)
	}
	if len(f.bot.asked) != 0 {
		t.Fatal("starting a chatbot session must not call the responder")
	}
}

func TestStartChat_Errors(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	if _, err := f.d.StartChat(context.Background(), alice, "  "); !errors.Is(err, ErrMissingRecipient) {
		t.Fatalf("err = %v, want ErrMissingRecipient", err)
	}
	if _, err := f.d.StartChat(context.Background(), alice, "u1"); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("err = %v, want ErrInvalidParticipant", err)
	}
	if len(f.push.sent) != 0 {
		t.Fatal("failed StartChat must not deliver")
	}
}

func TestSendMessage_BothOnlineEchoAndDeliver(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	ctx := context.Background()
	f.presence.SetOnline(alice)
	f.presence.SetOnline(bob)

	sid, _ := f.d.StartChat(ctx, alice, "u2")
	if err := f.d.SendMessage(ctx, alice, sid, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	toBob := f.push.messagesFor("u2")
	if len(toBob) != 1 || toBob[0].Content != "hello" || toBob[0].SenderType != domain.SenderUser {
		t.Fatalf("peer deliveries: %+v", toBob)
	}
	toAlice := f.push.messagesFor("u1")
	echo := toAlice[len(toAlice)-1]
	if echo.MessageID != toBob[0].MessageID || echo.Content != "hello" || echo.SenderName != "alice" || echo.RecipientID != "u2" {
		t.Fatalf("echo should be the same message: %+v vs %+v", echo, toBob[0])
	}
}

func TestSendMessage_AdminSenderType(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	ctx := context.Background()
	f.presence.SetOnline(alice)
	sid, _ := f.d.StartChat(ctx, admin, "u1")
	_ = f.d.SendMessage(ctx, admin, sid, "hi from support")

	got := f.push.messagesFor("u1")
	if len(got) != 1 || got[0].SenderType != domain.SenderAdmin {
		t.Fatalf("expected ADMIN-typed delivery, got %+v", got)
	}
}

func TestSendMessage_OfflinePeerOnlyEcho(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	ctx := context.Background()
	sid, _ := f.d.StartChat(ctx, alice, "u2")
	if err := f.d.SendMessage(ctx, alice, sid, "anyone?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(f.push.messagesFor("u2")) != 0 {
		t.Fatal("offline peer must not receive or buffer chat")
	}
	if n := len(f.push.messagesFor("u1")); n != 2 {
		t.Fatalf("expected confirmation + echo, got %d", n)
	}
}

func TestSendMessage_ChatbotReplyGoesToSenderOnly(t *testing.T) {
	f := newDispatchFixture(clients.Reply{Text: "Your usage is normal."})
	ctx := context.Background()
	sid, _ := f.d.StartChat(ctx, alice, "chatbot")

	if err := f.d.SendMessage(ctx, alice, sid, "is my usage ok?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.d.Wait()

	if len(f.push.messagesFor("chatbot")) != 0 {
		t.Fatal("nothing may be delivered on the chatbot's channel")
	}
	got := f.push.messagesFor("u1")
	last := got[len(got)-1]
	if last.SenderType != domain.SenderChatbot || last.Content != "Your usage is normal." || last.RecipientID != "u1" {
		t.Fatalf("unexpected reply: %+v", last)
	}
	if len(f.bot.asked) != 1 || f.bot.asked[0] != "is my usage ok?" {
		t.Fatalf("responder asked %v", f.bot.asked)
	}
}

func TestSendMessage_ChatbotFailureSendsApology(t *testing.T) {
	for _, cause := range []error{clients.ErrNoAnswer, clients.ErrResponderUnavailable} {
		f := newDispatchFixture(clients.Reply{Err: cause})
		ctx := context.Background()
		sid, _ := f.d.StartChat(ctx, alice, "chatbot")
		_ = f.d.SendMessage(ctx, alice, sid, "?")
		f.d.Wait()

		got := f.push.messagesFor("u1")
		if last := got[len(got)-1]; last.Content != ChatbotApology || last.SenderType != domain.SenderChatbot {
			t.Fatalf("%v: expected apology, got %+v", cause, last)
		}
		if len(f.push.messagesFor("chatbot")) != 0 {
			t.Fatalf("%v: chatbot channel must stay empty", cause)
		}
	}
}

func TestSendMessage_Errors(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	ctx := context.Background()
	sid, _ := f.d.StartChat(ctx, alice, "u2")
	before := len(f.push.sent)

	if err := f.d.SendMessage(ctx, alice, "session-x-y", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if err := f.d.SendMessage(ctx, admin, sid, "hi"); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("err = %v, want ErrNoPeer", err)
	}
	if err := f.d.SendMessage(ctx, alice, sid, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
	if len(f.push.sent) != before {
		t.Fatal("rejected sends must not deliver anything")
	}
}

func TestDispatcherListOnline_ExcludesRequester(t *testing.T) {
	f := newDispatchFixture(clients.Reply{})
	f.presence.SetOnline(alice)
	f.presence.SetOnline(bob)
	f.presence.SetOnline(admin)

	got := f.d.ListOnline(alice)
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "u2" {
		t.Fatalf("ListOnline = %+v", got)
	}
}

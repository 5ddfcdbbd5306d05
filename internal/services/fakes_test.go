package services

import (
	"context"
	"sync"

	"github.com/tbourn/go-realtime-gateway/internal/clients"
	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

type delivery struct {
	userID      string
	destination string
	payload     any
}

// recordingPusher records every push. Users listed in offline refuse
// deliveries, mimicking a user with no open connection.
type recordingPusher struct {
	mu         sync.Mutex
	sent       []delivery
	broadcasts []delivery
	offline    map[string]bool

	// onWait, when set, runs before every SendToUserWait.
	onWait func()
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{offline: map[string]bool{}}
}

func (p *recordingPusher) SendToUser(userID, destination string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline[userID] {
		return false
	}
	p.sent = append(p.sent, delivery{userID, destination, payload})
	return true
}

func (p *recordingPusher) SendToUserWait(ctx context.Context, userID, destination string, payload any) bool {
	if p.onWait != nil {
		p.onWait()
	}
	if ctx.Err() != nil {
		return false
	}
	return p.SendToUser(userID, destination, payload)
}

func (p *recordingPusher) Broadcast(destination string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, delivery{"", destination, payload})
	return 1
}

func (p *recordingPusher) messagesFor(userID string) []domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.ChatMessage
	for _, d := range p.sent {
		if d.userID == userID && d.destination == domain.DestinationChat {
			out = append(out, d.payload.(domain.ChatMessage))
		}
	}
	return out
}

func (p *recordingPusher) setOffline(userID string, off bool) {
	p.mu.Lock()
	p.offline[userID] = off
	p.mu.Unlock()
}

// stubResponder answers every question with the configured reply.
type stubResponder struct {
	mu    sync.Mutex
	asked []string
	reply clients.Reply
}

func (s *stubResponder) Ask(_ context.Context, text string) <-chan clients.Reply {
	s.mu.Lock()
	s.asked = append(s.asked, text)
	s.mu.Unlock()
	ch := make(chan clients.Reply, 1)
	ch <- s.reply
	return ch
}

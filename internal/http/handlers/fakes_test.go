package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/http/middleware"
	"github.com/tbourn/go-realtime-gateway/internal/repo"
)

var (
	alice = domain.Identity{ID: "u1", Username: "alice", Role: domain.RoleUser}
	bob   = domain.Identity{ID: "u2", Username: "bob", Role: domain.RoleUser}
	carol = domain.Identity{ID: "u3", Username: "carol", Role: domain.RoleAdmin}
)

type fakeAuth map[string]domain.Identity

func (f fakeAuth) Authenticate(_ context.Context, token string) (domain.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return domain.Identity{}, errors.New("invalid token")
}

// fakeGateway greets the connection with the user id and closes it.
type fakeGateway struct {
	mu    sync.Mutex
	users []domain.Identity
}

func (g *fakeGateway) Serve(_ context.Context, conn *websocket.Conn, user domain.Identity) {
	g.mu.Lock()
	g.users = append(g.users, user)
	g.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte("hello "+user.ID))
	_ = conn.Close()
}

func (g *fakeGateway) served() []domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Identity(nil), g.users...)
}

type fakeDirectory struct {
	online []domain.Identity
}

func (d fakeDirectory) ListOnline(requester domain.Identity) []domain.Identity {
	out := []domain.Identity{}
	for _, u := range d.online {
		if u.ID != requester.ID {
			out = append(out, u)
		}
	}
	return out
}

func (d fakeDirectory) Get(userID string) (domain.Identity, bool) {
	for _, u := range d.online {
		if u.ID == userID {
			return u, true
		}
	}
	return domain.Identity{}, false
}

type fakeLedger struct {
	recs map[string]domain.PresenceRecord
	err  error
}

func (l fakeLedger) GetPresence(_ context.Context, userID string) (*domain.PresenceRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	rec, ok := l.recs[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &rec, nil
}

type sinkFunc func(ctx context.Context, a domain.Alert) (domain.AlertOutcome, error)

func (f sinkFunc) InsertAlert(ctx context.Context, a domain.Alert) (domain.AlertOutcome, error) {
	return f(ctx, a)
}

type idemKey struct{ producer, key string }

// memIdem keeps idempotency records in memory without expiry.
type memIdem struct {
	mu   sync.Mutex
	recs map[idemKey]domain.Idempotency
}

func newMemIdem() *memIdem { return &memIdem{recs: map[idemKey]domain.Idempotency{}} }

func (m *memIdem) Get(_ context.Context, producer, key string, _ time.Time) (*domain.Idempotency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[idemKey{producer, key}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &rec, nil
}

func (m *memIdem) Create(_ context.Context, producer, key, userID, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey{producer, key}
	if _, ok := m.recs[k]; ok {
		return repo.ErrDuplicate
	}
	m.recs[k] = domain.Idempotency{Producer: producer, Key: key, UserID: userID, Outcome: outcome}
	return nil
}

func (m *memIdem) Complete(_ context.Context, producer, key, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey{producer, key}
	rec, ok := m.recs[k]
	if !ok {
		return repo.ErrNotFound
	}
	rec.Outcome = outcome
	m.recs[k] = rec
	return nil
}

func (m *memIdem) Release(_ context.Context, producer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, idemKey{producer, key})
	return nil
}

func (m *memIdem) lookup(ctx context.Context, producer, key string, now time.Time) (bool, error) {
	rec, err := m.Get(ctx, producer, key, now)
	return rec != nil, ignoreNotFound(err)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

// as installs id as the authenticated caller.
func as(id domain.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetIdentity(c, id)
		c.Next()
	}
}

package services

import (
	"sync/atomic"

	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

// sessionPrefix prefixes every canonical session id.
const sessionPrefix = "session-"

// SessionID derives the canonical id for a pair: the byte-wise smaller id
// comes first, so SessionID(a, b) == SessionID(b, a).
func SessionID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return sessionPrefix + a + "-" + b
}

// session holds its two members in fixed slots, ordered like the id.
type session struct {
	members [2]string
}

func (s session) other(self string) (string, bool) {
	switch self {
	case s.members[0]:
		return s.members[1], true
	case s.members[1]:
		return s.members[0], true
	}
	return "", false
}

// SessionRouter maps canonical session ids to their two participants.
// Sessions live until RemoveSession; nothing expires them.
type SessionRouter struct {
	sessions *utils.ShardedMap[session]
	count    atomic.Int64
}

// NewSessionRouter returns an empty router.
func NewSessionRouter() *SessionRouter {
	return &SessionRouter{sessions: utils.NewShardedMap[session]()}
}

// CreateSession returns the canonical id for (a, b), registering the pair on
// first use. Repeated calls in either order return the same id.
func (r *SessionRouter) CreateSession(a, b string) (string, error) {
	if a == "" || b == "" || a == b {
		return "", ErrInvalidParticipant
	}
	if b < a {
		a, b = b, a
	}
	id := sessionPrefix + a + "-" + b

	want := [2]string{a, b}
	var err error
	r.sessions.Update(id, func(cur session, ok bool) (session, bool) {
		if ok {
			if cur.members != want {
				err = ErrSessionFull
			}
			return cur, true
		}
		r.count.Add(1)
		return session{members: want}, true
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// OtherParticipant resolves the member of sessionID that is not selfID.
// It returns false when the session is unknown or selfID is not a member.
func (r *SessionRouter) OtherParticipant(sessionID, selfID string) (string, bool) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return "", false
	}
	return s.other(selfID)
}

// Resolve is OtherParticipant with a typed error for each failure.
func (r *SessionRouter) Resolve(sessionID, selfID string) (string, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	peer, ok := s.other(selfID)
	if !ok {
		return "", ErrNoPeer
	}
	return peer, nil
}

func (r *SessionRouter) Exists(sessionID string) bool {
	_, ok := r.sessions.Get(sessionID)
	return ok
}

// RemoveSession forgets sessionID. Unknown ids are ignored.
func (r *SessionRouter) RemoveSession(sessionID string) {
	r.sessions.Update(sessionID, func(cur session, ok bool) (session, bool) {
		if ok {
			r.count.Add(-1)
		}
		return cur, false
	})
}

func (r *SessionRouter) Count() int { return int(r.count.Load()) }

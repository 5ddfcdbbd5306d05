package services

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

// PresenceRegistry is the process-wide set of online identities, keyed
// strictly by user id. A second SetOnline for the same id replaces the stored
// identity, so a username or role change never yields two entries.
type PresenceRegistry struct {
	entries *utils.ShardedMap[domain.Identity]
	count   atomic.Int64
}

// NewPresenceRegistry returns an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{entries: utils.NewShardedMap[domain.Identity]()}
}

// SetOnline records id as online. It reports whether the user was not
// already present.
func (p *PresenceRegistry) SetOnline(id domain.Identity) bool {
	var existed bool
	p.entries.Update(id.ID, func(_ domain.Identity, ok bool) (domain.Identity, bool) {
		existed = ok
		return id, true
	})
	if !existed {
		p.count.Add(1)
	}
	return !existed
}

// SetOffline removes id. Removing an absent user is a no-op.
func (p *PresenceRegistry) SetOffline(id domain.Identity) {
	var existed bool
	p.entries.Update(id.ID, func(cur domain.Identity, ok bool) (domain.Identity, bool) {
		existed = ok
		return cur, false
	})
	if existed {
		p.count.Add(-1)
	}
}

func (p *PresenceRegistry) IsOnline(userID string) bool {
	_, ok := p.entries.Get(userID)
	return ok
}

// Get returns the stored identity for an online user.
func (p *PresenceRegistry) Get(userID string) (domain.Identity, bool) {
	return p.entries.Get(userID)
}

// ListOnline returns a point-in-time snapshot sorted by id. Users who
// connect or leave while the snapshot is taken may or may not appear.
func (p *PresenceRegistry) ListOnline() []domain.Identity {
	out := p.entries.Values()
	slices.SortFunc(out, func(a, b domain.Identity) int { return strings.Compare(a.ID, b.ID) })
	if out == nil {
		out = []domain.Identity{}
	}
	return out
}

func (p *PresenceRegistry) Count() int { return int(p.count.Load()) }

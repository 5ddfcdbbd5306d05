package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

func newPresenceRouter(h *Handlers, callerID *domain.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if callerID != nil {
		r.Use(as(*callerID))
	}
	r.GET("/users/online", h.ListOnline)
	r.GET("/users/:id/presence", h.GetPresence)
	return r
}

func getJSON(t *testing.T, r http.Handler, path string, hdr map[string]string, out any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("json: %v (%s)", err, w.Body.String())
		}
	}
	return w
}

func TestListOnline_ExcludesCallerAndPaginates(t *testing.T) {
	h := New(Deps{Directory: fakeDirectory{online: []domain.Identity{alice, bob, carol}}})
	r := newPresenceRouter(h, &alice)

	var resp OnlineUsersResponse
	w := getJSON(t, r, "/users/online?page=1&page_size=1", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if len(resp.Users) != 1 || resp.Users[0].ID != "u2" {
		t.Fatalf("page 1 users=%+v", resp.Users)
	}
	if resp.Pagination.Total != 2 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("pagination=%+v", resp.Pagination)
	}

	resp = OnlineUsersResponse{}
	getJSON(t, r, "/users/online?page=9&page_size=1", nil, &resp)
	if resp.Users == nil || len(resp.Users) != 0 {
		t.Fatalf("past the end must be an empty list, got %+v", resp.Users)
	}
}

func TestListOnline_RequiresCaller(t *testing.T) {
	h := New(Deps{Directory: fakeDirectory{}})
	r := newPresenceRouter(h, nil)
	if w := getJSON(t, r, "/users/online", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGetPresence_LiveLedgerAndMissing(t *testing.T) {
	lastSeen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := fakeLedger{recs: map[string]domain.PresenceRecord{
		"u2": {UserID: "u2", Username: "bob", Role: "USER", ConnectedAt: lastSeen.Add(-time.Hour), LastSeenAt: lastSeen},
	}}
	h := New(Deps{Directory: fakeDirectory{online: []domain.Identity{carol}}, Ledger: ledger})
	r := newPresenceRouter(h, &alice)

	var live PresenceResponse
	if w := getJSON(t, r, "/users/u3/presence", nil, &live); w.Code != http.StatusOK {
		t.Fatalf("live status=%d", w.Code)
	}
	if !live.Online || live.Username != "carol" || live.Role != "ADMIN" {
		t.Fatalf("live=%+v", live)
	}

	var off PresenceResponse
	w := getJSON(t, r, "/users/u2/presence", nil, &off)
	if w.Code != http.StatusOK || off.Online || off.LastSeenAt == nil || !off.LastSeenAt.Equal(lastSeen) {
		t.Fatalf("offline=%d %+v", w.Code, off)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	if w := getJSON(t, r, "/users/u2/presence", map[string]string{"If-None-Match": etag}, nil); w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	if w := getJSON(t, r, "/users/ghost/presence", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user status=%d", w.Code)
	}
}

func TestGetPresence_LedgerFailure(t *testing.T) {
	h := New(Deps{Directory: fakeDirectory{}, Ledger: fakeLedger{err: errors.New("disk")}})
	r := newPresenceRouter(h, &alice)
	w := getJSON(t, r, "/users/u2/presence", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var body ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != ErrCodeLookupFailed {
		t.Fatalf("code=%q", body.Code)
	}
}

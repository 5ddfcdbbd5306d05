package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

func newAuthServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticate_Success(t *testing.T) {
	srv := newAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/validate" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set(HeaderUserID, "u1")
		w.Header().Set(HeaderUsername, "alice")
		w.Header().Set(HeaderUserRole, "admin")
		w.WriteHeader(http.StatusOK)
	})

	a := NewAuthenticator(srv.URL+"/auth/", time.Second)
	id, err := a.Authenticate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := domain.Identity{ID: "u1", Username: "alice", Role: domain.RoleAdmin}
	if id != want {
		t.Fatalf("identity = %+v, want %+v", id, want)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		headers map[string]string
	}{
		{"unauthorized", http.StatusUnauthorized, nil},
		{"server error", http.StatusInternalServerError, nil},
		{"missing id", http.StatusOK, map[string]string{HeaderUsername: "alice", HeaderUserRole: "USER"}},
		{"missing username", http.StatusOK, map[string]string{HeaderUserID: "u1", HeaderUserRole: "USER"}},
		{"missing role", http.StatusOK, map[string]string{HeaderUserID: "u1", HeaderUsername: "alice"}},
		{"unknown role", http.StatusOK, map[string]string{HeaderUserID: "u1", HeaderUsername: "alice", HeaderUserRole: "ROOT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newAuthServer(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			})
			_, err := NewAuthenticator(srv.URL, time.Second).Authenticate(context.Background(), "tok")
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthenticate_EmptyToken_NoCall(t *testing.T) {
	var calls atomic.Int32
	srv := newAuthServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	_, err := NewAuthenticator(srv.URL, time.Second).Authenticate(context.Background(), "  ")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("auth service should not be called for an empty token")
	}
}

func TestAuthenticate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAuthenticator(url, 200*time.Millisecond).Authenticate(context.Background(), "tok")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/http/middleware"
	"github.com/tbourn/go-realtime-gateway/internal/ingest"
	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

//
// Collaborator contracts
//

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// Gateway takes over an upgraded websocket for its whole lifetime.
type Gateway interface {
	Serve(ctx context.Context, conn *websocket.Conn, user domain.Identity)
}

// Directory answers live presence questions from the in-memory registry.
type Directory interface {
	// ListOnline returns online users other than requester, sorted by id.
	ListOnline(requester domain.Identity) []domain.Identity
	// Get returns the live identity of an online user.
	Get(userID string) (domain.Identity, bool)
}

// PresenceStore reads the durable last-seen ledger.
type PresenceStore interface {
	GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error)
}

// IdempotencyStore records which producer keys were already handled.
// Create must fail with repo.ErrDuplicate when the key exists, so that of
// two concurrent requests only one claims it.
type IdempotencyStore interface {
	Get(ctx context.Context, producer, key string, now time.Time) (*domain.Idempotency, error)
	Create(ctx context.Context, producer, key, userID, outcome string) error
	Complete(ctx context.Context, producer, key, outcome string) error
	Release(ctx context.Context, producer, key string) error
}

// Deps groups the collaborators of Handlers. Ledger and Idempotency may be
// nil: presence then reports live state only and alert keys are not stored.
type Deps struct {
	Auth        Authenticator
	Gateway     Gateway
	Directory   Directory
	Ledger      PresenceStore
	Alerts      ingest.AlertSink
	Idempotency IdempotencyStore

	// AllowedOrigins restricts browser websocket handshakes; empty allows all.
	AllowedOrigins []string
}

// Handlers groups the gateway's HTTP endpoints.
type Handlers struct {
	auth      Authenticator
	gateway   Gateway
	directory Directory
	ledger    PresenceStore
	alerts    ingest.AlertSink
	idem      IdempotencyStore
	upgrader  websocket.Upgrader
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	return &Handlers{
		auth:      d.Auth,
		gateway:   d.Gateway,
		directory: d.Directory,
		ledger:    d.Ledger,
		alerts:    d.Alerts,
		idem:      d.Idempotency,
		upgrader:  newUpgrader(d.AllowedOrigins),
	}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.ParseBounded(c.Query("page"), 1, 1, 0)
	pageSize = utils.ParseBounded(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return page, pageSize
}

// caller returns the identity set by middleware.Authenticate, failing with
// 401 when the route was mounted without it.
func caller(c *gin.Context) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok || id.ID == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return domain.Identity{}, false
	}
	return id, true
}

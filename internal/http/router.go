// Package httpapi wires the gateway's HTTP surface (Gin) to the realtime
// hub, the presence registry and the alert intake, and installs the
// cross-cutting middleware: tracing, correlation ids, redacted access logs,
// panic recovery, metrics, CORS, security headers, authentication,
// idempotency keys and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-realtime-gateway/docs"
	"github.com/tbourn/go-realtime-gateway/internal/config"
	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/http/handlers"
	"github.com/tbourn/go-realtime-gateway/internal/http/middleware"
	"github.com/tbourn/go-realtime-gateway/internal/ingest"
	"github.com/tbourn/go-realtime-gateway/internal/repo"
	"github.com/tbourn/go-realtime-gateway/internal/services"
)

const wsPath = "/ws"

// Deps are the running gateway components exposed over HTTP.
type Deps struct {
	Auth       handlers.Authenticator
	Gateway    handlers.Gateway
	Dispatcher *services.Dispatcher
	Presence   *services.PresenceRegistry
	Alerts     ingest.AlertSink
}

// directoryShim answers presence lists from the dispatcher (which applies
// the requester exclusion) and single lookups from the registry.
type directoryShim struct {
	d *services.Dispatcher
	p *services.PresenceRegistry
}

func (s directoryShim) ListOnline(requester domain.Identity) []domain.Identity {
	return s.d.ListOnline(requester)
}

func (s directoryShim) Get(userID string) (domain.Identity, bool) { return s.p.Get(userID) }

// ledgerShim proxies repo.GetPresence.
type ledgerShim struct{ db *gorm.DB }

func (s ledgerShim) GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	return repo.GetPresence(ctx, s.db, userID)
}

// idempotencyShim proxies the idempotency repository with a fixed TTL.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyShim) Get(ctx context.Context, producer, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, producer, key, now)
}

func (s idempotencyShim) Create(ctx context.Context, producer, key, userID, outcome string) error {
	_, err := repo.CreateIdempotency(ctx, s.db, producer, key, userID, outcome, s.ttl)
	return err
}

func (s idempotencyShim) Complete(ctx context.Context, producer, key, outcome string) error {
	return repo.SetIdempotencyOutcome(ctx, s.db, producer, key, outcome)
}

func (s idempotencyShim) Release(ctx context.Context, producer, key string) error {
	return repo.DeleteIdempotency(ctx, s.db, producer, key)
}

func (s idempotencyShim) lookup(ctx context.Context, producer, key string, now time.Time) (bool, error) {
	rec, err := s.Get(ctx, producer, key, now)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	return rec != nil, nil
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (masks bearer tokens passed as access_token)
//  4. Recovery
//  5. Body size limit
//  6. Metrics (websocket route excluded)
//  7. CORS and security headers
//
// Routes:
//   - GET  /health, /metrics, /swagger/*any (when enabled)
//   - GET  /ws                         token checked by the handler before upgrade
//   - GET  {api}/users/online          bearer auth, gzip, rate limit
//   - GET  {api}/users/:id/presence    bearer auth, gzip, rate limit
//   - POST /internal/alerts            internal token, idempotency, rate limit
func RegisterRoutes(r *gin.Engine, db *gorm.DB, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics(wsPath))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	deps := handlers.Deps{
		Auth:           d.Auth,
		Gateway:        d.Gateway,
		Directory:      directoryShim{d: d.Dispatcher, p: d.Presence},
		Alerts:         d.Alerts,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	var lookup middleware.IdempotencyLookup
	if db != nil {
		idem := idempotencyShim{db: db, ttl: cfg.IdempotencyTTL}
		deps.Ledger = ledgerShim{db: db}
		deps.Idempotency = idem
		lookup = idem.lookup
	}
	h := handlers.New(deps)

	// Realtime channel: no gzip (hijacked), auth happens before the upgrade.
	r.GET(wsPath, h.Connect)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		gzip.Gzip(gzip.DefaultCompression),
		middleware.Authenticate(d.Auth),
		middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler(),
	)
	{
		api.GET("/users/online", h.ListOnline)
		api.GET("/users/:id/presence", h.GetPresence)
	}

	// Service-to-service intake
	internal := r.Group("/internal")
	internal.Use(
		middleware.InternalToken(cfg.InternalToken),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup),
		middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler(),
	)
	{
		internal.POST("/alerts", h.PostAlert)
	}
}

// corsMiddleware allows every origin without credentials when no allowlist
// is configured, otherwise only the listed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderIdempotencyKey, middleware.HeaderProducer,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = origins
	}
	return cors.New(conf)
}

// limitBody caps request bodies at maxBytes; larger reads fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

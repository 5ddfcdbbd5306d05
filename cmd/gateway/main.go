// Command gateway runs the realtime gateway: authenticated websocket
// channels, one-to-one chat sessions, the chatbot bridge and delivery of
// consumption alerts to online and returning users.
//
//	@title						Realtime Gateway API
//	@version					1.0
//	@description				Websocket presence, chat routing and consumption-alert delivery.
//	@BasePath					/
//	@schemes					http https
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-gateway/internal/clients"
	"github.com/tbourn/go-realtime-gateway/internal/config"
	httpapi "github.com/tbourn/go-realtime-gateway/internal/http"
	"github.com/tbourn/go-realtime-gateway/internal/ingest"
	"github.com/tbourn/go-realtime-gateway/internal/observability"
	"github.com/tbourn/go-realtime-gateway/internal/realtime"
	"github.com/tbourn/go-realtime-gateway/internal/repo"
	"github.com/tbourn/go-realtime-gateway/internal/services"
	"github.com/tbourn/go-realtime-gateway/internal/sysutil"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const purgeInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server error.
// Returning instead of exiting lets the deferred cleanups run.
func run() error {
	// 1. Configuration & logging
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// 3. Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %q: %w", cfg.DBPath, err)
	}
	defer func() {
		if err := repo.Close(db); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	// Nobody is connected to a process that just started.
	n, err := repo.ResetOnline(ctx, db, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset presence ledger: %w", err)
	}
	if n > 0 {
		log.Info().Int64("rows", n).Msg("presence ledger reset after restart")
	}

	// 4. Core services
	presence := services.NewPresenceRegistry()
	sessions := services.NewSessionRouter()
	hub := realtime.NewHub(realtime.Config{
		SendBuffer:   cfg.Websocket.SendBuffer,
		ReadLimit:    cfg.Websocket.ReadLimit,
		PingInterval: cfg.Websocket.PingInterval,
		PongWait:     cfg.Websocket.PongWait,
		WriteWait:    cfg.Websocket.WriteWait,
		FrameRPS:     cfg.Websocket.FrameRPS,
		FrameBurst:   cfg.Websocket.FrameBurst,
		FlushDelay:   cfg.Notifications.FlushDelay,
		FlushTimeout: cfg.Notifications.FlushTimeout,
	}, presence, repo.PresenceLedger{DB: db})

	bot := clients.NewChatbotBridge(cfg.Collaborators.SupportServiceURL, cfg.Collaborators.ChatbotTimeout)
	dispatcher := services.NewDispatcher(presence, sessions, bot, hub,
		cfg.Identities.ChatbotID, cfg.Identities.SystemID)
	buffer := services.NewNotificationBuffer(presence, sessions, hub,
		cfg.Identities.SystemID, cfg.Notifications.Capacity)
	hub.Route(dispatcher, buffer)

	auth := clients.NewAuthenticator(cfg.Collaborators.AuthServiceURL, cfg.Collaborators.AuthTimeout)

	// 5. Alert ingestion over NATS
	var consumer *ingest.Consumer
	if cfg.NATS.Enabled {
		nc, err := ingest.Connect(cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()
		consumer = ingest.NewConsumer(nc, cfg.NATS.Subject, cfg.NATS.QueueGroup, buffer)
		if err := consumer.Start(); err != nil {
			return fmt.Errorf("nats subscribe %s: %w", cfg.NATS.Subject, err)
		}
		log.Info().Str("subject", cfg.NATS.Subject).Str("queue", cfg.NATS.QueueGroup).Msg("alert consumer started")
	}

	// 6. HTTP
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Deps{
		Auth:       auth,
		Gateway:    hub,
		Dispatcher: dispatcher,
		Presence:   presence,
		Alerts:     buffer,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return log.Logger.WithContext(context.Background()) },
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	go purgeIdempotency(ctx, db, purgeInterval)

	// 7. Wait for stop or error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errChan:
		return err
	}

	// 8. Drain in dependency order: stop intake, close sockets, let pending
	// chatbot replies finish.
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		if err := consumer.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Warn().Err(err).Msg("nats drain")
		}
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := hub.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("hub shutdown")
	}
	waitOrTimeout(sctx, dispatcher.Wait)

	log.Info().Msg("gateway stopped cleanly")
	return nil
}

func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		})
	}
	log.Logger = log.With().Str("service", cfg.OTEL.ServiceName).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// purgeIdempotency drops expired alert keys until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("expired idempotency keys purged")
			}
		}
	}
}

func waitOrTimeout(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("gave up waiting for chatbot replies")
	}
}

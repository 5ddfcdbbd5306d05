// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes gateway settings such
// as server timeouts, logging, collaborator endpoints, websocket tuning,
// notification buffering, alert ingestion, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The same
// allowlist is used to validate the Origin of websocket upgrades.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "realtime-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CollaboratorsConfig holds the endpoints of the external services the
// gateway calls: token validation and the automated responder.
type CollaboratorsConfig struct {
	AuthServiceURL    string        // AUTH_SERVICE_URL, GET {url}/validate
	AuthTimeout       time.Duration // AUTH_TIMEOUT
	SupportServiceURL string        // SUPPORT_SERVICE_URL, POST {url}/internal/ask
	ChatbotTimeout    time.Duration // CHATBOT_TIMEOUT
}

// IdentitiesConfig names the well-known non-human participants.
type IdentitiesConfig struct {
	ChatbotID string // CHATBOT_ID
	SystemID  string // SYSTEM_ID
}

// WebsocketConfig tunes the push channel.
type WebsocketConfig struct {
	SendBuffer   int           // per-connection outbound frame queue
	ReadLimit    int64         // max inbound frame size in bytes
	PingInterval time.Duration // keepalive ping period
	PongWait     time.Duration // read deadline extension on pong
	WriteWait    time.Duration // per-frame write deadline
	FrameRPS     float64       // inbound frames per second per connection
	FrameBurst   int
}

// NotificationsConfig configures offline alert buffering.
type NotificationsConfig struct {
	Capacity     int           // NOTIFICATION_CAPACITY, entries held per user
	FlushDelay   time.Duration // FLUSH_DELAY, delay between connect and flush
	FlushTimeout time.Duration // FLUSH_TIMEOUT, how long a flush waits on a slow connection
}

// NATSConfig configures the alert ingestion consumer.
type NATSConfig struct {
	Enabled    bool
	URL        string
	Subject    string
	QueueGroup string
	ClientName string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	ShutdownTimeout   time.Duration

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage (presence ledger + alert idempotency)
	DBPath string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency of the internal alert endpoint
	IdempotencyTTL time.Duration
	InternalToken  string // shared secret for /internal/* routes

	Collaborators CollaboratorsConfig
	Identities    IdentitiesConfig
	Websocket     WebsocketConfig
	Notifications NotificationsConfig
	NATS          NATSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "gateway.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		InternalToken:  getenv("INTERNAL_TOKEN", ""),

		Collaborators: CollaboratorsConfig{
			AuthServiceURL:    strings.TrimRight(getenv("AUTH_SERVICE_URL", "http://localhost:8081/auth"), "/"),
			AuthTimeout:       getdur("AUTH_TIMEOUT", 5*time.Second),
			SupportServiceURL: strings.TrimRight(getenv("SUPPORT_SERVICE_URL", "http://localhost:8085"), "/"),
			ChatbotTimeout:    getdur("CHATBOT_TIMEOUT", 30*time.Second),
		},
		Identities: IdentitiesConfig{
			ChatbotID: getenv("CHATBOT_ID", "chatbot"),
			SystemID:  getenv("SYSTEM_ID", "system"),
		},
		Websocket: WebsocketConfig{
			SendBuffer:   getint("WS_SEND_BUFFER", 64),
			ReadLimit:    int64(getint("WS_READ_LIMIT", 64<<10)),
			PingInterval: getdur("WS_PING_INTERVAL", 25*time.Second),
			PongWait:     getdur("WS_PONG_WAIT", 60*time.Second),
			WriteWait:    getdur("WS_WRITE_WAIT", 10*time.Second),
			FrameRPS:     getfloat("WS_FRAME_RPS", 20),
			FrameBurst:   getint("WS_FRAME_BURST", 40),
		},
		Notifications: NotificationsConfig{
			Capacity:     getint("NOTIFICATION_CAPACITY", 100),
			FlushDelay:   getdur("FLUSH_DELAY", 500*time.Millisecond),
			FlushTimeout: getdur("FLUSH_TIMEOUT", 10*time.Second),
		},
		NATS: NATSConfig{
			Enabled:    getbool("NATS_ENABLED", false),
			URL:        getenv("NATS_URL", "nats://localhost:4222"),
			Subject:    getenv("ALERTS_SUBJECT", "user.notification"),
			QueueGroup: getenv("ALERTS_QUEUE_GROUP", "realtime-gateway"),
			ClientName: getenv("NATS_CLIENT_NAME", "realtime-gateway"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "realtime-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Collaborators.AuthServiceURL == "" {
		return cfg, errors.New("AUTH_SERVICE_URL must not be empty")
	}
	if cfg.Collaborators.SupportServiceURL == "" {
		return cfg, errors.New("SUPPORT_SERVICE_URL must not be empty")
	}
	if cfg.Collaborators.AuthTimeout <= 0 || cfg.Collaborators.ChatbotTimeout <= 0 {
		return cfg, errors.New("AUTH_TIMEOUT and CHATBOT_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Identities.ChatbotID) == "" || strings.TrimSpace(cfg.Identities.SystemID) == "" {
		return cfg, errors.New("CHATBOT_ID and SYSTEM_ID must not be empty")
	}
	if cfg.Identities.ChatbotID == cfg.Identities.SystemID {
		return cfg, errors.New("CHATBOT_ID and SYSTEM_ID must differ")
	}
	if cfg.Websocket.SendBuffer < 1 {
		return cfg, errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if cfg.Websocket.ReadLimit <= 0 {
		return cfg, errors.New("WS_READ_LIMIT must be > 0")
	}
	if cfg.Websocket.PingInterval <= 0 || cfg.Websocket.PongWait <= cfg.Websocket.PingInterval {
		return cfg, errors.New("WS_PONG_WAIT must be greater than WS_PING_INTERVAL (> 0)")
	}
	if cfg.Websocket.WriteWait <= 0 {
		return cfg, errors.New("WS_WRITE_WAIT must be > 0")
	}
	if cfg.Websocket.FrameRPS <= 0 || cfg.Websocket.FrameBurst < 1 {
		return cfg, errors.New("WS_FRAME_RPS must be > 0 and WS_FRAME_BURST >= 1")
	}
	if cfg.Notifications.Capacity < 1 {
		return cfg, errors.New("NOTIFICATION_CAPACITY must be >= 1")
	}
	if cfg.Notifications.FlushDelay < 0 {
		return cfg, errors.New("FLUSH_DELAY must be >= 0")
	}
	if cfg.Notifications.FlushTimeout <= 0 {
		return cfg, errors.New("FLUSH_TIMEOUT must be > 0")
	}
	if cfg.NATS.Enabled && (cfg.NATS.URL == "" || cfg.NATS.Subject == "") {
		return cfg, errors.New("NATS_URL and ALERTS_SUBJECT are required when NATS_ENABLED")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

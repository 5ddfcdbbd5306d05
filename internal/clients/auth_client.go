package clients

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

// Identity headers returned by the auth service on a valid token.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
	HeaderUserRole = "X-User-Role"
)

// Authenticator validates bearer tokens against the auth service.
type Authenticator struct {
	rc *resty.Client
}

// NewAuthenticator builds a client for GET {baseURL}/validate. timeout
// bounds each call.
func NewAuthenticator(baseURL string, timeout time.Duration) *Authenticator {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	return &Authenticator{rc: rc}
}

// Authenticate exchanges token for a verified identity. Any failure is
// reported as ErrInvalidToken; the cause is logged at debug level only.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	ctx, span := otel.Tracer("clients/Authenticator").Start(ctx, "Authenticate")
	defer span.End()

	lg := zerolog.Ctx(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		span.SetStatus(codes.Error, "empty token")
		return domain.Identity{}, ErrInvalidToken
	}

	resp, err := a.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/validate")
	if err != nil {
		lg.Debug().Err(err).Msg("auth service call failed")
		span.SetStatus(codes.Error, err.Error())
		return domain.Identity{}, ErrInvalidToken
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.StatusCode() != http.StatusOK {
		lg.Debug().Int("status", resp.StatusCode()).Msg("token rejected")
		return domain.Identity{}, ErrInvalidToken
	}

	h := resp.Header()
	id := strings.TrimSpace(h.Get(HeaderUserID))
	name := strings.TrimSpace(h.Get(HeaderUsername))
	role, rerr := domain.ParseRole(h.Get(HeaderUserRole))
	if id == "" || name == "" || rerr != nil {
		lg.Debug().Str("user_id", id).Msg("incomplete identity headers")
		span.SetStatus(codes.Error, "incomplete identity")
		return domain.Identity{}, ErrInvalidToken
	}

	span.SetAttributes(attribute.String("user.id", id))
	return domain.Identity{ID: id, Username: name, Role: role}, nil
}

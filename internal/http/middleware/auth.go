package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

const (
	// HeaderInternalToken carries the shared secret for /internal routes.
	HeaderInternalToken = "X-Internal-Token"

	// userIDKey matches the key KeyByUserOrIP and the access log read.
	userIDKey   = "userID"
	identityKey = "identity"
)

// TokenAuthenticator validates a bearer token and resolves the caller.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// BearerToken extracts the caller's token from "Authorization: Bearer <t>"
// or, for browsers that cannot set headers on a websocket handshake, from
// the access_token query parameter. Returns "" when neither is present.
func BearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		scheme, tok, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(c.Query("access_token"))
}

// SetIdentity stores an authenticated identity on the Gin context.
func SetIdentity(c *gin.Context, id domain.Identity) {
	c.Set(identityKey, id)
	c.Set(userIDKey, id.ID)
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

// Authenticate resolves the bearer token through auth and stores the
// identity for downstream handlers, the rate limiter key and the access log.
// Missing or rejected tokens end the request with 401.
func Authenticate(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		id, err := auth.Authenticate(c.Request.Context(), tok)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected")
			abortUnauthorized(c, "invalid token")
			return
		}
		SetIdentity(c, id)
		c.Next()
	}
}

// InternalToken guards service-to-service routes with a shared secret sent
// in X-Internal-Token. An empty secret disables the routes (403).
func InternalToken(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "forbidden",
				"message":    "internal routes are disabled",
			})
			return
		}
		got := []byte(c.GetHeader(HeaderInternalToken))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			abortUnauthorized(c, "invalid internal token")
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="gateway"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "unauthorized",
		"message":    msg,
	})
}

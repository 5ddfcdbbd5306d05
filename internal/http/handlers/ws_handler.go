package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/tbourn/go-realtime-gateway/internal/http/middleware"
)

// newUpgrader builds the websocket upgrader. Browser handshakes must come
// from an allowed origin when a list is configured; requests without an
// Origin header (native clients) are always accepted. Handshake failures are
// answered with the usual JSON envelope.
func newUpgrader(allowed []string) websocket.Upgrader {
	origins := lo.SliceToMap(allowed, func(o string) (string, struct{}) {
		return strings.TrimRight(strings.ToLower(o), "/"), struct{}{}
	})
	return websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := origins[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			body, _ := json.Marshal(ErrorResponse{
				RequestID: w.Header().Get("X-Request-ID"),
				Code:      ErrCodeUpgradeFailed,
				Message:   http.StatusText(status),
			})
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			_, _ = w.Write(body)
		},
	}
}

// Connect godoc
// @ID          connectWebsocket
// @Summary     Open the realtime channel
// @Description Authenticates the bearer token with the auth service and upgrades to a websocket.
// @Description Server frames: {"destination","payload"} on /queue/chat, /queue/users, /queue/errors, /topic/user-status.
// @Description Client frames: {"action":"chat.start","recipientId"}, {"action":"chat.send","sessionId","content"}, {"action":"users.online"}.
// @Tags        Realtime
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       access_token   query   string  false "Bearer token for clients that cannot set headers"
//
// @Success     101  {string}  string "Switching Protocols"
// @Failure     400  {object}  handlers.ErrorResponse "Not a websocket handshake"
// @Failure     401  {object}  handlers.ErrorResponse "Missing or invalid token"
// @Failure     403  {object}  handlers.ErrorResponse "Origin not allowed"
// @Router      /ws [get]
func (h *Handlers) Connect(c *gin.Context) {
	tok := middleware.BearerToken(c)
	if tok == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
		return
	}

	ctx := c.Request.Context()
	user, err := h.auth.Authenticate(ctx, tok)
	if err != nil {
		middleware.LoggerFrom(c).Info().Err(err).Msg("websocket handshake rejected")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
		return
	}
	middleware.SetIdentity(c, user)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered through upgrader.Error.
		middleware.LoggerFrom(c).Warn().Err(err).Str("user_id", user.ID).Msg("websocket upgrade failed")
		c.Abort()
		return
	}

	h.gateway.Serve(ctx, conn, user)
}

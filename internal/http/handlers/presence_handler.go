package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/repo"
	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

// OnlineUsersResponse wraps a page of online users.
type OnlineUsersResponse struct {
	Users      []domain.Identity `json:"users"`
	Pagination Pagination        `json:"pagination"`
}

// PresenceResponse combines live status with the durable ledger.
type PresenceResponse struct {
	UserID      string     `json:"user_id" example:"u-42"`
	Username    string     `json:"username,omitempty" example:"alice"`
	Role        string     `json:"role,omitempty" example:"USER"`
	Online      bool       `json:"online"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// ListOnline godoc
// @ID          listOnlineUsers
// @Summary     List online users (paginated)
// @Description Returns the users currently connected, excluding the caller, sorted by id.
// @Tags        Presence
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query  int  false "Page number"    minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page" minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.OnlineUsersResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /api/v1/users/online [get]
func (h *Handlers) ListOnline(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	page, pageSize := clampPagination(c)

	all := h.directory.ListOnline(me)
	start, end := utils.PageWindow(len(all), page, pageSize)
	ok(c, http.StatusOK, OnlineUsersResponse{
		Users:      append(make([]domain.Identity, 0, end-start), all[start:end]...),
		Pagination: newPagination(page, pageSize, int64(len(all))),
	})
}

// GetPresence godoc
// @ID          getUserPresence
// @Summary     Presence of one user
// @Description Live online status plus the last connection times from the ledger. Supports weak ETag via If-None-Match.
// @Tags        Presence
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "User ID"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.PresenceResponse
// @Header      200  {string}  ETag "Weak ETag for current state"
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse "User never seen"
// @Failure     500  {object}  handlers.ErrorResponse "Ledger lookup failed"
// @Router      /api/v1/users/{id}/presence [get]
func (h *Handlers) GetPresence(c *gin.Context) {
	if _, authed := caller(c); !authed {
		return
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return
	}

	resp := PresenceResponse{UserID: userID}
	live, online := h.directory.Get(userID)
	if online {
		resp.Online = true
		resp.Username = live.Username
		resp.Role = string(live.Role)
	}

	if h.ledger != nil {
		rec, err := h.ledger.GetPresence(c.Request.Context(), userID)
		switch {
		case err == nil:
			if resp.Username == "" {
				resp.Username, resp.Role = rec.Username, rec.Role
			}
			if !rec.ConnectedAt.IsZero() {
				t := rec.ConnectedAt.UTC()
				resp.ConnectedAt = &t
			}
			if !rec.LastSeenAt.IsZero() {
				t := rec.LastSeenAt.UTC()
				resp.LastSeenAt = &t
			}
		case errors.Is(err, repo.ErrNotFound):
			// never persisted; live state only
		default:
			fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, "presence lookup failed")
			return
		}
	}

	if !online && resp.LastSeenAt == nil && resp.ConnectedAt == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not seen")
		return
	}

	var seen int64
	if resp.LastSeenAt != nil {
		seen = resp.LastSeenAt.Unix()
	}
	etag := fmt.Sprintf(`W/"presence:%s:%t:%d"`, userID, resp.Online, seen)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, resp)
}

package realtime

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/observability"
	"github.com/tbourn/go-realtime-gateway/internal/services"
	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

// Config tunes connection handling. See config.WebsocketConfig for the
// environment keys.
type Config struct {
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	FrameRPS     float64
	FrameBurst   int
	FlushDelay   time.Duration
	FlushTimeout time.Duration
}

// Ledger persists presence transitions. at is taken when the transition
// happens, so an implementation can discard writes that arrive after a newer
// one. Errors are logged and ignored.
type Ledger interface {
	MarkOnline(ctx context.Context, id domain.Identity, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
}

// userConns is every open connection of one user plus the pending
// post-connect flush, guarded by the hub's shard lock for that user.
type userConns struct {
	identity domain.Identity
	clients  map[string]*Client
	flush    *time.Timer
}

// Hub tracks connections per user and implements services.Pusher.
//
// Presence follows connections: a user goes ONLINE with the first connection
// and OFFLINE when the last one closes. Every connect broadcasts ONLINE and
// (re)arms a one-shot timer that, after FlushDelay, sends the user the
// online list and flushes their notification buffer. Re-arming stops the
// previous timer, and the timer is stopped when the user goes offline. A
// flush that leaves alerts behind while the user is still online is
// re-armed.
type Hub struct {
	cfg        Config
	presence   *services.PresenceRegistry
	ledger     Ledger
	dispatcher *services.Dispatcher
	buffer     *services.NotificationBuffer

	users  *utils.ShardedMap[*userConns]
	conns  atomic.Int64
	mu     sync.Mutex // orders admission against Shutdown
	closed atomic.Bool
	wg     sync.WaitGroup
}

var _ services.Pusher = (*Hub)(nil)

// NewHub builds a hub. ledger may be nil.
func NewHub(cfg Config, presence *services.PresenceRegistry, ledger Ledger) *Hub {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 12 / 5
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.FrameRPS <= 0 {
		cfg.FrameRPS = float64(rate.Inf)
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:      cfg,
		presence: presence,
		ledger:   ledger,
		users:    utils.NewShardedMap[*userConns](),
	}
}

// Route attaches the components that consume client frames and post-connect
// flushes. Both are built on top of the hub as their Pusher, hence the
// second step.
func (h *Hub) Route(d *services.Dispatcher, b *services.NotificationBuffer) {
	h.dispatcher = d
	h.buffer = b
}

// SendToUser implements services.Pusher.
func (h *Hub) SendToUser(userID, destination string, payload any) bool {
	b, err := encodeFrame(destination, payload)
	if err != nil {
		log.Error().Err(err).Str("destination", destination).Msg("encode frame")
		return false
	}
	accepted := false
	h.users.View(userID, func(u *userConns, ok bool) {
		if !ok {
			return
		}
		for _, c := range u.clients {
			if c.enqueue(b) {
				accepted = true
			}
		}
	})
	if accepted {
		observability.Deliveries.WithLabelValues(destination).Inc()
	}
	return accepted
}

// SendToUserWait implements services.Pusher. Connections are snapshotted
// first so no shard lock is held while waiting on a slow client.
func (h *Hub) SendToUserWait(ctx context.Context, userID, destination string, payload any) bool {
	b, err := encodeFrame(destination, payload)
	if err != nil {
		log.Error().Err(err).Str("destination", destination).Msg("encode frame")
		return false
	}
	var targets []*Client
	h.users.View(userID, func(u *userConns, ok bool) {
		if !ok {
			return
		}
		for _, c := range u.clients {
			targets = append(targets, c)
		}
	})
	accepted := false
	for _, c := range targets {
		if c.enqueueWait(ctx, b) {
			accepted = true
		}
	}
	if accepted {
		observability.Deliveries.WithLabelValues(destination).Inc()
	}
	return accepted
}

// Broadcast implements services.Pusher.
func (h *Hub) Broadcast(destination string, payload any) int {
	b, err := encodeFrame(destination, payload)
	if err != nil {
		log.Error().Err(err).Str("destination", destination).Msg("encode frame")
		return 0
	}
	n := 0
	h.users.Range(func(_ string, u *userConns) {
		for _, c := range u.clients {
			if c.enqueue(b) {
				n++
			}
		}
	})
	if n > 0 {
		observability.Deliveries.WithLabelValues(destination).Add(float64(n))
	}
	return n
}

// Serve runs an upgraded connection for user until it closes. It blocks
// for the lifetime of the connection: the calling goroutine becomes the
// reader and a second goroutine writes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, user domain.Identity) {
	c := newClient(conn, user, h.cfg, zerolog.Ctx(ctx))
	if !h.admit() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	defer h.wg.Done()

	ctx = c.log.WithContext(ctx)
	h.Connect(ctx, c)
	go c.writePump(h.cfg)
	h.readPump(ctx, c)
	c.close()
	h.Disconnect(context.WithoutCancel(ctx), c)
}

// admit counts a new connection in the wait group unless Shutdown has
// begun.
func (h *Hub) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return false
	}
	h.wg.Add(1)
	return true
}

// Connect registers c, marks its user online, broadcasts ONLINE and arms
// the post-connect flush. A client registered after Shutdown began is
// closed at once.
func (h *Hub) Connect(ctx context.Context, c *Client) {
	uid := c.user.ID
	first := false
	var at time.Time
	h.users.Update(uid, func(u *userConns, ok bool) (*userConns, bool) {
		if !ok {
			u = &userConns{clients: make(map[string]*Client)}
			first = true
			at = time.Now()
		}
		u.identity = c.user
		u.clients[c.id] = c
		h.presence.SetOnline(c.user)
		if u.flush != nil {
			u.flush.Stop()
		}
		u.flush = time.AfterFunc(h.cfg.FlushDelay, func() { h.afterConnect(ctx, uid) })
		return u, true
	})
	if h.closed.Load() {
		c.close()
	}

	observability.ConnectionsActive.Set(float64(h.conns.Add(1)))
	observability.UsersOnline.Set(float64(h.presence.Count()))
	c.log.Info().Bool("first_connection", first).Msg("websocket connected")

	h.Broadcast(domain.DestinationUserStatus, domain.UserStatusMessage{Status: domain.StatusOnline, User: c.user})
	if first && h.ledger != nil {
		if err := h.ledger.MarkOnline(ctx, c.user, at); err != nil {
			c.log.Warn().Err(err).Msg("presence ledger: mark online")
		}
	}
}

// Disconnect unregisters c. When it was the user's last connection the
// user goes offline, the pending flush is cancelled and OFFLINE is
// broadcast.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	uid := c.user.ID
	last, found := false, false
	var identity domain.Identity
	var at time.Time
	h.users.Update(uid, func(u *userConns, ok bool) (*userConns, bool) {
		if !ok {
			return u, false
		}
		if _, mine := u.clients[c.id]; !mine {
			return u, true
		}
		found = true
		delete(u.clients, c.id)
		if len(u.clients) > 0 {
			return u, true
		}
		last = true
		at = time.Now()
		identity = u.identity
		if u.flush != nil {
			u.flush.Stop()
		}
		h.presence.SetOffline(u.identity)
		return u, false
	})
	if !found {
		return
	}

	observability.ConnectionsActive.Set(float64(h.conns.Add(-1)))
	observability.UsersOnline.Set(float64(h.presence.Count()))
	c.log.Info().Bool("last_connection", last).Msg("websocket disconnected")

	if !last {
		return
	}
	h.Broadcast(domain.DestinationUserStatus, domain.UserStatusMessage{Status: domain.StatusOffline, User: identity})
	if h.ledger != nil {
		if err := h.ledger.MarkOffline(ctx, uid, at); err != nil {
			c.log.Warn().Err(err).Msg("presence ledger: mark offline")
		}
	}
}

// afterConnect runs on the flush timer's goroutine.
func (h *Hub) afterConnect(ctx context.Context, userID string) {
	id, ok := h.presence.Get(userID)
	if !ok {
		return
	}
	if h.dispatcher != nil {
		h.SendToUser(userID, domain.DestinationUsers, h.dispatcher.ListOnline(id))
	}
	h.flush(ctx, userID)
}

// flush drains the user's notification buffer, waiting up to FlushTimeout
// on slow connections. Whatever is left while the user stays online gets
// another attempt after FlushDelay.
func (h *Hub) flush(ctx context.Context, userID string) {
	if h.buffer == nil || !h.presence.IsOnline(userID) {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.FlushTimeout)
	n := h.buffer.Flush(fctx, userID)
	cancel()
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int("delivered", n).Msg("notifications flushed")
	}
	if left := h.buffer.Pending(userID); left > 0 {
		zerolog.Ctx(ctx).Debug().Int("pending", left).Msg("flush incomplete, retrying")
		h.rearmFlush(ctx, userID)
	}
}

// rearmFlush schedules another flush while the user is connected. A timer
// armed by a newer connect is left in place; it flushes too.
func (h *Hub) rearmFlush(ctx context.Context, userID string) {
	h.users.Update(userID, func(u *userConns, ok bool) (*userConns, bool) {
		if !ok {
			return u, false
		}
		if u.flush != nil && u.flush.Stop() {
			u.flush.Reset(h.cfg.FlushDelay)
			return u, true
		}
		u.flush = time.AfterFunc(h.cfg.FlushDelay, func() { h.flush(ctx, userID) })
		return u, true
	})
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(h.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !c.limiter.Allow() {
			h.sendError(c, CodeRateLimited, "too many frames")
			continue
		}
		h.handleFrame(ctx, c, raw)
	}
}

// handleFrame executes one client frame. A panic is logged and the frame
// becomes a no-op; the connection stays open.
func (h *Hub) handleFrame(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered in frame handler")
			h.sendError(c, CodeInternal, "internal error")
		}
	}()

	f, err := decodeClientFrame(raw)
	if err != nil {
		h.sendError(c, CodeBadFrame, "frame is not valid JSON")
		return
	}

	switch f.Action {
	case ActionStartChat:
		if _, err := h.dispatcher.StartChat(ctx, c.user, f.RecipientID); err != nil {
			h.sendError(c, CodeBadRequest, err.Error())
		}
	case ActionSendMessage:
		err := h.dispatcher.SendMessage(ctx, c.user, f.SessionID, f.Content)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrNoPeer):
			c.log.Debug().Err(err).Str("session_id", f.SessionID).Msg("message dropped")
		default:
			h.sendError(c, CodeBadRequest, err.Error())
		}
	case ActionListOnline:
		h.SendToUser(c.user.ID, domain.DestinationUsers, h.dispatcher.ListOnline(c.user))
	default:
		h.sendError(c, CodeUnknownAction, "unknown action "+f.Action)
	}
}

// sendError writes only to the offending connection, not every tab.
func (h *Hub) sendError(c *Client, code, msg string) {
	b, err := encodeFrame(domain.DestinationErrors, domain.ErrorFrame{Code: code, Message: msg})
	if err != nil {
		return
	}
	if c.enqueue(b) {
		observability.Deliveries.WithLabelValues(domain.DestinationErrors).Inc()
	}
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int { return int(h.conns.Load()) }

// Shutdown closes every connection and waits for them to finish
// disconnecting, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed.Store(true)
	h.mu.Unlock()
	h.users.Range(func(_ string, u *userConns) {
		for _, c := range u.clients {
			c.close()
		}
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

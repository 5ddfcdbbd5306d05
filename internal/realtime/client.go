package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/observability"
)

// Client is one authenticated websocket connection. Frames reach the socket
// only through the bounded send channel, drained by writePump.
type Client struct {
	id      string
	user    domain.Identity
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newClient(conn *websocket.Conn, user domain.Identity, cfg Config, parent *zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		user:    user,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.FrameRPS), cfg.FrameBurst),
		log:     parent.With().Str("user_id", user.ID).Str("conn_id", id).Logger(),
	}
}

// ID is the per-connection id (not the user id).
func (c *Client) ID() string { return c.id }

// User is the identity the connection authenticated as.
func (c *Client) User() domain.Identity { return c.user }

// enqueue never blocks. A full buffer drops the frame.
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		observability.FramesDropped.Inc()
		c.log.Warn().Int("buffer", cap(c.send)).Msg("send buffer full, frame dropped")
		return false
	}
}

// enqueueWait blocks until the frame fits, the client closes or ctx ends.
func (c *Client) enqueueWait(ctx context.Context, b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		observability.FramesDropped.Inc()
		c.log.Warn().Err(ctx.Err()).Int("buffer", cap(c.send)).Msg("send buffer stayed full, frame dropped")
		return false
	}
}

// close signals both pumps to stop. Safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(cfg.WriteWait))
			return
		}
	}
}

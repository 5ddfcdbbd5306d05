package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/observability"
	"github.com/tbourn/go-realtime-gateway/internal/utils"
)

// DefaultNotificationCapacity bounds each user's pending alerts.
const DefaultNotificationCapacity = 100

const monitoringSenderName = "Monitoring System"

// NotificationBuffer turns alerts into NOTIFICATION chat messages. Messages
// for online users are pushed at once; for offline users they wait in a
// per-user FIFO until Flush. A full queue drops the incoming alert and keeps
// what is already queued.
//
// While a user's queue is non-empty or being flushed, new alerts for that
// user queue behind it even when the user is online, so delivery order
// always matches insertion order.
type NotificationBuffer struct {
	presence OnlineChecker
	sessions *SessionRouter
	push     Pusher
	systemID string
	capacity int
	queues   *utils.ShardedMap[userQueue]
}

// userQueue is one user's pending messages. draining is set while a Flush
// owns delivery for the user; messages added meanwhile go to msgs and are
// picked up by the same Flush.
type userQueue struct {
	msgs     []domain.ChatMessage
	draining bool
}

// NewNotificationBuffer wires a buffer. capacity < 1 falls back to
// DefaultNotificationCapacity.
func NewNotificationBuffer(presence OnlineChecker, sessions *SessionRouter, push Pusher, systemID string, capacity int) *NotificationBuffer {
	if capacity < 1 {
		capacity = DefaultNotificationCapacity
	}
	return &NotificationBuffer{
		presence: presence,
		sessions: sessions,
		push:     push,
		systemID: systemID,
		capacity: capacity,
		queues:   utils.NewShardedMap[userQueue](),
	}
}

// AlertContent renders the user-facing text for an alert.
func AlertContent(a domain.Alert) string {
	return fmt.Sprintf("Device %s has a consumption of %d W at %s", a.DeviceID, a.Value, a.Timestamp)
}

// InsertAlert delivers or buffers one alert for a.UserID.
func (b *NotificationBuffer) InsertAlert(ctx context.Context, a domain.Alert) (domain.AlertOutcome, error) {
	_, span := otel.Tracer("services/NotificationBuffer").Start(ctx, "InsertAlert",
		trace.WithAttributes(
			attribute.String("user.id", a.UserID),
			attribute.String("device.id", a.DeviceID),
		),
	)
	defer span.End()

	if strings.TrimSpace(a.UserID) == "" || strings.TrimSpace(a.DeviceID) == "" {
		return "", ErrInvalidAlert
	}
	sessionID, err := b.sessions.CreateSession(a.UserID, b.systemID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	msg := domain.NewChatMessage(sessionID, domain.SenderNotification, b.systemID, monitoringSenderName, AlertContent(a), a.UserID)

	outcome := domain.AlertBuffered
	switch {
	case b.presence.IsOnline(a.UserID) && b.pushDirect(a.UserID, msg):
		outcome = domain.AlertDelivered
	case !b.enqueue(a.UserID, msg):
		outcome = domain.AlertDropped
	}

	span.SetAttributes(attribute.String("alert.outcome", string(outcome)))
	observability.Alerts.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// pushDirect sends msg unless older messages for userID are still queued
// or in flight, in which case the caller must queue it behind them.
func (b *NotificationBuffer) pushDirect(userID string, msg domain.ChatMessage) bool {
	idle := true
	b.queues.View(userID, func(q userQueue, ok bool) {
		idle = !ok || (!q.draining && len(q.msgs) == 0)
	})
	return idle && b.push.SendToUser(userID, domain.DestinationChat, msg)
}

func (b *NotificationBuffer) enqueue(userID string, msg domain.ChatMessage) bool {
	accepted := false
	b.queues.Update(userID, func(q userQueue, _ bool) (userQueue, bool) {
		if len(q.msgs) >= b.capacity {
			return q, true
		}
		accepted = true
		q.msgs = append(q.msgs, msg)
		return q, true
	})
	return accepted
}

// Flush delivers the user's queue in insertion order and returns how many
// messages were delivered. Each push waits for room on the user's
// connections until ctx ends; messages queued while the flush runs are
// delivered by it too. If delivery fails (the last connection closed or ctx
// expired) the undelivered tail goes back to the head of the queue. Only one
// Flush per user delivers at a time; a concurrent call returns 0.
func (b *NotificationBuffer) Flush(ctx context.Context, userID string) int {
	batch, owner := b.take(userID, false)
	if len(batch) == 0 {
		return 0
	}

	_, span := otel.Tracer("services/NotificationBuffer").Start(ctx, "Flush",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int("pending", len(batch))),
	)
	defer span.End()

	delivered := 0
	for len(batch) > 0 {
		for i, msg := range batch {
			if !b.push.SendToUserWait(ctx, userID, domain.DestinationChat, msg) {
				b.release(userID, batch[i:])
				batch = nil
				break
			}
			delivered++
		}
		if batch != nil {
			batch, _ = b.take(userID, owner)
		}
	}
	if delivered > 0 {
		observability.Flushes.Inc()
	}
	span.SetAttributes(attribute.Int("delivered", delivered), attribute.Int("remaining", b.Pending(userID)))
	return delivered
}

// take moves the queued messages out and marks the user as draining. A
// caller that does not yet own the drain gets nothing while another Flush
// owns it. An owner that finds the queue empty ends the drain.
func (b *NotificationBuffer) take(userID string, owner bool) ([]domain.ChatMessage, bool) {
	var out []domain.ChatMessage
	b.queues.Update(userID, func(q userQueue, ok bool) (userQueue, bool) {
		if !ok || (q.draining && !owner) {
			return q, ok
		}
		if len(q.msgs) == 0 {
			return userQueue{}, false
		}
		out, q.msgs = q.msgs, nil
		q.draining = true
		return q, true
	})
	return out, len(out) > 0
}

// release ends the drain and puts rest ahead of anything queued since,
// trimming the newest entries beyond capacity.
func (b *NotificationBuffer) release(userID string, rest []domain.ChatMessage) {
	b.queues.Update(userID, func(q userQueue, _ bool) (userQueue, bool) {
		merged := append(append([]domain.ChatMessage(nil), rest...), q.msgs...)
		if len(merged) > b.capacity {
			merged = merged[:b.capacity]
		}
		return userQueue{msgs: merged}, len(merged) > 0
	})
}

// Pending reports how many messages wait for userID, not counting those a
// running Flush is delivering.
func (b *NotificationBuffer) Pending(userID string) int {
	q, _ := b.queues.Get(userID)
	return len(q.msgs)
}

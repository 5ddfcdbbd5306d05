package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

func newBuffer(t *testing.T) (*NotificationBuffer, *PresenceRegistry, *recordingPusher) {
	t.Helper()
	presence := NewPresenceRegistry()
	push := newRecordingPusher()
	return NewNotificationBuffer(presence, NewSessionRouter(), push, "system", 100), presence, push
}

func alert(user, device string) domain.Alert {
	return domain.Alert{UserID: user, DeviceID: device, Value: 4200, Timestamp: "2024-05-01T10:00:00"}
}

func TestInsertAlert_OnlineDeliversImmediately(t *testing.T) {
	buf, presence, push := newBuffer(t)
	presence.SetOnline(domain.Identity{ID: "u1", Username: "alice", Role: domain.RoleUser})

	out, err := buf.InsertAlert(context.Background(), alert("u1", "d1"))
	if err != nil || out != domain.AlertDelivered {
		t.Fatalf("InsertAlert = %q, %v", out, err)
	}
	msgs := push.messagesFor("u1")
	if len(msgs) != 1 {
		t.Fatalf("expected one delivery, got %d", len(msgs))
	}
	m := msgs[0]
	if m.SenderType != domain.SenderNotification || m.SenderID != "system" || m.SenderName != "Monitoring System" {
		t.Fatalf("unexpected sender fields: %+v", m)
	}
	if m.Content != "Device d1 has a consumption of 4200 W at 2024-05-01T10:00:00" {
		t.Fatalf("content = %q", m.Content)
	}
	if m.SessionID != SessionID("u1", "system") || m.RecipientID != "u1" {
		t.Fatalf("session/recipient = %q/%q", m.SessionID, m.RecipientID)
	}
	if buf.Pending("u1") != 0 {
		t.Fatal("delivered alert must not be buffered")
	}
}

func TestInsertAlert_OnlineButNoConnectionFallsBackToBuffer(t *testing.T) {
	buf, presence, push := newBuffer(t)
	presence.SetOnline(domain.Identity{ID: "u1", Role: domain.RoleUser})
	push.setOffline("u1", true)

	out, _ := buf.InsertAlert(context.Background(), alert("u1", "d1"))
	if out != domain.AlertBuffered || buf.Pending("u1") != 1 {
		t.Fatalf("outcome = %q pending = %d", out, buf.Pending("u1"))
	}
}

func TestInsertAlert_CapacityDropsNewestThenFlushDrains(t *testing.T) {
	buf, _, push := newBuffer(t)
	ctx := context.Background()

	for i := 1; i <= 101; i++ {
		out, err := buf.InsertAlert(ctx, alert("u1", fmt.Sprintf("d%d", i)))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		want := domain.AlertBuffered
		if i == 101 {
			want = domain.AlertDropped
		}
		if out != want {
			t.Fatalf("insert %d outcome = %q, want %q", i, out, want)
		}
	}
	if buf.Pending("u1") != 100 {
		t.Fatalf("Pending = %d, want 100", buf.Pending("u1"))
	}

	if n := buf.Flush(ctx, "u1"); n != 100 {
		t.Fatalf("Flush delivered %d, want 100", n)
	}
	if buf.Pending("u1") != 0 {
		t.Fatal("buffer must be empty after flush")
	}
	msgs := push.messagesFor("u1")
	if len(msgs) != 100 {
		t.Fatalf("deliveries = %d", len(msgs))
	}
	if msgs[0].Content[:10] != "Device d1 " || msgs[99].Content[:12] != "Device d100 " {
		t.Fatalf("order broken: first=%q last=%q", msgs[0].Content, msgs[99].Content)
	}
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	buf, _, push := newBuffer(t)
	if n := buf.Flush(context.Background(), "nobody"); n != 0 {
		t.Fatalf("Flush = %d, want 0", n)
	}
	if len(push.sent) != 0 {
		t.Fatal("empty flush must not deliver")
	}
}

func TestFlush_ThreeAlertsInOrderExactlyOnce(t *testing.T) {
	buf, presence, push := newBuffer(t)
	ctx := context.Background()
	for _, d := range []string{"d1", "d2", "d3"} {
		_, _ = buf.InsertAlert(ctx, alert("u1", d))
	}

	presence.SetOnline(domain.Identity{ID: "u1", Role: domain.RoleUser})
	if n := buf.Flush(ctx, "u1"); n != 3 {
		t.Fatalf("Flush = %d", n)
	}
	if n := buf.Flush(ctx, "u1"); n != 0 {
		t.Fatalf("second Flush = %d, want 0", n)
	}
	msgs := push.messagesFor("u1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(msgs))
	}
	for i, d := range []string{"d1", "d2", "d3"} {
		if want := AlertContent(alert("u1", d)); msgs[i].Content != want {
			t.Fatalf("msg %d = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestFlush_DisconnectMidFlushKeepsRemainder(t *testing.T) {
	buf, _, push := newBuffer(t)
	ctx := context.Background()
	for _, d := range []string{"d1", "d2"} {
		_, _ = buf.InsertAlert(ctx, alert("u1", d))
	}
	push.setOffline("u1", true)

	if n := buf.Flush(ctx, "u1"); n != 0 {
		t.Fatalf("Flush = %d, want 0", n)
	}
	if buf.Pending("u1") != 2 {
		t.Fatalf("undelivered alerts must be kept, pending = %d", buf.Pending("u1"))
	}

	push.setOffline("u1", false)
	if n := buf.Flush(ctx, "u1"); n != 2 {
		t.Fatalf("Flush after reconnect = %d, want 2", n)
	}
}

func TestInsertAlert_OnlineQueuesBehindPendingAlerts(t *testing.T) {
	buf, presence, push := newBuffer(t)
	ctx := context.Background()
	_, _ = buf.InsertAlert(ctx, alert("u1", "d1"))

	presence.SetOnline(domain.Identity{ID: "u1", Role: domain.RoleUser})
	out, _ := buf.InsertAlert(ctx, alert("u1", "d2"))
	if out != domain.AlertBuffered {
		t.Fatalf("outcome = %q; must not overtake the queued alert", out)
	}
	if len(push.messagesFor("u1")) != 0 || buf.Pending("u1") != 2 {
		t.Fatalf("sent=%d pending=%d", len(push.messagesFor("u1")), buf.Pending("u1"))
	}

	if n := buf.Flush(ctx, "u1"); n != 2 {
		t.Fatalf("Flush = %d, want 2", n)
	}
	msgs := push.messagesFor("u1")
	if msgs[0].Content != AlertContent(alert("u1", "d1")) || msgs[1].Content != AlertContent(alert("u1", "d2")) {
		t.Fatalf("order broken: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	if out, _ := buf.InsertAlert(ctx, alert("u1", "d3")); out != domain.AlertDelivered {
		t.Fatalf("empty queue, online user: outcome = %q", out)
	}
}

func TestFlush_DeliversAlertsArrivingMidFlush(t *testing.T) {
	buf, presence, push := newBuffer(t)
	ctx := context.Background()
	_, _ = buf.InsertAlert(ctx, alert("u1", "d1"))
	_, _ = buf.InsertAlert(ctx, alert("u1", "d2"))
	presence.SetOnline(domain.Identity{ID: "u1", Role: domain.RoleUser})

	inserted := false
	push.onWait = func() {
		if inserted {
			return
		}
		inserted = true
		if out, _ := buf.InsertAlert(ctx, alert("u1", "d3")); out != domain.AlertBuffered {
			t.Errorf("alert during flush: outcome = %q", out)
		}
		if n := buf.Flush(ctx, "u1"); n != 0 {
			t.Errorf("second Flush while draining = %d, want 0", n)
		}
	}

	if n := buf.Flush(ctx, "u1"); n != 3 {
		t.Fatalf("Flush = %d, want 3", n)
	}
	msgs := push.messagesFor("u1")
	for i, d := range []string{"d1", "d2", "d3"} {
		if msgs[i].Content != AlertContent(alert("u1", d)) {
			t.Fatalf("msg %d = %q", i, msgs[i].Content)
		}
	}
	if buf.Pending("u1") != 0 {
		t.Fatalf("pending = %d", buf.Pending("u1"))
	}
}

func TestFlush_ExpiredContextKeepsQueue(t *testing.T) {
	buf, presence, _ := newBuffer(t)
	_, _ = buf.InsertAlert(context.Background(), alert("u1", "d1"))
	presence.SetOnline(domain.Identity{ID: "u1", Role: domain.RoleUser})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := buf.Flush(ctx, "u1"); n != 0 {
		t.Fatalf("Flush = %d, want 0", n)
	}
	if buf.Pending("u1") != 1 {
		t.Fatalf("pending = %d, want 1", buf.Pending("u1"))
	}
	if out, _ := buf.InsertAlert(context.Background(), alert("u1", "d2")); out != domain.AlertBuffered {
		t.Fatalf("outcome = %q, want buffered behind the kept alert", out)
	}
}

func TestInsertAlert_Invalid(t *testing.T) {
	buf, _, _ := newBuffer(t)
	ctx := context.Background()
	for _, a := range []domain.Alert{
		{DeviceID: "d1"},
		{UserID: "u1"},
		{UserID: "system", DeviceID: "d1"},
	} {
		if _, err := buf.InsertAlert(ctx, a); !errors.Is(err, ErrInvalidAlert) {
			t.Fatalf("InsertAlert(%+v) err = %v", a, err)
		}
	}
}

func TestNewNotificationBuffer_DefaultCapacity(t *testing.T) {
	buf := NewNotificationBuffer(NewPresenceRegistry(), NewSessionRouter(), newRecordingPusher(), "system", 0)
	if buf.capacity != DefaultNotificationCapacity {
		t.Fatalf("capacity = %d", buf.capacity)
	}
}

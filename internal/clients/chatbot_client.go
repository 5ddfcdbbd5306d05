package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/go-realtime-gateway/internal/observability"
)

// Reply is the single completion of an Ask: either Text or Err is set.
type Reply struct {
	Text string
	Err  error
}

// ChatbotBridge forwards user text to the support service's responder.
type ChatbotBridge struct {
	rc      *resty.Client
	timeout time.Duration
}

// NewChatbotBridge builds a client for POST {baseURL}/internal/ask.
func NewChatbotBridge(baseURL string, timeout time.Duration) *ChatbotBridge {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "text/plain")
	return &ChatbotBridge{rc: rc, timeout: timeout}
}

// Ask starts the call and returns immediately. The buffered channel
// receives exactly one Reply, so an abandoned receiver never leaks the
// goroutine.
func (b *ChatbotBridge) Ask(ctx context.Context, text string) <-chan Reply {
	out := make(chan Reply, 1)
	go func() {
		out <- b.ask(ctx, text)
	}()
	return out
}

func (b *ChatbotBridge) ask(ctx context.Context, text string) Reply {
	ctx, span := otel.Tracer("clients/ChatbotBridge").Start(ctx, "Ask")
	defer span.End()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(text).
		Post("/internal/ask")
	observability.ChatbotLatency.Observe(time.Since(start).Seconds())

	var r Reply
	switch {
	case err != nil:
		r.Err = fmt.Errorf("%w: %v", ErrResponderUnavailable, err)
	case resp.StatusCode() == http.StatusOK:
		r.Text = resp.String()
	case resp.StatusCode() == http.StatusNotFound:
		r.Err = ErrNoAnswer
	default:
		r.Err = fmt.Errorf("%w: status %d", ErrResponderUnavailable, resp.StatusCode())
	}

	result := "ok"
	switch {
	case errors.Is(r.Err, ErrNoAnswer):
		result = "no_answer"
	case r.Err != nil:
		result = "error"
	}
	observability.ChatbotRequests.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("chatbot.result", result))
	if r.Err != nil {
		span.SetStatus(codes.Error, r.Err.Error())
	}
	return r
}

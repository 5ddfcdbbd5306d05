package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-realtime-gateway/internal/config"
)

// Connect dials NATS with unlimited reconnects. Connection state changes
// are logged.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

// Consumer feeds alerts published on a subject into an AlertSink. It joins
// a queue group, so several gateway replicas split the stream.
type Consumer struct {
	nc      *nats.Conn
	subject string
	queue   string
	sink    AlertSink
	sub     *nats.Subscription
	log     zerolog.Logger
}

// NewConsumer prepares a consumer; call Start to subscribe.
func NewConsumer(nc *nats.Conn, subject, queue string, sink AlertSink) *Consumer {
	return &Consumer{
		nc:      nc,
		subject: subject,
		queue:   queue,
		sink:    sink,
		log:     log.With().Str("component", "alert-consumer").Str("subject", subject).Logger(),
	}
}

// Start subscribes. Messages are handled on the subscription's goroutine.
func (c *Consumer) Start() error {
	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	c.log.Info().Str("queue", c.queue).Msg("alert consumer started")
	return nil
}

type ack struct {
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Consumer) handle(msg *nats.Msg) {
	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
	}
	ctx, span := otel.Tracer("ingest/Consumer").Start(ctx, "alert "+msg.Subject,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	var reply ack
	alert, err := DecodeAlert(msg.Data)
	if err != nil {
		c.log.Warn().Err(err).Msg("alert rejected")
		reply.Error = err.Error()
	} else {
		outcome, err := c.sink.InsertAlert(ctx, alert)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", alert.UserID).Msg("alert not accepted")
			reply.Error = err.Error()
		} else {
			span.SetAttributes(attribute.String("alert.outcome", string(outcome)))
			c.log.Debug().Str("user_id", alert.UserID).Str("device_id", alert.DeviceID).Str("outcome", string(outcome)).Msg("alert ingested")
			reply.Outcome = string(outcome)
		}
	}

	// Request/reply producers get the outcome; plain publishers get nothing.
	if msg.Reply != "" {
		b, _ := json.Marshal(reply)
		if err := msg.Respond(b); err != nil {
			c.log.Debug().Err(err).Msg("alert reply failed")
		}
	}
}

// Drain stops delivery after in-flight messages are handled.
func (c *Consumer) Drain() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

// Package ingest turns producer payloads into domain alerts and feeds them
// to the notification buffer. Payloads arrive over NATS (Consumer) or over
// HTTP (the internal alerts handler); both go through DecodeAlert.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

// ErrInvalidPayload wraps every decode or validation failure.
var ErrInvalidPayload = errors.New("invalid alert payload")

// AlertSink accepts decoded alerts.
type AlertSink interface {
	InsertAlert(ctx context.Context, a domain.Alert) (domain.AlertOutcome, error)
}

// timestampLayouts are the ISO-8601 shapes producers are known to send:
// zoned RFC 3339 and zone-less local date-times, both with optional
// fractional seconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		return validTimestamp(fl.Field().String())
	})
	return v
}

func validTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// alertPayload mirrors domain.Alert with validation rules. Value is a
// pointer so a missing measurement is distinguishable from zero.
type alertPayload struct {
	UserID    string `json:"userId"    validate:"required"`
	DeviceID  string `json:"deviceId"  validate:"required"`
	Value     *int64 `json:"value"     validate:"required"`
	Timestamp string `json:"timestamp" validate:"required,iso8601"`
}

// DecodeAlert parses and validates one JSON alert. The timestamp is kept
// verbatim so the notification shows exactly what the producer sent.
func DecodeAlert(data []byte) (domain.Alert, error) {
	var p alertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	p.Timestamp = strings.TrimSpace(p.Timestamp)
	if err := validate.Struct(p); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return domain.Alert{
		UserID:    p.UserID,
		DeviceID:  p.DeviceID,
		Value:     *p.Value,
		Timestamp: p.Timestamp,
	}, nil
}

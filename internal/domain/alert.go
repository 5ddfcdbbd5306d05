package domain

// Alert is one unit produced by the monitoring pipeline when a device
// exceeds its consumption limit. Timestamp is an ISO-8601 string and is
// rendered verbatim in the notification text.
type Alert struct {
	UserID    string `json:"userId"    validate:"required"`
	DeviceID  string `json:"deviceId"  validate:"required"`
	Value     int64  `json:"value"`
	Timestamp string `json:"timestamp" validate:"required"`
}

// AlertOutcome reports what NotificationBuffer did with an alert.
type AlertOutcome string

const (
	AlertDelivered AlertOutcome = "delivered"
	AlertBuffered  AlertOutcome = "buffered"
	AlertDropped   AlertOutcome = "dropped"
)

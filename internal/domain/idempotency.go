package domain

import "time"

// Idempotency records the outcome of an alert that was already ingested
// under a producer-supplied key, so retried deliveries of the same alert
// are acknowledged with the original outcome instead of notifying twice.
// Rows are unique per (producer, key). A row is written with
// IdempotencyPending before the alert is delivered, which claims the key,
// and then updated to the real outcome.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Producer  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_producer_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_producer_key,priority:2"`
	UserID    string    `gorm:"type:TEXT NOT NULL;index"`
	Outcome   string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// IdempotencyPending marks a claimed key whose alert is still being handled.
const IdempotencyPending = "pending"

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

package domain

import "time"

// PresenceRecord is the durable last-seen ledger for a user. The in-memory
// registry stays authoritative for who is online right now; this row only
// answers "when was this user last connected" after they leave.
type PresenceRecord struct {
	UserID      string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Username    string    `gorm:"type:TEXT NOT NULL"`
	Role        string    `gorm:"type:TEXT NOT NULL"`
	Online      bool      `gorm:"not null;default:false;index"`
	ConnectedAt time.Time `gorm:"type:DATETIME"`
	LastSeenAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
	UpdatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (PresenceRecord) TableName() string { return "presence" }

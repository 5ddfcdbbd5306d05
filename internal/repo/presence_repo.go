// Package repo: persistence for the presence ledger.
//
// The ledger is write-behind bookkeeping. Callers record transitions after
// the in-memory registry has changed and treat failures as log-only; nothing
// in the realtime path reads it back.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

// Writes carry the time of the transition they record. A write older than
// the row's last_seen_at is stale (a later transition already landed) and
// is ignored, so transitions persisted out of order cannot roll the row back.

// MarkOnline upserts the user's ledger row as online at now.
func MarkOnline(ctx context.Context, db *gorm.DB, id domain.Identity, now time.Time) error {
	now = now.UTC()
	rec := &domain.PresenceRecord{
		UserID:      id.ID,
		Username:    id.Username,
		Role:        string(id.Role),
		Online:      true,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "role", "online", "connected_at", "last_seen_at", "updated_at"}),
		Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "last_seen_at <= excluded.last_seen_at"}}},
	}).Create(rec).Error
}

// MarkOffline flips the user's row to offline and stamps last_seen_at.
// It returns ErrNotFound when the user was never recorded.
func MarkOffline(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	now = now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.PresenceRecord{}).
		Where("user_id = ? AND last_seen_at <= ?", userID, now).
		Updates(map[string]any{"online": false, "last_seen_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.PresenceRecord{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPresence returns the ledger row for userID or ErrNotFound.
func GetPresence(ctx context.Context, db *gorm.DB, userID string) (*domain.PresenceRecord, error) {
	var rec domain.PresenceRecord
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResetOnline marks every row offline. It runs at startup, since a fresh
// process holds no connections and any row still flagged online is stale.
func ResetOnline(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.PresenceRecord{}).
		Where("online = ?", true).
		Updates(map[string]any{"online": false, "last_seen_at": now.UTC()})
	return res.RowsAffected, res.Error
}

// PresenceLedger binds the functions above to one database handle so the
// realtime hub can record transitions without knowing about GORM.
type PresenceLedger struct {
	DB *gorm.DB
}

func (l PresenceLedger) MarkOnline(ctx context.Context, id domain.Identity, at time.Time) error {
	return MarkOnline(ctx, l.DB, id, at)
}

func (l PresenceLedger) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return MarkOffline(ctx, l.DB, userID, at)
}

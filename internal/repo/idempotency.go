// Package repo: repository helpers for the Idempotency model used to
// deduplicate alert deliveries that producers retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (producer, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, producer, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("producer = ? AND key = ? AND expires_at > ?", producer, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
// An expired row for the same pair is removed first so keys can be reused
// once their window has passed.
func CreateIdempotency(ctx context.Context, db *gorm.DB, producer, key, userID, outcome string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Producer:  producer,
		Key:       key,
		UserID:    userID,
		Outcome:   outcome,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("producer = ? AND key = ? AND expires_at <= ?", producer, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// SetIdempotencyOutcome replaces the outcome stored for a live record, or
// returns ErrNotFound.
func SetIdempotencyOutcome(ctx context.Context, db *gorm.DB, producer, key, outcome string) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("producer = ? AND key = ? AND expires_at > ?", producer, key, time.Now().UTC()).
		Update("outcome", outcome)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdempotency removes the record for (producer, key), if any.
func DeleteIdempotency(ctx context.Context, db *gorm.DB, producer, key string) error {
	return db.WithContext(ctx).
		Where("producer = ? AND key = ?", producer, key).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes every record whose window closed at or
// before now and reports how many rows were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

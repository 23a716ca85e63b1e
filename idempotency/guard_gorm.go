package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/havenchat/warden/models"
)

// GormGuard backs the guard with the processed_events table. The unique
// index on message_id provides the atomic-insert serialization; no in-process
// locks are involved, so multiple service instances coordinate correctly.
type GormGuard struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewGormGuard(db *gorm.DB, logger *slog.Logger) *GormGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormGuard{
		db:     db,
		logger: logger.With("subsystem", "idempotency"),
	}
}

func (g *GormGuard) IsProcessed(ctx context.Context, id string) bool {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("message_id = ?", id).
		Count(&count).Error
	if err != nil {
		// fail-open: better to risk reprocessing than to drop a harmful message
		g.logger.Error("processed-event lookup failed", "err", err, "messageID", id)
		return false
	}
	return count > 0
}

func (g *GormGuard) Admit(ctx context.Context, id string) (bool, error) {
	rec := models.ProcessedEvent{
		MessageID:   id,
		ProcessedAt: time.Now(),
	}
	err := g.db.WithContext(ctx).Create(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// a concurrent admit won the race; treated as success-but-not-admitted
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *GormGuard) Commit(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("message_id = ?", id).
		Update("committed", true).Error
}

func (g *GormGuard) Abandon(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).
		Where("message_id = ? AND committed = ?", id, false).
		Delete(&models.ProcessedEvent{}).Error
}

// SweepExpired deletes committed records older than retention, and
// uncommitted records older than pendingTimeout (crashed in-flight
// admissions). Runs off the hot path on a schedule.
func (g *GormGuard) SweepExpired(ctx context.Context, retention, pendingTimeout time.Duration) error {
	now := time.Now()
	res := g.db.WithContext(ctx).
		Where("committed = ? AND processed_at < ?", true, now.Add(-retention)).
		Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return res.Error
	}
	expired := res.RowsAffected

	res = g.db.WithContext(ctx).
		Where("committed = ? AND processed_at < ?", false, now.Add(-pendingTimeout)).
		Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return res.Error
	}
	if expired > 0 || res.RowsAffected > 0 {
		g.logger.Info("swept processed-event records", "expired", expired, "stalePending", res.RowsAffected)
	}
	return nil
}

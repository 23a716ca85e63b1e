// Package modqueue holds the moderation queue a human moderator works
// through: queue items written by the event router, the reports referencing
// them, and the append-only audit trail every action leaves behind.
package modqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/havenchat/warden/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyProcessed = errors.New("queue item already processed")
	ErrAlreadyResolved  = errors.New("report already resolved")
)

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// CreateQueueItem writes a new unprocessed queue item. The payload is an
// opaque snapshot of the triggering event.
func (s *Store) CreateQueueItem(ctx context.Context, payload any, reasonTags []string, severity int) (*models.QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding queue payload: %w", err)
	}
	item := models.QueueItem{
		Payload:    string(raw),
		ReasonTags: strings.Join(reasonTags, ","),
		Severity:   severity,
		CreatedAt:  time.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ProcessQueueItem flips a queue item to processed, exactly once. The
// WHERE-guarded single update is the atomicity mechanism; a second call
// returns ErrAlreadyProcessed and changes nothing.
func (s *Store) ProcessQueueItem(ctx context.Context, id uint64, actorID string) error {
	now := time.Now()
	res := s.DB.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.QueueItem{}).Where("id = ?", id).Count(&count).Error; err == nil && count == 0 {
			return ErrNotFound
		}
		return ErrAlreadyProcessed
	}
	return s.AppendAudit(ctx, "queue_item_processed", "queue_item", fmt.Sprint(id), actorID, nil)
}

// ListPending returns unprocessed queue items, newest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []models.QueueItem
	err := s.DB.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) GetQueueItem(ctx context.Context, id uint64) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.DB.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateReport(ctx context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusOpen
	}
	return s.DB.WithContext(ctx).Create(report).Error
}

func (s *Store) GetReport(ctx context.Context, id uint64) (*models.Report, error) {
	var report models.Report
	err := s.DB.WithContext(ctx).First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// AppendAudit writes one immutable audit record. meta, when non-nil, is
// JSON-encoded into the record.
func (s *Store) AppendAudit(ctx context.Context, action, targetType, targetID, actorID string, meta any) error {
	rec := models.AuditRecord{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding audit meta: %w", err)
		}
		rec.Meta = string(raw)
	}
	return s.DB.WithContext(ctx).Create(&rec).Error
}

// CountAudit returns the number of audit records for an action/target pair.
// Used by tests and the duplicate-decision checks.
func (s *Store) CountAudit(ctx context.Context, action, targetID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.AuditRecord{}).
		Where("action = ? AND target_id = ?", action, targetID).
		Count(&count).Error
	return count, err
}

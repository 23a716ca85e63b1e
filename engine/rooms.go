package engine

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/havenchat/warden/models"
)

// RoomStore maintains per-channel bookkeeping: the flagged-message counter
// and last-activity timestamp.
type RoomStore interface {
	TouchActivity(ctx context.Context, channelID string, at time.Time) error
	IncrementFlagged(ctx context.Context, channelID string) error
}

type GormRoomStore struct {
	DB *gorm.DB
}

var _ RoomStore = (*GormRoomStore)(nil)

func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{DB: db}
}

func (s *GormRoomStore) TouchActivity(ctx context.Context, channelID string, at time.Time) error {
	room := models.Room{
		ChannelID:    channelID,
		LastActiveAt: &at,
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_active_at": at,
			"updated_at":     time.Now(),
		}),
	}).Create(&room).Error
}

func (s *GormRoomStore) IncrementFlagged(ctx context.Context, channelID string) error {
	room := models.Room{
		ChannelID:    channelID,
		FlaggedCount: 1,
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"flagged_count": gorm.Expr("flagged_count + 1"),
			"updated_at":    time.Now(),
		}),
	}).Create(&room).Error
}

// MemRoomStore is a test double.
type MemRoomStore struct {
	Activity map[string]time.Time
	Flagged  map[string]int
}

var _ RoomStore = (*MemRoomStore)(nil)

func NewMemRoomStore() *MemRoomStore {
	return &MemRoomStore{
		Activity: make(map[string]time.Time),
		Flagged:  make(map[string]int),
	}
}

func (s *MemRoomStore) TouchActivity(ctx context.Context, channelID string, at time.Time) error {
	s.Activity[channelID] = at
	return nil
}

func (s *MemRoomStore) IncrementFlagged(ctx context.Context, channelID string) error {
	s.Flagged[channelID]++
	return nil
}

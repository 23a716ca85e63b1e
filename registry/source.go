package registry

import (
	"context"

	"gorm.io/gorm"

	"github.com/havenchat/warden/models"
)

// Source is where the registry reads the durable rule set from.
type Source interface {
	ListEnabled(ctx context.Context) ([]models.KeywordRule, error)
}

// GormSource reads rules from the keyword_rules table.
type GormSource struct {
	DB *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{DB: db}
}

func (s *GormSource) ListEnabled(ctx context.Context) ([]models.KeywordRule, error) {
	var rules []models.KeywordRule
	if err := s.DB.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// StaticSource serves a fixed rule set from memory. Used in tests and for
// seed-file bootstrapping.
type StaticSource struct {
	Rules []models.KeywordRule
	Err   error
}

func (s *StaticSource) ListEnabled(ctx context.Context) ([]models.KeywordRule, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]models.KeywordRule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

// Package testutil provides shared helpers for package tests.
package testutil

import (
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/util"
	"gorm.io/gorm"
)

// MustTestDB opens a fresh in-memory sqlite database with all pipeline
// tables migrated. Panics on failure; only for use from tests and fixtures.
func MustTestDB() *gorm.DB {
	db, err := util.SetupDatabase("sqlite://:memory:", 1)
	if err != nil {
		panic(err)
	}
	for _, model := range []any{
		&models.KeywordRule{},
		&models.ProcessedEvent{},
		&models.QueueItem{},
		&models.Report{},
		&models.AuditRecord{},
		&models.ChatUser{},
		&models.Room{},
	} {
		if err := db.AutoMigrate(model); err != nil {
			panic(err)
		}
	}
	return db
}

package repository

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/model"
)

// newTestDB opens a fresh in-memory sqlite database and migrates every
// model the repository package touches, mirroring data.New's Postgres
// migration list without the network dependency.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("underlying sql.DB: %v", err)
	}
	// A shared-cache in-memory database is visible across connections only
	// while at least one stays open; pin the pool to one connection so gorm
	// never opens a second, empty instance mid-test.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.User{},
		&model.Organization{},
		&model.OrganizationMember{},
		&model.KnowledgeBase{},
		&model.Document{},
		&model.Segment{},
		&model.Page{},
		&model.PermissionLink{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.RunLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

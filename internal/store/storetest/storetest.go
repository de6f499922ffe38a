// Package storetest opens throwaway SQLite-backed stores for tests of packages built on store.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seat-queue-backend/internal/db"
	"seat-queue-backend/internal/store"
)

// New returns a store over a private in-memory database with every table migrated.
func New(t testing.TB, loc *time.Location) (*gorm.DB, store.Store) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	if loc == nil {
		loc = time.UTC
	}
	return gormDB, store.NewGormStore(gormDB, store.WithLocation(loc))
}

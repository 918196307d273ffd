// Package dbtest opens isolated in-memory sqlite databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipps-app/ProductFormulator-sub000/internal/db"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

var counter atomic.Int64

// Open returns a migrated in-memory database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", name, counter.Add(1))

	database, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.AutoMigrate(database); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

// User inserts a tenant with the given email.
func User(t testing.TB, database *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, PasswordHash: "hash", Plan: models.PlanBusiness}
	if err := database.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

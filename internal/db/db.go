// Package db opens the application database and keeps its schema current.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/pipps-app/ProductFormulator-sub000/internal/config"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Models lists every table managed by the application in migration order.
// Materials come before formulations so ingredient references resolve.
func Models() []any {
	return []any{
		&models.User{},
		&models.Vendor{},
		&models.MaterialCategory{},
		&models.Material{},
		&models.Formulation{},
		&models.FormulationIngredient{},
		&models.AuditLog{},
	}
}

// GormConfig returns the gorm settings shared by the production, mock and test
// databases. Timestamps are UTC so the lifecycle age checks compare like with like.
func GormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(level),
		NamingStrategy:         schema.NamingStrategy{},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// Initialize opens the postgres database named by cfg.URL and applies the
// pool limits that are set.
func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database URL must not be empty")
	}

	database, err := gorm.Open(postgres.Open(cfg.URL), GormConfig(logger.Warn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return database, nil
}

// AutoMigrate brings the schema up to date and backfills the plan of users
// created before plans existed.
func AutoMigrate(database *gorm.DB) error {
	if database == nil {
		return fmt.Errorf("database handle is nil")
	}

	if err := database.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	backfill := database.Model(&models.User{}).
		Where("plan IS NULL OR plan = ?", "").
		Update("plan", models.PlanFree)
	if backfill.Error != nil {
		return fmt.Errorf("backfill user plans: %w", backfill.Error)
	}
	if backfill.RowsAffected > 0 {
		applog.Info(context.Background(), "assigned default plan to users", "plan", models.PlanFree, "users", backfill.RowsAffected)
	}
	return nil
}

// Configure opens and migrates the production database.
func Configure(cfg config.DatabaseConfig) (*gorm.DB, error) {
	database, err := Initialize(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

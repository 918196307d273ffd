package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/config"
	"github.com/pipps-app/ProductFormulator-sub000/internal/db"
	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	"github.com/pipps-app/ProductFormulator-sub000/internal/policy"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

func main() {
	path := "materials.csv"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := run(context.Background(), path); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("import path must not be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("locate import file: %w", err)
	}

	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Configure(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	records, err := readRecords(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	ownerID, err := resolveImportOwner(ctx, database)
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}

	imp := newImporter(database)
	summary, err := imp.Import(ctx, ownerID, records)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %s: %d created, %d updated, %d skipped, %d formulations repriced\n",
		filepath.Base(path), summary.Created, summary.Updated, len(summary.Skipped), summary.Repriced)
	for _, skipped := range summary.Skipped {
		fmt.Fprintf(os.Stdout, "  skipped row %d (%s): %s\n", skipped.Row, skipped.Name, skipped.Reason)
	}
	return nil
}

func newImporter(database *gorm.DB) *importer {
	s := store.New(database)
	bus := events.NewBus()
	propagation.New(s).Subscribe(bus)
	return &importer{store: s, plans: policy.New(s), bus: bus, db: database}
}

// resolveImportOwner picks the tenant named by FORMULATOR_IMPORT_OWNER_EMAIL,
// or the oldest user when it is unset.
func resolveImportOwner(ctx context.Context, database *gorm.DB) (uint, error) {
	if database == nil {
		return 0, fmt.Errorf("database handle is nil")
	}

	var user models.User
	if email := strings.TrimSpace(os.Getenv("FORMULATOR_IMPORT_OWNER_EMAIL")); email != "" {
		if err := database.WithContext(ctx).Where("lower(email) = ?", strings.ToLower(email)).First(&user).Error; err != nil {
			return 0, fmt.Errorf("find owner by email %q: %w", strings.ToLower(email), err)
		}
		return user.ID, nil
	}

	if err := database.WithContext(ctx).Order("id asc").First(&user).Error; err != nil {
		return 0, fmt.Errorf("find default owner: %w", err)
	}
	return user.ID, nil
}

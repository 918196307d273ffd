package mock

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipps-app/ProductFormulator-sub000/internal/db"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Demo credentials for the seeded tenant.
const (
	DemoEmail    = "demo@formulator.app"
	DemoPassword = "formulate"
)

// New returns an in-memory sqlite database seeded with a small soap workshop.
func New(ctx context.Context) (*gorm.DB, error) {
	applog.Debug(ctx, "initialising mock database")

	database, err := gorm.Open(sqlite.Open("file:formulator-mock?mode=memory&cache=shared"), db.GormConfig(logger.Silent))
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(database); err != nil {
		return nil, err
	}

	if err := seed(ctx, database); err != nil {
		return nil, err
	}

	applog.Debug(ctx, "mock database ready")
	return database, nil
}

func seed(ctx context.Context, database *gorm.DB) error {
	applog.Debug(ctx, "seeding mock database")

	password, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Name:         "Juniper Soap Co.",
		Email:        DemoEmail,
		PasswordHash: string(password),
		Plan:         models.PlanProfessional,
	}
	if err := database.WithContext(ctx).Create(user).Error; err != nil {
		return err
	}

	s := store.New(database)
	vendor, err := s.CreateVendor(ctx, user.ID, store.VendorInput{
		Name:         "Coastal Oils Supply",
		ContactEmail: "orders@coastaloils.example",
		Website:      "https://coastaloils.example",
	})
	if err != nil {
		return err
	}
	oils, err := s.CreateCategory(ctx, user.ID, store.CategoryInput{Name: "Oils & Butters", Color: "#d9a441"})
	if err != nil {
		return err
	}
	packaging, err := s.CreateCategory(ctx, user.ID, store.CategoryInput{Name: "Packaging", Color: "#6b8f71"})
	if err != nil {
		return err
	}

	materials := []store.MaterialInput{
		{Name: "Olive Oil", SKU: "OIL-OLV", CategoryID: &oils.ID, VendorID: &vendor.ID, TotalCost: dec("42.00"), Quantity: dec("4"), Unit: "kg"},
		{Name: "Coconut Oil", SKU: "OIL-COC", CategoryID: &oils.ID, VendorID: &vendor.ID, TotalCost: dec("28.50"), Quantity: dec("3"), Unit: "kg"},
		{Name: "Shea Butter", SKU: "BTR-SHE", CategoryID: &oils.ID, TotalCost: dec("19.80"), Quantity: dec("1"), Unit: "kg"},
		{Name: "Sodium Hydroxide", SKU: "LYE-NAOH", TotalCost: dec("12.00"), Quantity: dec("1"), Unit: "kg"},
		{Name: "Lavender Essential Oil", SKU: "EO-LAV", TotalCost: dec("36.00"), Quantity: dec("250"), Unit: "ml"},
		{Name: "Kraft Soap Box", SKU: "PKG-BOX", CategoryID: &packaging.ID, TotalCost: dec("45.00"), Quantity: dec("100"), Unit: "each"},
	}
	ids := make(map[string]uint, len(materials))
	for _, input := range materials {
		created, err := s.CreateMaterial(ctx, user.ID, input)
		if err != nil {
			return fmt.Errorf("seed material %s: %w", input.Name, err)
		}
		ids[created.Name] = created.ID
	}

	base, err := seedFormulation(ctx, s, user.ID, store.FormulationInput{
		Name:        "Cold Process Base",
		Description: "Olive and coconut base, superfatted at 5%.",
		BatchSize:   dec("1"),
		BatchUnit:   "kg",
		Ingredients: []store.IngredientInput{
			material(ids["Olive Oil"], "600", "g"),
			material(ids["Coconut Oil"], "250", "g"),
			material(ids["Sodium Hydroxide"], "130", "g"),
		},
	})
	if err != nil {
		return err
	}

	excluded := false
	lavender := material(ids["Lavender Essential Oil"], "30", "ml")
	box := material(ids["Kraft Soap Box"], "10", "each")
	box.IncludeInMarkup = &excluded
	markup := dec("45")
	_, err = seedFormulation(ctx, s, user.ID, store.FormulationInput{
		Name:             "Lavender Bar",
		Description:      "Ten boxed 100 g bars.",
		BatchSize:        dec("10"),
		BatchUnit:        "each",
		TargetPrice:      decimal.NewNullDecimal(dec("8.50")),
		MarkupPercentage: &markup,
		Ingredients: []store.IngredientInput{
			{SubFormulationID: &base.ID, Quantity: dec("950"), Unit: "g"},
			material(ids["Shea Butter"], "50", "g"),
			lavender,
			box,
		},
	})
	return err
}

// seedFormulation stores a formulation and prices it the way the API does.
func seedFormulation(ctx context.Context, s *store.Store, tenantID uint, input store.FormulationInput) (*models.Formulation, error) {
	var created *models.Formulation
	err := s.Transaction(ctx, func(tx *store.Store) error {
		var err error
		if created, err = tx.CreateFormulation(ctx, tenantID, input); err != nil {
			return err
		}
		_, err = propagation.Recompute(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("seed formulation %s: %w", input.Name, err)
	}
	return created, nil
}

func material(id uint, quantity, unit string) store.IngredientInput {
	return store.IngredientInput{MaterialID: &id, Quantity: dec(quantity), Unit: unit}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

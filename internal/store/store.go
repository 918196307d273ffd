// Package store persists materials, formulations, vendors and categories.
// Every read and write is scoped by the owning user where the caller supplies
// a tenant; derived cost columns are only written through UpdateMaterial,
// UpdateIngredient and UpdateFormulationCosts.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrInUse    = errors.New("store: record is still referenced")
)

// ValidationError reports input that was rejected before anything was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MaterialStore is the material side consumed by cost propagation.
type MaterialStore interface {
	GetMaterial(ctx context.Context, id uint) (*models.Material, error)
	ListMaterials(ctx context.Context, tenantID uint) ([]models.Material, error)
	UpdateMaterial(ctx context.Context, id uint, update MaterialUpdate) (*models.Material, error)
}

// FormulationStore is the formulation side consumed by cost propagation.
type FormulationStore interface {
	ListFormulations(ctx context.Context, tenantID uint) ([]models.Formulation, error)
	GetFormulation(ctx context.Context, id uint) (*models.Formulation, error)
	GetIngredients(ctx context.Context, formulationID uint) ([]models.FormulationIngredient, error)
	UpdateIngredient(ctx context.Context, id uint, update IngredientUpdate) error
	UpdateFormulationCosts(ctx context.Context, id uint, costs Costs) (bool, error)
}

// Costs are the derived columns of a formulation.
type Costs struct {
	TotalCost    decimal.Decimal
	UnitCost     decimal.Decimal
	ProfitMargin decimal.Decimal
}

// Store implements MaterialStore and FormulationStore on top of gorm.
type Store struct {
	db *gorm.DB
}

var (
	_ MaterialStore    = (*Store)(nil)
	_ FormulationStore = (*Store)(nil)
)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that share the
// connection, such as the audit log.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type FormulationIngredient struct {
	gorm.Model
	FormulationID uint            `gorm:"not null;index" json:"formulation_id"` // Parent Formulation
	Quantity      decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"quantity"`
	Unit          string          `gorm:"size:16;not null" json:"unit"`

	// --- Ingredient Link ---
	// At most one of these is set. MaterialID is cleared when the material goes away.
	MaterialID       *uint `gorm:"index" json:"material_id,omitempty"`
	SubFormulationID *uint `gorm:"index" json:"sub_formulation_id,omitempty"`

	// CostContribution is cached at the last recalculation and may lag behind
	// the material price until propagation runs.
	CostContribution decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"cost_contribution"`
	IncludeInMarkup  bool            `gorm:"not null" json:"include_in_markup"`
	Notes            string          `gorm:"type:text" json:"notes"`

	Material       *Material    `gorm:"foreignKey:MaterialID" json:"material,omitempty"`
	SubFormulation *Formulation `gorm:"foreignKey:SubFormulationID" json:"sub_formulation,omitempty"`
}

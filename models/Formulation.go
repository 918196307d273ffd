package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultMarkupPercentage is applied when a formulation is created without one.
var DefaultMarkupPercentage = decimal.NewFromInt(30)

type Formulation struct {
	gorm.Model
	Name             string                  `gorm:"not null" json:"name"`
	Description      string                  `gorm:"type:text" json:"description"`
	BatchSize        decimal.Decimal         `gorm:"type:decimal(12,3);not null;default:1" json:"batch_size"`
	BatchUnit        string                  `gorm:"size:16;not null" json:"batch_unit"`
	TargetPrice      decimal.NullDecimal     `gorm:"type:decimal(12,2)" json:"target_price"`
	MarkupPercentage decimal.Decimal         `gorm:"type:decimal(7,2);not null" json:"markup_percentage"`
	TotalCost        decimal.Decimal         `gorm:"type:decimal(12,2);not null;default:0" json:"total_cost"`
	UnitCost         decimal.Decimal         `gorm:"type:decimal(14,4);not null;default:0" json:"unit_cost"`
	ProfitMargin     decimal.Decimal         `gorm:"type:decimal(7,2);not null;default:0" json:"profit_margin"`
	IsActive         bool                    `gorm:"not null;default:true;index" json:"is_active"`
	UserID           uint                    `gorm:"not null;index" json:"user_id"`
	Ingredients      []FormulationIngredient `gorm:"foreignKey:FormulationID" json:"ingredients"`
}

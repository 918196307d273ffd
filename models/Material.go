package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Material is a purchasable raw input. UnitCost is derived from TotalCost and
// Quantity and is never written directly by API clients.
type Material struct {
	gorm.Model
	Name       string            `gorm:"not null;index" json:"name"`
	SKU        string            `gorm:"size:64" json:"sku"`
	CategoryID *uint             `json:"category_id,omitempty"`
	Category   *MaterialCategory `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	VendorID   *uint             `json:"vendor_id,omitempty"`
	Vendor     *Vendor           `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	TotalCost  decimal.Decimal   `gorm:"type:decimal(12,2);not null;default:0" json:"total_cost"`
	Quantity   decimal.Decimal   `gorm:"type:decimal(12,4);not null;default:0" json:"quantity"`
	Unit       string            `gorm:"size:16;not null" json:"unit"`
	UnitCost   decimal.Decimal   `gorm:"type:decimal(14,4);not null;default:0" json:"unit_cost"`
	Notes      string            `gorm:"type:text" json:"notes"`
	IsActive   bool              `gorm:"not null;default:true" json:"is_active"`
	UserID     uint              `gorm:"not null;index" json:"user_id"`
}

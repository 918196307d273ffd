package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditAction string

const (
	AuditActionCreate  AuditAction = "create"
	AuditActionUpdate  AuditAction = "update"
	AuditActionDelete  AuditAction = "delete"
	AuditActionArchive AuditAction = "archive"
	AuditActionRestore AuditAction = "restore"
)

// Entity type names recorded in audit entries.
const (
	EntityMaterial    = "material"
	EntityFormulation = "formulation"
	EntityVendor      = "vendor"
	EntityCategory    = "category"
)

// AuditLog is append-only. Changes holds the JSON payload
// {description, before, after, data}; the typed columns below are filled at
// write time so readers never need to parse Changes for business decisions.
type AuditLog struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UserID      uint        `gorm:"not null;index" json:"user_id"`
	Action      AuditAction `gorm:"size:16;not null" json:"action"`
	EntityType  string      `gorm:"size:32;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID    uint        `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	EntityName  string      `gorm:"size:255" json:"entity_name"`
	Description string      `gorm:"size:512" json:"description"`
	Changes     string      `gorm:"type:text" json:"changes"`

	CostBefore        decimal.NullDecimal `gorm:"type:decimal(14,4)" json:"cost_before"`
	CostAfter         decimal.NullDecimal `gorm:"type:decimal(14,4)" json:"cost_after"`
	TriggerMaterialID *uint               `json:"trigger_material_id,omitempty"`
	RunID             string              `gorm:"size:36;index" json:"run_id,omitempty"`

	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

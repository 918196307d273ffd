package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/models"
)

const maxRecent = 200

// Summary is the typed projection of an audit row.
type Summary struct {
	ID                uint                `json:"id"`
	Action            models.AuditAction  `json:"action"`
	EntityType        string              `json:"entity_type"`
	EntityID          uint                `json:"entity_id"`
	EntityName        string              `json:"entity_name"`
	Description       string              `json:"description"`
	CostBefore        decimal.NullDecimal `json:"cost_before"`
	CostAfter         decimal.NullDecimal `json:"cost_after"`
	TriggerMaterialID *uint               `json:"trigger_material_id,omitempty"`
	RunID             string              `json:"run_id,omitempty"`
	At                time.Time           `json:"at"`
}

func summarize(row models.AuditLog) Summary {
	return Summary{
		ID:                row.ID,
		Action:            row.Action,
		EntityType:        row.EntityType,
		EntityID:          row.EntityID,
		EntityName:        row.EntityName,
		Description:       row.Description,
		CostBefore:        row.CostBefore,
		CostAfter:         row.CostAfter,
		TriggerMaterialID: row.TriggerMaterialID,
		RunID:             row.RunID,
		At:                row.Timestamp,
	}
}

// Recent returns the tenant's latest entries, newest first.
func Recent(ctx context.Context, db *gorm.DB, tenantID uint, limit int) ([]Summary, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	var rows []models.AuditLog
	err := db.WithContext(ctx).
		Where("user_id = ?", tenantID).
		Order("timestamp desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load recent audit entries: %w", err)
	}
	return project(rows), nil
}

// CostChanges returns update entries since the given time whose recorded cost
// moved, oldest first.
func CostChanges(ctx context.Context, db *gorm.DB, tenantID uint, since time.Time) ([]Summary, error) {
	var rows []models.AuditLog
	err := db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND timestamp >= ?", tenantID, models.AuditActionUpdate, since.UTC()).
		Where("cost_before IS NOT NULL AND cost_after IS NOT NULL").
		Order("timestamp asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load cost changes: %w", err)
	}

	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		if row.CostBefore.Decimal.Equal(row.CostAfter.Decimal) {
			continue
		}
		summaries = append(summaries, summarize(row))
	}
	return summaries, nil
}

func project(rows []models.AuditLog) []Summary {
	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, summarize(row))
	}
	return summaries
}

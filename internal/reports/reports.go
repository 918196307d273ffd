// Package reports builds read-only views over formulations and the audit
// log's cost projection.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// CostChange is one row of the cost change report.
type CostChange struct {
	EntityType   string              `json:"entity_type"`
	EntityID     uint                `json:"entity_id"`
	Name         string              `json:"name"`
	Before       decimal.Decimal     `json:"before"`
	After        decimal.Decimal     `json:"after"`
	DeltaPercent decimal.NullDecimal `json:"delta_percent"`
	Trigger      *uint               `json:"trigger_material_id,omitempty"`
	At           time.Time           `json:"at"`
}

var hundred = decimal.NewFromInt(100)

// CostChangeReport lists the tenant's recorded cost movements since the given
// time. DeltaPercent is null when the previous cost was zero.
func CostChangeReport(ctx context.Context, db *gorm.DB, tenantID uint, since time.Time) ([]CostChange, error) {
	summaries, err := audit.CostChanges(ctx, db, tenantID, since)
	if err != nil {
		return nil, err
	}

	rows := make([]CostChange, 0, len(summaries))
	for _, s := range summaries {
		row := CostChange{
			EntityType: s.EntityType,
			EntityID:   s.EntityID,
			Name:       s.EntityName,
			Before:     s.CostBefore.Decimal,
			After:      s.CostAfter.Decimal,
			Trigger:    s.TriggerMaterialID,
			At:         s.At,
		}
		if !row.Before.IsZero() {
			delta := row.After.Sub(row.Before).Mul(hundred).DivRound(row.Before, costing.PercentPlaces)
			row.DeltaPercent = decimal.NewNullDecimal(delta)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FormulationRef names a formulation in a summary.
type FormulationRef struct {
	ID       uint            `json:"id"`
	Name     string          `json:"name"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Summary aggregates a tenant's formulations.
type Summary struct {
	Active             int              `json:"active"`
	Archived           int              `json:"archived"`
	TotalBatchCost     decimal.Decimal  `json:"total_batch_cost"`
	AverageMargin      decimal.Decimal  `json:"average_margin"`
	MostExpensive      *FormulationRef  `json:"most_expensive,omitempty"`
	BelowTargetMargins []FormulationRef `json:"below_target,omitempty"`
}

// FormulationSummary counts active and archived formulations and aggregates
// the costs of the active ones. A formulation is below target when its target
// price does not cover its unit cost.
func FormulationSummary(ctx context.Context, db *gorm.DB, tenantID uint) (Summary, error) {
	var formulations []models.Formulation
	if err := db.WithContext(ctx).Where("user_id = ?", tenantID).Order("id asc").Find(&formulations).Error; err != nil {
		return Summary{}, fmt.Errorf("load formulations: %w", err)
	}

	summary := Summary{TotalBatchCost: decimal.Zero, AverageMargin: decimal.Zero}
	marginSum := decimal.Zero
	for _, f := range formulations {
		if !f.IsActive {
			summary.Archived++
			continue
		}
		summary.Active++
		summary.TotalBatchCost = summary.TotalBatchCost.Add(f.TotalCost)
		marginSum = marginSum.Add(f.ProfitMargin)

		if summary.MostExpensive == nil || f.UnitCost.GreaterThan(summary.MostExpensive.UnitCost) {
			summary.MostExpensive = &FormulationRef{ID: f.ID, Name: f.Name, UnitCost: f.UnitCost}
		}
		if margin, ok := costing.TargetMargin(f.TargetPrice, f.UnitCost); ok && !margin.IsPositive() {
			summary.BelowTargetMargins = append(summary.BelowTargetMargins, FormulationRef{ID: f.ID, Name: f.Name, UnitCost: f.UnitCost})
		}
	}
	if summary.Active > 0 {
		summary.AverageMargin = marginSum.DivRound(decimal.NewFromInt(int64(summary.Active)), costing.PercentPlaces)
	}
	return summary, nil
}

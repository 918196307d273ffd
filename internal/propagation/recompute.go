package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Snapshot is the costed state of a formulation.
type Snapshot struct {
	TotalCost          decimal.Decimal `json:"total_cost"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	ProfitMargin       decimal.Decimal `json:"profit_margin"`
	MarkupEligibleCost decimal.Decimal `json:"markup_eligible_cost,omitempty"`
}

// IngredientCost is one recomputed ingredient line.
type IngredientCost struct {
	IngredientID     uint            `json:"ingredient_id"`
	MaterialID       *uint           `json:"material_id,omitempty"`
	SubFormulationID *uint           `json:"sub_formulation_id,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit"`
	CostContribution decimal.Decimal `json:"cost_contribution"`
	IncludeInMarkup  bool            `json:"include_in_markup"`
	Unresolved       bool            `json:"unresolved,omitempty"`
}

// Recalculation is what Recompute changed.
type Recalculation struct {
	FormulationID uint                 `json:"formulation_id"`
	Before        Snapshot             `json:"before"`
	After         Snapshot             `json:"after"`
	Margin        costing.ProfitMargin `json:"margin"`
	Ingredients   []IngredientCost     `json:"ingredients"`
}

// Recompute rebuilds every ingredient's cost contribution and the formulation's
// derived costs, writing both through tx. An ingredient whose material or
// sub-formulation is gone contributes zero.
func Recompute(ctx context.Context, tx *store.Store, formulationID uint) (Recalculation, error) {
	f, err := tx.GetFormulation(ctx, formulationID)
	if err != nil {
		return Recalculation{}, err
	}
	ingredients, err := tx.GetIngredients(ctx, formulationID)
	if err != nil {
		return Recalculation{}, err
	}

	calc := Recalculation{
		FormulationID: f.ID,
		Before:        Snapshot{TotalCost: f.TotalCost, UnitCost: f.UnitCost, ProfitMargin: f.ProfitMargin},
		Ingredients:   make([]IngredientCost, 0, len(ingredients)),
	}

	lines := make([]costing.Line, 0, len(ingredients))
	for _, ing := range ingredients {
		contribution, resolved, err := lineCost(ctx, tx, ing)
		if err != nil {
			return Recalculation{}, fmt.Errorf("cost ingredient %d: %w", ing.ID, err)
		}
		if err := tx.UpdateIngredient(ctx, ing.ID, store.IngredientUpdate{CostContribution: &contribution}); err != nil {
			return Recalculation{}, fmt.Errorf("store ingredient %d cost: %w", ing.ID, err)
		}
		lines = append(lines, costing.Line{Cost: contribution, IncludeInMarkup: ing.IncludeInMarkup})
		calc.Ingredients = append(calc.Ingredients, IngredientCost{
			IngredientID:     ing.ID,
			MaterialID:       ing.MaterialID,
			SubFormulationID: ing.SubFormulationID,
			Quantity:         ing.Quantity,
			Unit:             ing.Unit,
			CostContribution: contribution,
			IncludeInMarkup:  ing.IncludeInMarkup,
			Unresolved:       !resolved,
		})
	}

	breakdown := costing.Aggregate(lines, f.BatchSize, f.MarkupPercentage)
	calc.Margin = breakdown.Margin
	calc.After = Snapshot{
		TotalCost:          breakdown.TotalCost,
		UnitCost:           breakdown.UnitCost,
		ProfitMargin:       breakdown.Margin.Percent,
		MarkupEligibleCost: breakdown.MarkupEligibleCost,
	}

	ok, err := tx.UpdateFormulationCosts(ctx, f.ID, store.Costs{
		TotalCost:    calc.After.TotalCost,
		UnitCost:     calc.After.UnitCost,
		ProfitMargin: calc.After.ProfitMargin,
	})
	if err != nil {
		return Recalculation{}, err
	}
	if !ok {
		return Recalculation{}, store.ErrNotFound
	}
	return calc, nil
}

// lineCost prices one ingredient. The ingredient quantity is converted into
// the unit the material is priced in when both units are known and
// compatible; otherwise it is taken as-is.
func lineCost(ctx context.Context, tx *store.Store, ing models.FormulationIngredient) (decimal.Decimal, bool, error) {
	switch {
	case ing.MaterialID != nil:
		material, err := tx.GetMaterial(ctx, *ing.MaterialID)
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		if err != nil {
			return decimal.Zero, false, err
		}
		qty, _ := costing.ConvertQuantity(ing.Quantity, ing.Unit, material.Unit)
		return costing.IngredientCost(material.UnitCost, qty), true, nil

	case ing.SubFormulationID != nil:
		sub, err := tx.GetFormulation(ctx, *ing.SubFormulationID)
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		if err != nil {
			return decimal.Zero, false, err
		}
		qty, _ := costing.ConvertQuantity(ing.Quantity, ing.Unit, sub.BatchUnit)
		return costing.IngredientCost(sub.UnitCost, qty), true, nil

	default:
		return decimal.Zero, false, nil
	}
}

func nullCost(value decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(value)
}

package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

var (
	ErrFormulationNotFound = errors.New("reports: formulation not found")
	ErrInvalidQuantity     = errors.New("reports: invalid target quantity")
	ErrEmptyComposition    = errors.New("reports: formulation has no ingredients")
	ErrCircularReference   = errors.New("reports: circular sub-formulation reference")
)

// BatchLine is one material needed for a batch run.
type BatchLine struct {
	Order        int             `json:"order"`
	MaterialID   uint            `json:"material_id"`
	MaterialName string          `json:"material_name"`
	SKU          string          `json:"sku,omitempty"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Cost         decimal.Decimal `json:"cost"`
}

// BatchPlan scales a formulation to a target output, with sub-formulations
// expanded into the materials they are made of.
type BatchPlan struct {
	FormulationID   uint            `json:"formulation_id"`
	FormulationName string          `json:"formulation_name"`
	BaseBatchSize   decimal.Decimal `json:"base_batch_size"`
	TargetQuantity  decimal.Decimal `json:"target_quantity"`
	Unit            string          `json:"unit"`
	ScaleFactor     decimal.Decimal `json:"scale_factor"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	LotNumber       string          `json:"lot_number"`
	RunDate         time.Time       `json:"run_date"`
	Lines           []BatchLine     `json:"lines"`
	Unresolved      int             `json:"unresolved,omitempty"`
}

type batchSource struct {
	formulations map[uint]models.Formulation
	ingredients  map[uint][]models.FormulationIngredient
	materials    map[uint]models.Material
}

type batchTotal struct {
	material models.Material
	quantity decimal.Decimal
}

// BuildBatchPlan expands formulationID for a run producing target units of
// its batch unit.
func BuildBatchPlan(ctx context.Context, db *gorm.DB, tenantID, formulationID uint, target decimal.Decimal, now time.Time) (BatchPlan, error) {
	if db == nil {
		return BatchPlan{}, gorm.ErrInvalidDB
	}
	if !target.IsPositive() {
		return BatchPlan{}, ErrInvalidQuantity
	}

	src, err := loadBatchSource(ctx, db, tenantID)
	if err != nil {
		return BatchPlan{}, err
	}
	root, ok := src.formulations[formulationID]
	if !ok {
		return BatchPlan{}, ErrFormulationNotFound
	}
	if len(src.ingredients[formulationID]) == 0 {
		return BatchPlan{}, ErrEmptyComposition
	}
	if !root.BatchSize.IsPositive() {
		return BatchPlan{}, ErrInvalidQuantity
	}

	scale := target.DivRound(root.BatchSize, 8)
	if scale.IsZero() {
		// The target is too small to scale the batch by.
		return BatchPlan{}, ErrInvalidQuantity
	}
	totals := make(map[uint]*batchTotal)
	unresolved, err := accumulate(src, formulationID, scale, totals, map[uint]bool{})
	if err != nil {
		return BatchPlan{}, err
	}

	plan := BatchPlan{
		FormulationID:   root.ID,
		FormulationName: root.Name,
		BaseBatchSize:   root.BatchSize,
		TargetQuantity:  target,
		Unit:            root.BatchUnit,
		ScaleFactor:     scale.Round(costing.UnitPlaces),
		TotalCost:       decimal.Zero,
		LotNumber:       fmt.Sprintf("PF-%s-%04d", now.UTC().Format("20060102"), root.ID),
		RunDate:         now.UTC(),
		Unresolved:      unresolved,
	}
	for _, total := range totals {
		quantity := total.quantity.Round(costing.UnitPlaces)
		cost := costing.IngredientCost(total.material.UnitCost, total.quantity)
		plan.Lines = append(plan.Lines, BatchLine{
			MaterialID:   total.material.ID,
			MaterialName: total.material.Name,
			SKU:          total.material.SKU,
			BaseQuantity: total.quantity.DivRound(scale, costing.UnitPlaces),
			Quantity:     quantity,
			Unit:         total.material.Unit,
			Cost:         cost,
		})
		plan.TotalCost = plan.TotalCost.Add(cost)
	}

	sort.SliceStable(plan.Lines, func(i, j int) bool {
		if !plan.Lines[i].Cost.Equal(plan.Lines[j].Cost) {
			return plan.Lines[i].Cost.GreaterThan(plan.Lines[j].Cost)
		}
		return strings.ToLower(plan.Lines[i].MaterialName) < strings.ToLower(plan.Lines[j].MaterialName)
	})
	for idx := range plan.Lines {
		plan.Lines[idx].Order = idx + 1
	}
	return plan, nil
}

func loadBatchSource(ctx context.Context, db *gorm.DB, tenantID uint) (batchSource, error) {
	src := batchSource{
		formulations: make(map[uint]models.Formulation),
		ingredients:  make(map[uint][]models.FormulationIngredient),
		materials:    make(map[uint]models.Material),
	}

	var formulations []models.Formulation
	if err := db.WithContext(ctx).Where("user_id = ?", tenantID).Find(&formulations).Error; err != nil {
		return src, fmt.Errorf("load formulations: %w", err)
	}
	ids := make([]uint, 0, len(formulations))
	for _, f := range formulations {
		src.formulations[f.ID] = f
		ids = append(ids, f.ID)
	}
	if len(ids) == 0 {
		return src, nil
	}

	var ingredients []models.FormulationIngredient
	if err := db.WithContext(ctx).Where("formulation_id IN ?", ids).Order("id asc").Find(&ingredients).Error; err != nil {
		return src, fmt.Errorf("load ingredients: %w", err)
	}
	for _, ing := range ingredients {
		src.ingredients[ing.FormulationID] = append(src.ingredients[ing.FormulationID], ing)
	}

	var materials []models.Material
	if err := db.WithContext(ctx).Where("user_id = ?", tenantID).Find(&materials).Error; err != nil {
		return src, fmt.Errorf("load materials: %w", err)
	}
	for _, m := range materials {
		src.materials[m.ID] = m
	}
	return src, nil
}

// accumulate adds the materials of formulationID, multiplied by factor, to
// totals. It returns how many ingredient lines could not be resolved.
func accumulate(src batchSource, formulationID uint, factor decimal.Decimal, totals map[uint]*batchTotal, path map[uint]bool) (int, error) {
	if path[formulationID] {
		return 0, ErrCircularReference
	}
	path[formulationID] = true
	defer delete(path, formulationID)

	unresolved := 0
	for _, ing := range src.ingredients[formulationID] {
		switch {
		case ing.MaterialID != nil:
			material, ok := src.materials[*ing.MaterialID]
			if !ok {
				unresolved++
				continue
			}
			qty, _ := costing.ConvertQuantity(ing.Quantity, ing.Unit, material.Unit)
			total, ok := totals[material.ID]
			if !ok {
				total = &batchTotal{material: material, quantity: decimal.Zero}
				totals[material.ID] = total
			}
			total.quantity = total.quantity.Add(qty.Mul(factor))

		case ing.SubFormulationID != nil:
			sub, ok := src.formulations[*ing.SubFormulationID]
			if !ok || !sub.BatchSize.IsPositive() {
				unresolved++
				continue
			}
			qty, _ := costing.ConvertQuantity(ing.Quantity, ing.Unit, sub.BatchUnit)
			subFactor := qty.Mul(factor).DivRound(sub.BatchSize, 8)
			n, err := accumulate(src, sub.ID, subFactor, totals, path)
			if err != nil {
				return 0, err
			}
			unresolved += n
		}
	}
	return unresolved, nil
}

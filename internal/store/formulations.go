package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// FormulationInput describes the user-editable part of a formulation.
// Derived costs are not part of it.
type FormulationInput struct {
	Name             string
	Description      string
	BatchSize        decimal.Decimal
	BatchUnit        string
	TargetPrice      decimal.NullDecimal
	MarkupPercentage *decimal.Decimal
	// Ingredients replaces the ingredient list on update when non-nil.
	Ingredients []IngredientInput
}

// IngredientInput is one line of a formulation.
type IngredientInput struct {
	MaterialID       *uint
	SubFormulationID *uint
	Quantity         decimal.Decimal
	Unit             string
	IncludeInMarkup  *bool
	Notes            string
}

// IngredientUpdate is a partial update of an ingredient row.
type IngredientUpdate struct {
	Quantity         *decimal.Decimal
	Unit             *string
	IncludeInMarkup  *bool
	Notes            *string
	CostContribution *decimal.Decimal
}

// FormulationFilter narrows FindFormulations.
type FormulationFilter struct {
	Archived *bool
	Search   string
}

func (s *Store) CreateFormulation(ctx context.Context, tenantID uint, input FormulationInput) (*models.Formulation, error) {
	formulation := models.Formulation{UserID: tenantID, IsActive: true}
	if err := s.applyFormulationInput(&formulation, input); err != nil {
		return nil, err
	}
	ingredients, err := s.buildIngredients(ctx, tenantID, 0, input.Ingredients)
	if err != nil {
		return nil, err
	}

	if err := s.conn(ctx).Omit("Ingredients").Create(&formulation).Error; err != nil {
		return nil, fmt.Errorf("create formulation: %w", err)
	}
	for idx := range ingredients {
		ingredients[idx].FormulationID = formulation.ID
	}
	if len(ingredients) > 0 {
		if err := s.conn(ctx).Omit("Material", "SubFormulation").Create(&ingredients).Error; err != nil {
			return nil, fmt.Errorf("create formulation ingredients: %w", err)
		}
	}
	formulation.Ingredients = ingredients
	return &formulation, nil
}

// UpdateFormulation replaces the editable fields of a formulation and, when
// input.Ingredients is non-nil, its whole ingredient list.
func (s *Store) UpdateFormulation(ctx context.Context, tenantID, id uint, input FormulationInput) (*models.Formulation, error) {
	formulation, err := s.OwnedFormulation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyFormulationInput(formulation, input); err != nil {
		return nil, err
	}

	var ingredients []models.FormulationIngredient
	if input.Ingredients != nil {
		ingredients, err = s.buildIngredients(ctx, tenantID, id, input.Ingredients)
		if err != nil {
			return nil, err
		}
	}

	updates := map[string]any{
		"name":              formulation.Name,
		"description":       formulation.Description,
		"batch_size":        formulation.BatchSize,
		"batch_unit":        formulation.BatchUnit,
		"target_price":      formulation.TargetPrice,
		"markup_percentage": formulation.MarkupPercentage,
	}
	if err := s.conn(ctx).Model(&models.Formulation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update formulation %d: %w", id, err)
	}

	if input.Ingredients != nil {
		if _, err := s.clearIngredients(ctx, id); err != nil {
			return nil, err
		}
		for idx := range ingredients {
			ingredients[idx].FormulationID = id
		}
		if len(ingredients) > 0 {
			if err := s.conn(ctx).Omit("Material", "SubFormulation").Create(&ingredients).Error; err != nil {
				return nil, fmt.Errorf("replace formulation ingredients: %w", err)
			}
		}
	}

	return s.OwnedFormulation(ctx, tenantID, id)
}

func (s *Store) GetFormulation(ctx context.Context, id uint) (*models.Formulation, error) {
	var formulation models.Formulation
	if err := s.conn(ctx).First(&formulation, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &formulation, nil
}

// OwnedFormulation loads a formulation with its ingredients only if it
// belongs to tenantID.
func (s *Store) OwnedFormulation(ctx context.Context, tenantID, id uint) (*models.Formulation, error) {
	var formulation models.Formulation
	err := s.conn(ctx).
		Preload("Ingredients", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("Ingredients.Material").
		Preload("Ingredients.SubFormulation").
		Where("id = ? AND user_id = ?", id, tenantID).
		First(&formulation).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &formulation, nil
}

func (s *Store) ListFormulations(ctx context.Context, tenantID uint) ([]models.Formulation, error) {
	var formulations []models.Formulation
	if err := s.conn(ctx).Where("user_id = ?", tenantID).Order("id asc").Find(&formulations).Error; err != nil {
		return nil, fmt.Errorf("list formulations: %w", err)
	}
	return formulations, nil
}

func (s *Store) FindFormulations(ctx context.Context, tenantID uint, filter FormulationFilter) ([]models.Formulation, error) {
	query := s.conn(ctx).Where("user_id = ?", tenantID).Order("name asc, id asc")
	if filter.Archived != nil {
		query = query.Where("is_active = ?", !*filter.Archived)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("lower(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var formulations []models.Formulation
	if err := query.Find(&formulations).Error; err != nil {
		return nil, fmt.Errorf("find formulations: %w", err)
	}
	return formulations, nil
}

func (s *Store) GetIngredients(ctx context.Context, formulationID uint) ([]models.FormulationIngredient, error) {
	var ingredients []models.FormulationIngredient
	if err := s.conn(ctx).Where("formulation_id = ?", formulationID).Order("id asc").Find(&ingredients).Error; err != nil {
		return nil, fmt.Errorf("load ingredients of formulation %d: %w", formulationID, err)
	}
	return ingredients, nil
}

func (s *Store) UpdateIngredient(ctx context.Context, id uint, update IngredientUpdate) error {
	updates := map[string]any{}
	if update.Quantity != nil {
		if !update.Quantity.IsPositive() {
			return invalid("quantity", "must be greater than zero")
		}
		updates["quantity"] = *update.Quantity
	}
	if update.Unit != nil {
		updates["unit"] = normalizedUnit(*update.Unit)
	}
	if update.IncludeInMarkup != nil {
		updates["include_in_markup"] = *update.IncludeInMarkup
	}
	if update.Notes != nil {
		updates["notes"] = strings.TrimSpace(*update.Notes)
	}
	if update.CostContribution != nil {
		updates["cost_contribution"] = update.CostContribution.Round(costing.CostPlaces)
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.conn(ctx).Model(&models.FormulationIngredient{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update ingredient %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFormulationCosts writes the derived cost columns. It reports false
// when no row matched id.
func (s *Store) UpdateFormulationCosts(ctx context.Context, id uint, costs Costs) (bool, error) {
	result := s.conn(ctx).Model(&models.Formulation{}).Where("id = ?", id).Updates(map[string]any{
		"total_cost":    costs.TotalCost.Round(costing.CostPlaces),
		"unit_cost":     costs.UnitCost.Round(costing.UnitPlaces),
		"profit_margin": costs.ProfitMargin.Round(costing.PercentPlaces),
	})
	if result.Error != nil {
		return false, fmt.Errorf("update formulation %d costs: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetFormulationActive flips the archive flag.
func (s *Store) SetFormulationActive(ctx context.Context, id uint, active bool) error {
	result := s.conn(ctx).Model(&models.Formulation{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("set formulation %d active=%t: %w", id, active, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFormulation removes every ingredient link and zeroes the derived
// costs. It returns how many ingredients were removed.
func (s *Store) ResetFormulation(ctx context.Context, id uint) (int, error) {
	cleared, err := s.clearIngredients(ctx, id)
	if err != nil {
		return 0, err
	}
	if _, err := s.UpdateFormulationCosts(ctx, id, Costs{}); err != nil {
		return 0, err
	}
	return cleared, nil
}

// DeleteFormulation permanently removes a formulation and its ingredients.
func (s *Store) DeleteFormulation(ctx context.Context, id uint) error {
	if _, err := s.clearIngredients(ctx, id); err != nil {
		return err
	}
	result := s.conn(ctx).Unscoped().Delete(&models.Formulation{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete formulation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveParents counts active formulations that use id as a sub-formulation.
func (s *Store) ActiveParents(ctx context.Context, id uint) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&models.FormulationIngredient{}).
		Joins("JOIN formulations ON formulations.id = formulation_ingredients.formulation_id").
		Where("formulation_ingredients.sub_formulation_id = ? AND formulations.is_active = ? AND formulations.deleted_at IS NULL", id, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count parents of formulation %d: %w", id, err)
	}
	return count, nil
}

func (s *Store) clearIngredients(ctx context.Context, formulationID uint) (int, error) {
	result := s.conn(ctx).Unscoped().Where("formulation_id = ?", formulationID).Delete(&models.FormulationIngredient{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear ingredients of formulation %d: %w", formulationID, result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *Store) applyFormulationInput(formulation *models.Formulation, input FormulationInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return invalid("name", "is required")
	}
	if !input.BatchSize.IsPositive() {
		return invalid("batch_size", "must be greater than zero")
	}
	if input.TargetPrice.Valid && input.TargetPrice.Decimal.IsNegative() {
		return invalid("target_price", "must not be negative")
	}

	markup := models.DefaultMarkupPercentage
	if input.MarkupPercentage != nil {
		if input.MarkupPercentage.IsNegative() {
			return invalid("markup_percentage", "must not be negative")
		}
		markup = *input.MarkupPercentage
	} else if formulation.ID != 0 {
		markup = formulation.MarkupPercentage
	}

	formulation.Name = name
	formulation.Description = strings.TrimSpace(input.Description)
	formulation.BatchSize = input.BatchSize
	formulation.BatchUnit = normalizedUnit(input.BatchUnit)
	formulation.TargetPrice = input.TargetPrice
	formulation.MarkupPercentage = markup.Round(costing.PercentPlaces)
	return nil
}

// buildIngredients validates every line against the tenant's materials and
// formulations. selfID is the formulation being edited, or zero on create.
func (s *Store) buildIngredients(ctx context.Context, tenantID, selfID uint, inputs []IngredientInput) ([]models.FormulationIngredient, error) {
	ingredients := make([]models.FormulationIngredient, 0, len(inputs))
	for idx, input := range inputs {
		field := fmt.Sprintf("ingredients[%d]", idx)
		materialID := nonZero(input.MaterialID)
		subID := nonZero(input.SubFormulationID)

		switch {
		case materialID != nil && subID != nil:
			return nil, invalid(field, "only one of material_id or sub_formulation_id may be set")
		case materialID == nil && subID == nil:
			return nil, invalid(field, "either material_id or sub_formulation_id must be provided")
		}
		if !input.Quantity.IsPositive() {
			return nil, invalid(field+".quantity", "must be greater than zero")
		}

		if materialID != nil {
			var count int64
			if err := s.conn(ctx).Model(&models.Material{}).Where("id = ? AND user_id = ?", *materialID, tenantID).Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, invalid(field+".material_id", fmt.Sprintf("material %d does not exist", *materialID))
			}
		}
		if subID != nil {
			if selfID != 0 && *subID == selfID {
				return nil, invalid(field+".sub_formulation_id", "a formulation cannot contain itself")
			}
			var count int64
			if err := s.conn(ctx).Model(&models.Formulation{}).Where("id = ? AND user_id = ?", *subID, tenantID).Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, invalid(field+".sub_formulation_id", fmt.Sprintf("formulation %d does not exist", *subID))
			}
			if selfID != 0 {
				cyclic, err := s.reaches(ctx, *subID, selfID, map[uint]bool{})
				if err != nil {
					return nil, err
				}
				if cyclic {
					return nil, invalid(field+".sub_formulation_id", "would create a circular reference")
				}
			}
		}

		include := true
		if input.IncludeInMarkup != nil {
			include = *input.IncludeInMarkup
		}
		ingredients = append(ingredients, models.FormulationIngredient{
			MaterialID:       materialID,
			SubFormulationID: subID,
			Quantity:         input.Quantity,
			Unit:             normalizedUnit(input.Unit),
			IncludeInMarkup:  include,
			Notes:            strings.TrimSpace(input.Notes),
		})
	}
	return ingredients, nil
}

// reaches reports whether target is reachable from start through
// sub-formulation links.
func (s *Store) reaches(ctx context.Context, start, target uint, visited map[uint]bool) (bool, error) {
	if start == target {
		return true, nil
	}
	if visited[start] {
		return false, nil
	}
	visited[start] = true

	var children []uint
	if err := s.conn(ctx).Model(&models.FormulationIngredient{}).
		Where("formulation_id = ? AND sub_formulation_id IS NOT NULL", start).
		Pluck("sub_formulation_id", &children).Error; err != nil {
		return false, err
	}
	for _, child := range children {
		found, err := s.reaches(ctx, child, target, visited)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

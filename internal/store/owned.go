package store

import (
	"context"
	"fmt"

	"github.com/pipps-app/ProductFormulator-sub000/models"
)

func ownedModel(kind string) (any, error) {
	switch kind {
	case models.EntityMaterial:
		return &models.Material{}, nil
	case models.EntityFormulation:
		return &models.Formulation{}, nil
	case models.EntityVendor:
		return &models.Vendor{}, nil
	case models.EntityCategory:
		return &models.MaterialCategory{}, nil
	default:
		return nil, fmt.Errorf("store: unknown entity kind %q", kind)
	}
}

// CountOwned counts the tenant's rows of the given entity kind.
func (s *Store) CountOwned(ctx context.Context, tenantID uint, kind string) (int64, error) {
	model, err := ownedModel(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.conn(ctx).Model(model).Where("user_id = ?", tenantID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s rows: %w", kind, err)
	}
	return count, nil
}

// OldestOwnedIDs returns the ids of the tenant's first limit rows of kind,
// in creation order.
func (s *Store) OldestOwnedIDs(ctx context.Context, tenantID uint, kind string, limit int) ([]uint, error) {
	model, err := ownedModel(kind)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = s.conn(ctx).Model(model).
		Where("user_id = ?", tenantID).
		Order("created_at asc, id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	return ids, nil
}

// ReferencedMaterialIDs returns the distinct materials used by any of the
// tenant's formulations.
func (s *Store) ReferencedMaterialIDs(ctx context.Context, tenantID uint) ([]uint, error) {
	var ids []uint
	err := s.conn(ctx).Model(&models.FormulationIngredient{}).
		Distinct("formulation_ingredients.material_id").
		Joins("JOIN formulations ON formulations.id = formulation_ingredients.formulation_id").
		Where("formulations.user_id = ? AND formulations.deleted_at IS NULL AND formulation_ingredients.material_id IS NOT NULL", tenantID).
		Order("formulation_ingredients.material_id asc").
		Pluck("formulation_ingredients.material_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list referenced materials: %w", err)
	}
	return ids, nil
}

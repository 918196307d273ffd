package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// MaterialInput describes a new material. UnitCost is not part of it.
type MaterialInput struct {
	Name       string
	SKU        string
	CategoryID *uint
	VendorID   *uint
	TotalCost  decimal.Decimal
	Quantity   decimal.Decimal
	Unit       string
	Notes      string
}

// MaterialUpdate is a partial update. Nil fields are left alone; a zero
// CategoryID or VendorID clears the link.
type MaterialUpdate struct {
	Name       *string
	SKU        *string
	CategoryID *uint
	VendorID   *uint
	TotalCost  *decimal.Decimal
	Quantity   *decimal.Decimal
	Unit       *string
	Notes      *string
	IsActive   *bool
}

// MaterialFilter narrows FindMaterials.
type MaterialFilter struct {
	CategoryID uint
	VendorID   uint
	Search     string
	ActiveOnly bool
}

func (s *Store) CreateMaterial(ctx context.Context, tenantID uint, input MaterialInput) (*models.Material, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if input.TotalCost.IsNegative() {
		return nil, invalid("total_cost", "must not be negative")
	}
	if input.Quantity.IsNegative() {
		return nil, invalid("quantity", "must not be negative")
	}
	if err := s.checkLinks(ctx, tenantID, input.CategoryID, input.VendorID); err != nil {
		return nil, err
	}

	material := models.Material{
		Name:       name,
		SKU:        strings.TrimSpace(input.SKU),
		CategoryID: nonZero(input.CategoryID),
		VendorID:   nonZero(input.VendorID),
		TotalCost:  input.TotalCost.Round(costing.CostPlaces),
		Quantity:   input.Quantity,
		Unit:       normalizedUnit(input.Unit),
		Notes:      strings.TrimSpace(input.Notes),
		IsActive:   true,
		UserID:     tenantID,
	}
	material.UnitCost = costing.UnitCost(material.TotalCost, material.Quantity)

	if err := s.conn(ctx).Create(&material).Error; err != nil {
		return nil, fmt.Errorf("create material: %w", err)
	}
	return &material, nil
}

func (s *Store) GetMaterial(ctx context.Context, id uint) (*models.Material, error) {
	var material models.Material
	if err := s.conn(ctx).First(&material, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &material, nil
}

// OwnedMaterial loads a material only if it belongs to tenantID.
func (s *Store) OwnedMaterial(ctx context.Context, tenantID, id uint) (*models.Material, error) {
	var material models.Material
	err := s.conn(ctx).
		Preload("Category").
		Preload("Vendor").
		Where("id = ? AND user_id = ?", id, tenantID).
		First(&material).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &material, nil
}

func (s *Store) ListMaterials(ctx context.Context, tenantID uint) ([]models.Material, error) {
	return s.FindMaterials(ctx, tenantID, MaterialFilter{})
}

func (s *Store) FindMaterials(ctx context.Context, tenantID uint, filter MaterialFilter) ([]models.Material, error) {
	query := s.conn(ctx).
		Preload("Category").
		Preload("Vendor").
		Where("user_id = ?", tenantID).
		Order("name asc, id asc")

	if filter.CategoryID != 0 {
		query = query.Where("category_id = ?", filter.CategoryID)
	}
	if filter.VendorID != 0 {
		query = query.Where("vendor_id = ?", filter.VendorID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("lower(name) LIKE ? OR lower(sku) LIKE ?", like, like)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var materials []models.Material
	if err := query.Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

// UpdateMaterial applies a partial update and recomputes UnitCost whenever
// TotalCost or Quantity is touched.
func (s *Store) UpdateMaterial(ctx context.Context, id uint, update MaterialUpdate) (*models.Material, error) {
	material, err := s.GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, invalid("name", "is required")
		}
		updates["name"] = name
	}
	if update.SKU != nil {
		updates["sku"] = strings.TrimSpace(*update.SKU)
	}
	if update.Unit != nil {
		updates["unit"] = normalizedUnit(*update.Unit)
	}
	if update.Notes != nil {
		updates["notes"] = strings.TrimSpace(*update.Notes)
	}
	if update.IsActive != nil {
		updates["is_active"] = *update.IsActive
	}
	if update.CategoryID != nil || update.VendorID != nil {
		if err := s.checkLinks(ctx, material.UserID, update.CategoryID, update.VendorID); err != nil {
			return nil, err
		}
	}
	if update.CategoryID != nil {
		updates["category_id"] = nonZero(update.CategoryID)
	}
	if update.VendorID != nil {
		updates["vendor_id"] = nonZero(update.VendorID)
	}

	totalCost, quantity := material.TotalCost, material.Quantity
	if update.TotalCost != nil {
		if update.TotalCost.IsNegative() {
			return nil, invalid("total_cost", "must not be negative")
		}
		totalCost = update.TotalCost.Round(costing.CostPlaces)
		updates["total_cost"] = totalCost
	}
	if update.Quantity != nil {
		if update.Quantity.IsNegative() {
			return nil, invalid("quantity", "must not be negative")
		}
		quantity = *update.Quantity
		updates["quantity"] = quantity
	}
	if update.TotalCost != nil || update.Quantity != nil {
		updates["unit_cost"] = costing.UnitCost(totalCost, quantity)
	}

	if len(updates) > 0 {
		if err := s.conn(ctx).Model(material).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update material %d: %w", id, err)
		}
	}

	return s.GetMaterial(ctx, id)
}

// DeleteMaterial hard-deletes a material. It fails with ErrInUse while any
// formulation ingredient still references it.
func (s *Store) DeleteMaterial(ctx context.Context, tenantID, id uint) error {
	material, err := s.OwnedMaterial(ctx, tenantID, id)
	if err != nil {
		return err
	}

	var refs int64
	if err := s.conn(ctx).Model(&models.FormulationIngredient{}).Where("material_id = ?", id).Count(&refs).Error; err != nil {
		return fmt.Errorf("count material references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("material %d used by %d ingredient(s): %w", id, refs, ErrInUse)
	}

	if err := s.conn(ctx).Unscoped().Delete(material).Error; err != nil {
		return fmt.Errorf("delete material %d: %w", id, err)
	}
	return nil
}

// MaterialUsage lists the formulations that reference materialID.
func (s *Store) MaterialUsage(ctx context.Context, materialID uint) ([]models.Formulation, error) {
	var formulations []models.Formulation
	err := s.conn(ctx).
		Where("id IN (?)", s.conn(ctx).Model(&models.FormulationIngredient{}).Select("formulation_id").Where("material_id = ?", materialID)).
		Order("name asc").
		Find(&formulations).Error
	if err != nil {
		return nil, fmt.Errorf("material usage: %w", err)
	}
	return formulations, nil
}

func (s *Store) checkLinks(ctx context.Context, tenantID uint, categoryID, vendorID *uint) error {
	if id := nonZero(categoryID); id != nil {
		var count int64
		if err := s.conn(ctx).Model(&models.MaterialCategory{}).Where("id = ? AND user_id = ?", *id, tenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return invalid("category_id", "does not exist")
		}
	}
	if id := nonZero(vendorID); id != nil {
		var count int64
		if err := s.conn(ctx).Model(&models.Vendor{}).Where("id = ? AND user_id = ?", *id, tenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return invalid("vendor_id", "does not exist")
		}
	}
	return nil
}

func nonZero(id *uint) *uint {
	if id == nil || *id == 0 {
		return nil
	}
	value := *id
	return &value
}

func normalizedUnit(unit string) string {
	trimmed := costing.NormalizeUnit(unit)
	if trimmed == "" {
		return "g"
	}
	return trimmed
}

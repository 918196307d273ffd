package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipps-app/ProductFormulator-sub000/models"
)

type VendorInput struct {
	Name         string
	ContactEmail string
	Phone        string
	Website      string
	Notes        string
}

type CategoryInput struct {
	Name  string
	Color string
}

func (s *Store) CreateVendor(ctx context.Context, tenantID uint, input VendorInput) (*models.Vendor, error) {
	vendor := models.Vendor{UserID: tenantID}
	if err := applyVendorInput(&vendor, input); err != nil {
		return nil, err
	}
	if err := s.conn(ctx).Create(&vendor).Error; err != nil {
		return nil, fmt.Errorf("create vendor: %w", err)
	}
	return &vendor, nil
}

func (s *Store) ListVendors(ctx context.Context, tenantID uint) ([]models.Vendor, error) {
	var vendors []models.Vendor
	if err := s.conn(ctx).Where("user_id = ?", tenantID).Order("name asc, id asc").Find(&vendors).Error; err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	return vendors, nil
}

func (s *Store) OwnedVendor(ctx context.Context, tenantID, id uint) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := s.conn(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&vendor).Error; err != nil {
		return nil, notFound(err)
	}
	return &vendor, nil
}

func (s *Store) UpdateVendor(ctx context.Context, tenantID, id uint, input VendorInput) (*models.Vendor, error) {
	vendor, err := s.OwnedVendor(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := applyVendorInput(vendor, input); err != nil {
		return nil, err
	}
	updates := map[string]any{
		"name":          vendor.Name,
		"contact_email": vendor.ContactEmail,
		"phone":         vendor.Phone,
		"website":       vendor.Website,
		"notes":         vendor.Notes,
	}
	if err := s.conn(ctx).Model(vendor).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update vendor %d: %w", id, err)
	}
	return s.OwnedVendor(ctx, tenantID, id)
}

// DeleteVendor removes a vendor and unlinks it from any material.
func (s *Store) DeleteVendor(ctx context.Context, tenantID, id uint) error {
	vendor, err := s.OwnedVendor(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.conn(ctx).Model(&models.Material{}).Where("vendor_id = ?", id).Update("vendor_id", nil).Error; err != nil {
		return fmt.Errorf("unlink vendor %d: %w", id, err)
	}
	if err := s.conn(ctx).Unscoped().Delete(vendor).Error; err != nil {
		return fmt.Errorf("delete vendor %d: %w", id, err)
	}
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, tenantID uint, input CategoryInput) (*models.MaterialCategory, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	category := models.MaterialCategory{Name: name, Color: strings.TrimSpace(input.Color), UserID: tenantID}
	if err := s.conn(ctx).Create(&category).Error; err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context, tenantID uint) ([]models.MaterialCategory, error) {
	var categories []models.MaterialCategory
	if err := s.conn(ctx).Where("user_id = ?", tenantID).Order("name asc, id asc").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *Store) OwnedCategory(ctx context.Context, tenantID, id uint) (*models.MaterialCategory, error) {
	var category models.MaterialCategory
	if err := s.conn(ctx).Where("id = ? AND user_id = ?", id, tenantID).First(&category).Error; err != nil {
		return nil, notFound(err)
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, tenantID, id uint, input CategoryInput) (*models.MaterialCategory, error) {
	category, err := s.OwnedCategory(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if err := s.conn(ctx).Model(category).Updates(map[string]any{"name": name, "color": strings.TrimSpace(input.Color)}).Error; err != nil {
		return nil, fmt.Errorf("update category %d: %w", id, err)
	}
	return s.OwnedCategory(ctx, tenantID, id)
}

// DeleteCategory removes a category and unlinks it from any material.
func (s *Store) DeleteCategory(ctx context.Context, tenantID, id uint) error {
	category, err := s.OwnedCategory(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.conn(ctx).Model(&models.Material{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
		return fmt.Errorf("unlink category %d: %w", id, err)
	}
	if err := s.conn(ctx).Unscoped().Delete(category).Error; err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

func applyVendorInput(vendor *models.Vendor, input VendorInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return invalid("name", "is required")
	}
	vendor.Name = name
	vendor.ContactEmail = strings.ToLower(strings.TrimSpace(input.ContactEmail))
	vendor.Phone = strings.TrimSpace(input.Phone)
	vendor.Website = strings.TrimSpace(input.Website)
	vendor.Notes = strings.TrimSpace(input.Notes)
	return nil
}

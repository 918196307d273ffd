package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/policy"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

type importer struct {
	store *store.Store
	plans *policy.Policy
	bus   *events.Bus
	db    *gorm.DB
}

type skippedRow struct {
	Row    int
	Name   string
	Reason string
}

type importSummary struct {
	Created  int
	Updated  int
	Repriced int
	Skipped  []skippedRow
}

// Import upserts materials by case-insensitive name. Rows that fail
// validation or exceed the plan are skipped; price changes on existing
// materials are propagated as they would be through the API.
func (imp *importer) Import(ctx context.Context, tenantID uint, records []record) (importSummary, error) {
	var summary importSummary

	existing, err := imp.store.ListMaterials(ctx, tenantID)
	if err != nil {
		return summary, fmt.Errorf("load materials: %w", err)
	}
	byName := make(map[string]models.Material, len(existing))
	for _, m := range existing {
		byName[strings.ToLower(m.Name)] = m
	}

	linked, err := imp.loadLinks(ctx, tenantID)
	if err != nil {
		return summary, err
	}

	for _, rec := range records {
		name := rec.get("name")
		skip := func(reason string) {
			summary.Skipped = append(summary.Skipped, skippedRow{Row: rec.Row, Name: name, Reason: reason})
		}
		if name == "" {
			skip("name is empty")
			continue
		}

		categoryID, vendorID, err := linked.resolve(ctx, imp.store, tenantID, rec)
		if err != nil {
			return summary, fmt.Errorf("row %d (%s): %w", rec.Row, name, err)
		}

		current, found := byName[strings.ToLower(name)]
		if !found {
			material, err := imp.create(ctx, tenantID, rec, categoryID, vendorID)
			if err != nil {
				if reason, ok := skippable(err); ok {
					skip(reason)
					continue
				}
				return summary, fmt.Errorf("row %d (%s): %w", rec.Row, name, err)
			}
			byName[strings.ToLower(material.Name)] = *material
			summary.Created++
			continue
		}

		updated, repriced, err := imp.update(ctx, tenantID, &current, rec, categoryID, vendorID)
		if err != nil {
			if reason, ok := skippable(err); ok {
				skip(reason)
				continue
			}
			return summary, fmt.Errorf("row %d (%s): %w", rec.Row, name, err)
		}
		byName[strings.ToLower(updated.Name)] = *updated
		summary.Updated++
		summary.Repriced += repriced
	}
	return summary, nil
}

func (imp *importer) create(ctx context.Context, tenantID uint, rec record, categoryID, vendorID *uint) (*models.Material, error) {
	if err := imp.plans.RequireCreate(ctx, tenantID, models.EntityMaterial); err != nil {
		return nil, err
	}
	material, err := imp.store.CreateMaterial(ctx, tenantID, store.MaterialInput{
		Name:       rec.get("name"),
		SKU:        rec.get("sku"),
		CategoryID: categoryID,
		VendorID:   vendorID,
		TotalCost:  costing.ParseAmount(strings.TrimPrefix(rec.get("total_cost"), "$")),
		Quantity:   costing.ParseAmount(rec.get("quantity")),
		Unit:       rec.get("unit"),
		Notes:      rec.get("notes"),
	})
	if err != nil {
		return nil, err
	}
	audit.Record(ctx, imp.db, audit.Entry{
		TenantID:    tenantID,
		Action:      models.AuditActionCreate,
		EntityType:  models.EntityMaterial,
		EntityID:    material.ID,
		EntityName:  material.Name,
		Description: "Imported material " + material.Name,
	})
	return material, nil
}

// update applies the columns present in rec. It returns how many
// formulations were repriced.
func (imp *importer) update(ctx context.Context, tenantID uint, current *models.Material, rec record, categoryID, vendorID *uint) (*models.Material, int, error) {
	if err := imp.plans.RequireEdit(ctx, tenantID, models.EntityMaterial, current.ID); err != nil {
		return nil, 0, err
	}

	update := store.MaterialUpdate{CategoryID: categoryID, VendorID: vendorID}
	if sku, ok := rec.Fields["sku"]; ok && sku != "" {
		update.SKU = &sku
	}
	if raw, ok := rec.Fields["total_cost"]; ok && raw != "" {
		cost := costing.ParseAmount(strings.TrimPrefix(raw, "$"))
		update.TotalCost = &cost
	}
	if raw, ok := rec.Fields["quantity"]; ok && raw != "" {
		qty := costing.ParseAmount(raw)
		update.Quantity = &qty
	}
	if unit, ok := rec.Fields["unit"]; ok && unit != "" {
		update.Unit = &unit
	}
	if notes, ok := rec.Fields["notes"]; ok && notes != "" {
		update.Notes = &notes
	}

	updated, err := imp.store.UpdateMaterial(ctx, current.ID, update)
	if err != nil {
		return nil, 0, err
	}
	audit.Record(ctx, imp.db, audit.Entry{
		TenantID:    tenantID,
		Action:      models.AuditActionUpdate,
		EntityType:  models.EntityMaterial,
		EntityID:    updated.ID,
		EntityName:  updated.Name,
		Description: "Re-imported material " + updated.Name,
		CostBefore:  decimal.NewNullDecimal(current.UnitCost),
		CostAfter:   decimal.NewNullDecimal(updated.UnitCost),
	})

	event := events.MaterialPriceChanged{
		MaterialID:     updated.ID,
		TenantID:       tenantID,
		UnitCostBefore: current.UnitCost,
		UnitCostAfter:  updated.UnitCost,
	}
	if !event.Changed() && current.Unit == updated.Unit {
		return updated, 0, nil
	}

	repriced := 0
	for _, outcome := range imp.bus.Publish(ctx, event) {
		if outcome.Err != nil {
			applog.Error(ctx, "price change subscriber failed", "subscriber", outcome.Subscriber, "material_id", updated.ID, "error", outcome.Err)
			continue
		}
		if result, ok := outcome.Value.(propagation.Result); ok {
			repriced += len(result.Updated)
			for _, failed := range result.Failed {
				applog.Warn(ctx, "formulation could not be repriced", "formulation_id", failed.FormulationID, "error", failed.Error)
			}
		}
	}
	return updated, repriced, nil
}

func skippable(err error) (string, bool) {
	var verr *store.ValidationError
	var locked *policy.LockedError
	switch {
	case errors.As(err, &verr):
		return verr.Error(), true
	case errors.As(err, &locked):
		return locked.Error(), true
	default:
		return "", false
	}
}

// links caches the tenant's categories and vendors by lowercase name,
// creating missing ones on first use.
type links struct {
	categories map[string]uint
	vendors    map[string]uint
}

func (imp *importer) loadLinks(ctx context.Context, tenantID uint) (*links, error) {
	categories, err := imp.store.ListCategories(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	vendors, err := imp.store.ListVendors(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}

	l := &links{categories: map[string]uint{}, vendors: map[string]uint{}}
	for _, c := range categories {
		l.categories[strings.ToLower(c.Name)] = c.ID
	}
	for _, v := range vendors {
		l.vendors[strings.ToLower(v.Name)] = v.ID
	}
	return l, nil
}

func (l *links) resolve(ctx context.Context, s *store.Store, tenantID uint, rec record) (*uint, *uint, error) {
	var categoryID, vendorID *uint

	if name := rec.get("category"); name != "" {
		id, ok := l.categories[strings.ToLower(name)]
		if !ok {
			category, err := s.CreateCategory(ctx, tenantID, store.CategoryInput{Name: name})
			if err != nil {
				return nil, nil, fmt.Errorf("create category %q: %w", name, err)
			}
			id = category.ID
			l.categories[strings.ToLower(name)] = id
		}
		categoryID = &id
	}

	if name := rec.get("vendor"); name != "" {
		id, ok := l.vendors[strings.ToLower(name)]
		if !ok {
			vendor, err := s.CreateVendor(ctx, tenantID, store.VendorInput{Name: name})
			if err != nil {
				return nil, nil, fmt.Errorf("create vendor %q: %w", name, err)
			}
			id = vendor.ID
			l.vendors[strings.ToLower(name)] = id
		}
		vendorID = &id
	}
	return categoryID, vendorID, nil
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

type materialRequest struct {
	Name       string          `json:"name" validate:"required,max=255"`
	SKU        string          `json:"sku" validate:"max=64"`
	CategoryID *uint           `json:"category_id"`
	VendorID   *uint           `json:"vendor_id"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit" validate:"max=16"`
	Notes      string          `json:"notes" validate:"max=4000"`
}

// materialUpdateRequest is a partial update; a category_id or vendor_id of 0
// clears the link.
type materialUpdateRequest struct {
	Name       *string          `json:"name" validate:"omitempty,min=1,max=255"`
	SKU        *string          `json:"sku" validate:"omitempty,max=64"`
	CategoryID *uint            `json:"category_id"`
	VendorID   *uint            `json:"vendor_id"`
	TotalCost  *decimal.Decimal `json:"total_cost"`
	Quantity   *decimal.Decimal `json:"quantity"`
	Unit       *string          `json:"unit" validate:"omitempty,max=16"`
	Notes      *string          `json:"notes" validate:"omitempty,max=4000"`
	IsActive   *bool            `json:"is_active"`
}

type materialResponse struct {
	*models.Material
	CanEdit bool             `json:"can_edit"`
	UsedBy  []formulationRef `json:"used_by,omitempty"`
}

type formulationRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type materialUpdateResponse struct {
	Material    materialResponse    `json:"material"`
	Propagation *propagation.Result `json:"propagation,omitempty"`
}

type materialSnapshot struct {
	Name      string          `json:"name"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func snapshotMaterial(m *models.Material) materialSnapshot {
	return materialSnapshot{Name: m.Name, TotalCost: m.TotalCost, Quantity: m.Quantity, Unit: m.Unit, UnitCost: m.UnitCost}
}

// ListMaterials returns the caller's materials, optionally filtered by
// category_id, vendor_id, search and active.
func ListMaterials(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	filter := store.MaterialFilter{
		CategoryID: queryUint(r, "category_id"),
		VendorID:   queryUint(r, "vendor_id"),
		Search:     r.URL.Query().Get("search"),
	}
	if active, ok := queryBool(r, "active"); ok && active {
		filter.ActiveOnly = true
	}

	materials, err := repo.FindMaterials(ctx, userID, filter)
	if err != nil {
		writeStoreError(w, r, err, "materials")
		return
	}
	editable, err := plans.Editable(ctx, userID, models.EntityMaterial)
	if err != nil {
		writeStoreError(w, r, err, "materials")
		return
	}

	responses := make([]materialResponse, 0, len(materials))
	for idx := range materials {
		responses = append(responses, materialResponse{Material: &materials[idx], CanEdit: editable(materials[idx].ID)})
	}
	writeJSON(w, http.StatusOK, responses)
}

func CreateMaterial(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	var req materialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := plans.RequireCreate(ctx, userID, models.EntityMaterial); err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	material, err := repo.CreateMaterial(ctx, userID, store.MaterialInput{
		Name:       req.Name,
		SKU:        req.SKU,
		CategoryID: req.CategoryID,
		VendorID:   req.VendorID,
		TotalCost:  req.TotalCost,
		Quantity:   req.Quantity,
		Unit:       req.Unit,
		Notes:      req.Notes,
	})
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	audit.Record(ctx, database, audit.Entry{
		TenantID:    userID,
		Action:      models.AuditActionCreate,
		EntityType:  models.EntityMaterial,
		EntityID:    material.ID,
		EntityName:  material.Name,
		Description: "Created material " + material.Name,
		Data:        snapshotMaterial(material),
		At:          nowFunc(),
	})
	writeJSON(w, http.StatusCreated, materialResponse{Material: material, CanEdit: true})
}

func GetMaterial(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "material not found")
		return
	}
	ctx := r.Context()

	material, err := repo.OwnedMaterial(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}
	usage, err := repo.MaterialUsage(ctx, id)
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}
	canEdit, err := plans.CanEdit(ctx, userID, models.EntityMaterial, id)
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	writeJSON(w, http.StatusOK, materialResponse{Material: material, CanEdit: canEdit, UsedBy: refs(usage)})
}

// UpdateMaterial applies a partial update. When the change moves the
// material's price, a MaterialPriceChanged event is published and the
// propagation outcome is returned with the material.
func UpdateMaterial(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "material not found")
		return
	}
	ctx := r.Context()

	var req materialUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	before, err := repo.OwnedMaterial(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}
	if err := plans.RequireEdit(ctx, userID, models.EntityMaterial, id); err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	updated, err := repo.UpdateMaterial(ctx, id, store.MaterialUpdate{
		Name:       req.Name,
		SKU:        req.SKU,
		CategoryID: req.CategoryID,
		VendorID:   req.VendorID,
		TotalCost:  req.TotalCost,
		Quantity:   req.Quantity,
		Unit:       req.Unit,
		Notes:      req.Notes,
		IsActive:   req.IsActive,
	})
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	audit.Record(ctx, database, audit.Entry{
		TenantID:    userID,
		Action:      models.AuditActionUpdate,
		EntityType:  models.EntityMaterial,
		EntityID:    updated.ID,
		EntityName:  updated.Name,
		Description: "Updated material " + updated.Name,
		Before:      snapshotMaterial(before),
		After:       snapshotMaterial(updated),
		CostBefore:  decimal.NewNullDecimal(before.UnitCost),
		CostAfter:   decimal.NewNullDecimal(updated.UnitCost),
		At:          nowFunc(),
	})

	resp := materialUpdateResponse{Material: materialResponse{Material: updated, CanEdit: true}}
	event := events.MaterialPriceChanged{
		MaterialID:     updated.ID,
		TenantID:       userID,
		UnitCostBefore: before.UnitCost,
		UnitCostAfter:  updated.UnitCost,
	}
	if event.Changed() || before.Unit != updated.Unit {
		for _, outcome := range bus.Publish(ctx, event) {
			if outcome.Err != nil {
				applog.Error(ctx, "material price change subscriber failed", "subscriber", outcome.Subscriber, "error", outcome.Err)
				continue
			}
			if result, ok := outcome.Value.(propagation.Result); ok {
				resp.Propagation = &result
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteMaterial removes a material that no formulation uses.
func DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "material not found")
		return
	}
	ctx := r.Context()

	material, err := repo.OwnedMaterial(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "material")
		return
	}

	if err := repo.DeleteMaterial(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrInUse) {
			usage, usageErr := repo.MaterialUsage(ctx, id)
			if usageErr != nil {
				applog.Error(ctx, "failed to load material usage", "error", usageErr)
			}
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "material is used by one or more formulations",
				"state":   "unchanged",
				"used_by": refs(usage),
			})
			return
		}
		writeStoreError(w, r, err, "material")
		return
	}

	audit.Record(ctx, database, audit.Entry{
		TenantID:    userID,
		Action:      models.AuditActionDelete,
		EntityType:  models.EntityMaterial,
		EntityID:    material.ID,
		EntityName:  material.Name,
		Description: "Deleted material " + material.Name,
		Data:        snapshotMaterial(material),
		At:          nowFunc(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func refs(formulations []models.Formulation) []formulationRef {
	out := make([]formulationRef, 0, len(formulations))
	for _, f := range formulations {
		out = append(out, formulationRef{ID: f.ID, Name: f.Name})
	}
	return out
}

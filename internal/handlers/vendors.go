package handlers

import (
	"net/http"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

type vendorRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email,max=255"`
	Phone        string `json:"phone" validate:"max=32"`
	Website      string `json:"website" validate:"omitempty,url,max=255"`
	Notes        string `json:"notes" validate:"max=4000"`
}

func (req vendorRequest) input() store.VendorInput {
	return store.VendorInput{
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		Phone:        req.Phone,
		Website:      req.Website,
		Notes:        req.Notes,
	}
}

type vendorResponse struct {
	*models.Vendor
	CanEdit bool `json:"can_edit"`
}

func ListVendors(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	vendors, err := repo.ListVendors(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, err, "vendors")
		return
	}
	editable, err := plans.Editable(r.Context(), userID, models.EntityVendor)
	if err != nil {
		writeStoreError(w, r, err, "vendors")
		return
	}
	responses := make([]vendorResponse, 0, len(vendors))
	for idx := range vendors {
		responses = append(responses, vendorResponse{Vendor: &vendors[idx], CanEdit: editable(vendors[idx].ID)})
	}
	writeJSON(w, http.StatusOK, responses)
}

func CreateVendor(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	var req vendorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := plans.RequireCreate(ctx, userID, models.EntityVendor); err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	vendor, err := repo.CreateVendor(ctx, userID, req.input())
	if err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionCreate,
		EntityType: models.EntityVendor, EntityID: vendor.ID, EntityName: vendor.Name,
		Description: "Created vendor " + vendor.Name, Data: vendor, At: nowFunc(),
	})
	writeJSON(w, http.StatusCreated, vendorResponse{Vendor: vendor, CanEdit: true})
}

func UpdateVendor(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "vendor not found")
		return
	}
	ctx := r.Context()

	var req vendorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	before, err := repo.OwnedVendor(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	if err := plans.RequireEdit(ctx, userID, models.EntityVendor, id); err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	vendor, err := repo.UpdateVendor(ctx, userID, id, req.input())
	if err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionUpdate,
		EntityType: models.EntityVendor, EntityID: vendor.ID, EntityName: vendor.Name,
		Description: "Updated vendor " + vendor.Name, Before: before, After: vendor, At: nowFunc(),
	})
	writeJSON(w, http.StatusOK, vendorResponse{Vendor: vendor, CanEdit: true})
}

func DeleteVendor(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "vendor not found")
		return
	}
	ctx := r.Context()

	vendor, err := repo.OwnedVendor(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	if err := repo.DeleteVendor(ctx, userID, id); err != nil {
		writeStoreError(w, r, err, "vendor")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionDelete,
		EntityType: models.EntityVendor, EntityID: vendor.ID, EntityName: vendor.Name,
		Description: "Deleted vendor " + vendor.Name, Data: vendor, At: nowFunc(),
	})
	w.WriteHeader(http.StatusNoContent)
}

type categoryRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func ListCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	categories, err := repo.ListCategories(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, err, "categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	category, err := repo.CreateCategory(ctx, userID, store.CategoryInput{Name: req.Name, Color: req.Color})
	if err != nil {
		writeStoreError(w, r, err, "category")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionCreate,
		EntityType: models.EntityCategory, EntityID: category.ID, EntityName: category.Name,
		Description: "Created category " + category.Name, Data: category, At: nowFunc(),
	})
	writeJSON(w, http.StatusCreated, category)
}

func UpdateCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "category not found")
		return
	}
	ctx := r.Context()

	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	before, err := repo.OwnedCategory(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "category")
		return
	}
	category, err := repo.UpdateCategory(ctx, userID, id, store.CategoryInput{Name: req.Name, Color: req.Color})
	if err != nil {
		writeStoreError(w, r, err, "category")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionUpdate,
		EntityType: models.EntityCategory, EntityID: category.ID, EntityName: category.Name,
		Description: "Updated category " + category.Name, Before: before, After: category, At: nowFunc(),
	})
	writeJSON(w, http.StatusOK, category)
}

func DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "category not found")
		return
	}
	ctx := r.Context()

	category, err := repo.OwnedCategory(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "category")
		return
	}
	if err := repo.DeleteCategory(ctx, userID, id); err != nil {
		writeStoreError(w, r, err, "category")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID: userID, Action: models.AuditActionDelete,
		EntityType: models.EntityCategory, EntityID: category.ID, EntityName: category.Name,
		Description: "Deleted category " + category.Name, Data: category, At: nowFunc(),
	})
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/models"
)

func d(value string) decimal.Decimal { return decimal.RequireFromString(value) }

func (c *apiClient) createMaterial(name, totalCost, quantity, unit string) models.Material {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/materials", map[string]any{
		"name":       name,
		"total_cost": totalCost,
		"quantity":   quantity,
		"unit":       unit,
	})
	expect(c.t, rec, http.StatusCreated)
	return *decode[materialResponse](c.t, rec).Material
}

func TestCreateAndGetMaterial(t *testing.T) {
	client := newAPIClient(t)
	client.signup("maker@example.com", models.PlanBusiness)

	material := client.createMaterial("Olive Oil", "45.50", "5", "Kilograms")
	if !material.UnitCost.Equal(d("9.1")) {
		t.Fatalf("UnitCost = %s, want 9.1", material.UnitCost)
	}
	if material.Unit != "kg" {
		t.Fatalf("Unit = %q, want kg", material.Unit)
	}

	rec := client.do(http.MethodGet, fmt.Sprintf("/api/materials/%d", material.ID), nil)
	expect(t, rec, http.StatusOK)
	got := decode[materialResponse](t, rec)
	if got.Name != "Olive Oil" || !got.CanEdit {
		t.Fatalf("material = %+v, want editable Olive Oil", got)
	}

	list := client.do(http.MethodGet, "/api/materials?search=olive", nil)
	expect(t, list, http.StatusOK)
	if items := decode[[]materialResponse](t, list); len(items) != 1 {
		t.Fatalf("len(materials) = %d, want 1", len(items))
	}
}

func TestCreateMaterialRejectsDerivedFields(t *testing.T) {
	client := newAPIClient(t)
	client.signup("maker@example.com", models.PlanBusiness)

	rec := client.do(http.MethodPost, "/api/materials", map[string]any{
		"name":       "Lye",
		"total_cost": "10",
		"quantity":   "1",
		"unit":       "kg",
		"unit_cost":  "99",
	})
	expect(t, rec, http.StatusBadRequest)

	negative := client.do(http.MethodPost, "/api/materials", map[string]any{"name": "Lye", "total_cost": "-1", "quantity": "1"})
	expect(t, negative, http.StatusBadRequest)
	if resp := decode[errorResponse](t, negative); resp.Fields["total_cost"] == "" {
		t.Fatalf("fields = %v, want total_cost", resp.Fields)
	}

	list := client.do(http.MethodGet, "/api/materials", nil)
	if items := decode[[]materialResponse](t, list); len(items) != 0 {
		t.Fatalf("len(materials) = %d, want 0 after rejected creates", len(items))
	}
}

func TestMaterialsAreTenantScoped(t *testing.T) {
	client := newAPIClient(t)
	client.signup("first@example.com", models.PlanBusiness)
	material := client.createMaterial("Shea Butter", "30", "2", "kg")

	expect(t, client.do(http.MethodPost, "/api/auth/logout", nil), http.StatusNoContent)
	client.signup("second@example.com", models.PlanBusiness)

	path := fmt.Sprintf("/api/materials/%d", material.ID)
	expect(t, client.do(http.MethodGet, path, nil), http.StatusNotFound)
	expect(t, client.do(http.MethodPut, path, map[string]any{"total_cost": "1"}), http.StatusNotFound)
	expect(t, client.do(http.MethodDelete, path, nil), http.StatusNotFound)
}

func TestUpdateMaterialPropagatesPrice(t *testing.T) {
	client := newAPIClient(t)
	client.signup("maker@example.com", models.PlanBusiness)

	material := client.createMaterial("Coconut Oil", "20", "1", "kg")
	created := client.do(http.MethodPost, "/api/formulations", map[string]any{
		"name":       "Bar Soap",
		"batch_size": "1",
		"batch_unit": "kg",
		"ingredients": []map[string]any{
			{"material_id": material.ID, "quantity": "1", "unit": "kg"},
		},
	})
	expect(t, created, http.StatusCreated)
	formulation := decode[formulationResponse](t, created)
	if !formulation.TotalCost.Equal(d("20")) {
		t.Fatalf("TotalCost = %s, want 20", formulation.TotalCost)
	}

	rec := client.do(http.MethodPut, fmt.Sprintf("/api/materials/%d", material.ID), map[string]any{"total_cost": "40"})
	expect(t, rec, http.StatusOK)
	resp := decode[materialUpdateResponse](t, rec)
	if !resp.Material.UnitCost.Equal(d("40")) {
		t.Fatalf("UnitCost = %s, want 40", resp.Material.UnitCost)
	}
	if resp.Propagation == nil || len(resp.Propagation.Updated) != 1 || resp.Propagation.Updated[0] != formulation.ID {
		t.Fatalf("propagation = %+v, want formulation %d updated", resp.Propagation, formulation.ID)
	}

	got := decode[formulationResponse](t, client.do(http.MethodGet, fmt.Sprintf("/api/formulations/%d", formulation.ID), nil))
	if !got.TotalCost.Equal(d("40")) || !got.UnitCost.Equal(d("40")) {
		t.Fatalf("costs = %s/%s, want 40/40", got.TotalCost, got.UnitCost)
	}
	if !got.ProfitMargin.Equal(d("30")) {
		t.Fatalf("ProfitMargin = %s, want 30", got.ProfitMargin)
	}

	renamed := client.do(http.MethodPut, fmt.Sprintf("/api/materials/%d", material.ID), map[string]any{"name": "Virgin Coconut Oil"})
	expect(t, renamed, http.StatusOK)
	if resp := decode[materialUpdateResponse](t, renamed); resp.Propagation != nil {
		t.Fatalf("propagation = %+v, want none for a rename", resp.Propagation)
	}
}

func TestDeleteMaterialInUse(t *testing.T) {
	client := newAPIClient(t)
	client.signup("maker@example.com", models.PlanBusiness)

	material := client.createMaterial("Lye", "12", "1", "kg")
	created := client.do(http.MethodPost, "/api/formulations", map[string]any{
		"name":        "Liquid Soap",
		"batch_size":  "2",
		"batch_unit":  "l",
		"ingredients": []map[string]any{{"material_id": material.ID, "quantity": "0.5", "unit": "kg"}},
	})
	expect(t, created, http.StatusCreated)

	path := fmt.Sprintf("/api/materials/%d", material.ID)
	rec := client.do(http.MethodDelete, path, nil)
	expect(t, rec, http.StatusConflict)
	body := decode[map[string]any](t, rec)
	if body["state"] != "unchanged" {
		t.Fatalf("state = %v, want unchanged", body["state"])
	}
	if usedBy, _ := body["used_by"].([]any); len(usedBy) != 1 {
		t.Fatalf("used_by = %v, want one formulation", body["used_by"])
	}
	expect(t, client.do(http.MethodGet, path, nil), http.StatusOK)

	unused := client.createMaterial("Fragrance", "8", "100", "g")
	expect(t, client.do(http.MethodDelete, fmt.Sprintf("/api/materials/%d", unused.ID), nil), http.StatusNoContent)
	expect(t, client.do(http.MethodGet, fmt.Sprintf("/api/materials/%d", unused.ID), nil), http.StatusNotFound)
}

func TestMaterialPlanLimit(t *testing.T) {
	client := newAPIClient(t)
	client.signup("free@example.com", models.PlanFree)

	var first models.Material
	for i := 0; i < 5; i++ {
		m := client.createMaterial(fmt.Sprintf("Material %d", i), "1", "1", "kg")
		if i == 0 {
			first = m
		}
	}

	rec := client.do(http.MethodPost, "/api/materials", map[string]any{"name": "One too many", "total_cost": "1", "quantity": "1"})
	expect(t, rec, http.StatusForbidden)
	if resp := decode[errorResponse](t, rec); !resp.Locked {
		t.Fatalf("response = %+v, want locked", resp)
	}

	expect(t, client.do(http.MethodPut, fmt.Sprintf("/api/materials/%d", first.ID), map[string]any{"total_cost": "2"}), http.StatusOK)
}

func TestVendorAndCategoryCRUD(t *testing.T) {
	client := newAPIClient(t)
	client.signup("maker@example.com", models.PlanBusiness)

	rec := client.do(http.MethodPost, "/api/vendors", map[string]any{"name": "Oils Inc", "contact_email": "sales@oils.example"})
	expect(t, rec, http.StatusCreated)
	vendor := decode[vendorResponse](t, rec)

	bad := client.do(http.MethodPost, "/api/vendors", map[string]any{"name": "Nope", "contact_email": "not-an-email"})
	expect(t, bad, http.StatusBadRequest)

	updated := client.do(http.MethodPut, fmt.Sprintf("/api/vendors/%d", vendor.ID), map[string]any{"name": "Oils Incorporated"})
	expect(t, updated, http.StatusOK)
	if got := decode[vendorResponse](t, updated); got.Name != "Oils Incorporated" {
		t.Fatalf("Name = %q, want Oils Incorporated", got.Name)
	}

	category := client.do(http.MethodPost, "/api/categories", map[string]any{"name": "Carrier oils", "color": "#aabbcc"})
	expect(t, category, http.StatusCreated)

	list := client.do(http.MethodGet, "/api/categories", nil)
	expect(t, list, http.StatusOK)
	if items := decode[[]models.MaterialCategory](t, list); len(items) != 1 {
		t.Fatalf("len(categories) = %d, want 1", len(items))
	}

	expect(t, client.do(http.MethodDelete, fmt.Sprintf("/api/vendors/%d", vendor.ID), nil), http.StatusNoContent)
	vendors := client.do(http.MethodGet, "/api/vendors", nil)
	if items := decode[[]vendorResponse](t, vendors); len(items) != 0 {
		t.Fatalf("len(vendors) = %d, want 0", len(items))
	}
}

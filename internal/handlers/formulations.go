package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/costing"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/propagation"
	"github.com/pipps-app/ProductFormulator-sub000/internal/reports"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

type ingredientRequest struct {
	MaterialID       *uint           `json:"material_id" validate:"required_without=SubFormulationID,excluded_with=SubFormulationID"`
	SubFormulationID *uint           `json:"sub_formulation_id" validate:"required_without=MaterialID"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit" validate:"max=16"`
	IncludeInMarkup  *bool           `json:"include_in_markup"`
	Notes            string          `json:"notes" validate:"max=4000"`
}

// formulationRequest carries the editable fields of a formulation. On update
// an absent ingredients list keeps the current one and an empty list clears it.
type formulationRequest struct {
	Name             string              `json:"name" validate:"required,max=255"`
	Description      string              `json:"description" validate:"max=4000"`
	BatchSize        decimal.Decimal     `json:"batch_size"`
	BatchUnit        string              `json:"batch_unit" validate:"max=16"`
	TargetPrice      decimal.NullDecimal `json:"target_price"`
	MarkupPercentage *decimal.Decimal    `json:"markup_percentage"`
	Ingredients      []ingredientRequest `json:"ingredients" validate:"dive"`
}

func (req formulationRequest) input() store.FormulationInput {
	input := store.FormulationInput{
		Name:             req.Name,
		Description:      req.Description,
		BatchSize:        req.BatchSize,
		BatchUnit:        req.BatchUnit,
		TargetPrice:      req.TargetPrice,
		MarkupPercentage: req.MarkupPercentage,
	}
	if req.Ingredients != nil {
		input.Ingredients = make([]store.IngredientInput, 0, len(req.Ingredients))
		for _, ing := range req.Ingredients {
			input.Ingredients = append(input.Ingredients, store.IngredientInput{
				MaterialID:       ing.MaterialID,
				SubFormulationID: ing.SubFormulationID,
				Quantity:         ing.Quantity,
				Unit:             ing.Unit,
				IncludeInMarkup:  ing.IncludeInMarkup,
				Notes:            ing.Notes,
			})
		}
	}
	return input
}

type formulationResponse struct {
	*models.Formulation
	MarkupEligibleCost *decimal.Decimal      `json:"markup_eligible_cost,omitempty"`
	Margin             *costing.ProfitMargin `json:"margin,omitempty"`
	TargetMargin       decimal.NullDecimal   `json:"target_margin"`
	CanEdit            bool                  `json:"can_edit"`
}

// describeFormulation derives the margin breakdown from the cached ingredient
// contributions. It expects f's ingredients to be loaded.
func describeFormulation(f *models.Formulation, canEdit bool) formulationResponse {
	lines := make([]costing.Line, 0, len(f.Ingredients))
	for _, ing := range f.Ingredients {
		lines = append(lines, costing.Line{Cost: ing.CostContribution, IncludeInMarkup: ing.IncludeInMarkup})
	}
	breakdown := costing.Aggregate(lines, f.BatchSize, f.MarkupPercentage)

	resp := formulationResponse{
		Formulation:        f,
		MarkupEligibleCost: &breakdown.MarkupEligibleCost,
		Margin:             &breakdown.Margin,
		CanEdit:            canEdit,
	}
	if margin, ok := costing.TargetMargin(f.TargetPrice, f.UnitCost); ok {
		resp.TargetMargin = decimal.NewNullDecimal(margin)
	}
	return resp
}

type formulationUpdateResponse struct {
	Formulation formulationResponse `json:"formulation"`
	Propagation *propagation.Result `json:"propagation,omitempty"`
}

type deleteDecisionResponse struct {
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason"`
	Archived bool   `json:"archived"`
	Deleted  bool   `json:"deleted"`
}

// ListFormulations returns active formulations unless archived=true is given.
func ListFormulations(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	archived, _ := queryBool(r, "archived")
	formulations, err := repo.FindFormulations(ctx, userID, store.FormulationFilter{
		Archived: &archived,
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		writeStoreError(w, r, err, "formulations")
		return
	}
	editable, err := plans.Editable(ctx, userID, models.EntityFormulation)
	if err != nil {
		writeStoreError(w, r, err, "formulations")
		return
	}

	responses := make([]formulationResponse, 0, len(formulations))
	for idx := range formulations {
		f := &formulations[idx]
		resp := formulationResponse{Formulation: f, CanEdit: f.IsActive && editable(f.ID)}
		if margin, ok := costing.TargetMargin(f.TargetPrice, f.UnitCost); ok {
			resp.TargetMargin = decimal.NewNullDecimal(margin)
		}
		responses = append(responses, resp)
	}
	writeJSON(w, http.StatusOK, responses)
}

// CreateFormulation stores a formulation and prices it in the same
// transaction.
func CreateFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	ctx := r.Context()

	var req formulationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := plans.RequireCreate(ctx, userID, models.EntityFormulation); err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}

	var (
		created *models.Formulation
		calc    propagation.Recalculation
	)
	err := repo.Transaction(ctx, func(tx *store.Store) error {
		var err error
		if created, err = tx.CreateFormulation(ctx, userID, req.input()); err != nil {
			return err
		}
		calc, err = propagation.Recompute(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}

	formulation, err := repo.OwnedFormulation(ctx, userID, created.ID)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID:    userID,
		Action:      models.AuditActionCreate,
		EntityType:  models.EntityFormulation,
		EntityID:    formulation.ID,
		EntityName:  formulation.Name,
		Description: "Created formulation " + formulation.Name,
		After:       calc.After,
		Data:        map[string]any{"ingredients": calc.Ingredients},
		At:          nowFunc(),
	})
	writeJSON(w, http.StatusCreated, describeFormulation(formulation, true))
}

func GetFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}
	ctx := r.Context()

	formulation, err := repo.OwnedFormulation(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	canEdit := false
	if formulation.IsActive {
		if canEdit, err = plans.CanEdit(ctx, userID, models.EntityFormulation, id); err != nil {
			writeStoreError(w, r, err, "formulation")
			return
		}
	}
	writeJSON(w, http.StatusOK, describeFormulation(formulation, canEdit))
}

// UpdateFormulation replaces a formulation's editable fields, reprices it and
// then reprices every formulation that uses it as a sub-formulation.
func UpdateFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}
	ctx := r.Context()

	var req formulationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	before, err := repo.OwnedFormulation(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	if !before.IsActive {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "archived formulations must be restored before editing", State: "unchanged"})
		return
	}
	if err := plans.RequireEdit(ctx, userID, models.EntityFormulation, id); err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}

	var calc propagation.Recalculation
	err = repo.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.UpdateFormulation(ctx, userID, id, req.input()); err != nil {
			return err
		}
		var err error
		calc, err = propagation.Recompute(ctx, tx, id)
		return err
	})
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}

	formulation, err := repo.OwnedFormulation(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	audit.Record(ctx, database, audit.Entry{
		TenantID:    userID,
		Action:      models.AuditActionUpdate,
		EntityType:  models.EntityFormulation,
		EntityID:    formulation.ID,
		EntityName:  formulation.Name,
		Description: "Updated formulation " + formulation.Name,
		Before:      calc.Before,
		After:       calc.After,
		Data:        map[string]any{"ingredients": calc.Ingredients},
		CostBefore:  decimal.NewNullDecimal(calc.Before.TotalCost),
		CostAfter:   decimal.NewNullDecimal(calc.After.TotalCost),
		At:          nowFunc(),
	})

	resp := formulationUpdateResponse{Formulation: describeFormulation(formulation, true)}
	result, err := engine.OnFormulationChanged(ctx, id)
	if err != nil {
		applog.Error(ctx, "failed to reprice parent formulations", "formulation_id", id, "error", err)
	} else if len(result.Updated) > 0 || len(result.Failed) > 0 {
		resp.Propagation = &result
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteFormulation deletes a fresh formulation or archives one with history.
func DeleteFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}

	decision, err := guard.DecideDeleteOrArchive(r.Context(), id, userID)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	writeJSON(w, http.StatusOK, deleteDecisionResponse{
		Outcome:  string(decision.Outcome),
		Reason:   decision.Reason,
		Archived: decision.Archived(),
		Deleted:  decision.Deleted(),
	})
}

func ArchiveFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}

	formulation, err := guard.Archive(r.Context(), id, userID)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	writeJSON(w, http.StatusOK, describeFormulation(formulation, false))
}

// RestoreFormulation reactivates an archived formulation with an empty
// ingredient list.
func RestoreFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}

	result, err := guard.Restore(r.Context(), id, userID)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func RecalculateFormulation(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}
	ctx := r.Context()

	current, err := repo.OwnedFormulation(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	if !current.IsActive {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "archived formulations must be restored before recalculating", State: "unchanged"})
		return
	}
	if _, err := engine.RecalculateFormulation(ctx, id); err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	formulation, err := repo.OwnedFormulation(ctx, userID, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	canEdit, err := plans.CanEdit(ctx, userID, models.EntityFormulation, id)
	if err != nil {
		writeStoreError(w, r, err, "formulation")
		return
	}
	writeJSON(w, http.StatusOK, describeFormulation(formulation, canEdit))
}

// FormulationBatch scales a formulation to ?quantity= units of its batch unit.
func FormulationBatch(w http.ResponseWriter, r *http.Request) {
	userID, _ := currentUserID(r)
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "formulation not found")
		return
	}

	target, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("quantity")))
	if err != nil {
		writeRejected(w, "quantity must be a number", map[string]string{"quantity": "must be a positive number"})
		return
	}

	plan, err := reports.BuildBatchPlan(r.Context(), database, userID, id, target, nowFunc())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, plan)
	case errors.Is(err, reports.ErrFormulationNotFound):
		writeJSONError(w, http.StatusNotFound, "formulation not found")
	case errors.Is(err, reports.ErrInvalidQuantity):
		writeRejected(w, "quantity must be greater than zero", map[string]string{"quantity": "must be a positive number"})
	case errors.Is(err, reports.ErrEmptyComposition), errors.Is(err, reports.ErrCircularReference):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeStoreError(w, r, err, "batch plan")
	}
}

// Package propagation keeps formulation costs consistent with material prices.
//
// A price change fans out to every formulation of the tenant that uses the
// material, directly or through a sub-formulation, children before parents. Each affected formulation
// is recomputed in full, ingredients included, inside its own transaction.
// There is no lock across formulations: two concurrent price changes can
// interleave and the last writer wins per formulation row.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	"github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Repository is the persistence the engine needs.
type Repository interface {
	store.MaterialStore
	store.FormulationStore
	Transaction(ctx context.Context, fn func(tx *store.Store) error) error
	DB() *gorm.DB
}

// FailedFormulation names a formulation whose recompute failed.
type FailedFormulation struct {
	FormulationID uint   `json:"formulation_id"`
	Name          string `json:"name"`
	Error         string `json:"error"`
}

// Result summarizes one propagation run.
type Result struct {
	RunID      string              `json:"run_id"`
	MaterialID uint                `json:"material_id"`
	Updated    []uint              `json:"updated"`
	Skipped    int                 `json:"skipped"`
	Failed     []FailedFormulation `json:"failed,omitempty"`
}

// Engine recomputes formulation costs.
type Engine struct {
	repo     Repository
	now      func() time.Time
	newRunID func() string
}

type Option func(*Engine)

// WithClock overrides the time source used for audit entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newRunID = next
		}
	}
}

func New(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers the engine as the MaterialPriceChanged consumer.
func (e *Engine) Subscribe(bus *events.Bus) {
	bus.Subscribe("propagation", func(ctx context.Context, event events.MaterialPriceChanged) (any, error) {
		return e.OnMaterialPriceChanged(ctx, event.MaterialID)
	})
}

// OnMaterialPriceChanged recomputes every formulation affected by materialID.
// Per-formulation failures are logged and collected in the Result; only a
// failure to load the material or the formulation list aborts the run.
func (e *Engine) OnMaterialPriceChanged(ctx context.Context, materialID uint) (Result, error) {
	result := Result{RunID: e.newRunID(), MaterialID: materialID, Updated: []uint{}}
	ctx = log.WithAttrs(ctx, "run_id", result.RunID, "material_id", materialID)

	material, err := e.repo.GetMaterial(ctx, materialID)
	if err != nil {
		return result, fmt.Errorf("load material %d: %w", materialID, err)
	}
	g, err := e.load(ctx, material.UserID, &result)
	if err != nil {
		return result, err
	}

	var seeds []uint
	for _, f := range g.formulations {
		for _, ing := range g.ingredients[f.ID] {
			if ing.MaterialID != nil && *ing.MaterialID == materialID {
				seeds = append(seeds, f.ID)
				break
			}
		}
	}

	trigger := materialID
	e.cascade(ctx, g, seeds, &trigger, &result)
	return result, nil
}

// OnFormulationChanged recomputes the formulations that use formulationID as
// a sub-formulation, transitively. The changed formulation itself is not
// touched.
func (e *Engine) OnFormulationChanged(ctx context.Context, formulationID uint) (Result, error) {
	result := Result{RunID: e.newRunID(), Updated: []uint{}}
	ctx = log.WithAttrs(ctx, "run_id", result.RunID, "formulation_id", formulationID)

	f, err := e.repo.GetFormulation(ctx, formulationID)
	if err != nil {
		return result, fmt.Errorf("load formulation %d: %w", formulationID, err)
	}
	g, err := e.load(ctx, f.UserID, &result)
	if err != nil {
		return result, err
	}
	g.handled[formulationID] = true

	e.cascade(ctx, g, g.parents[formulationID], nil, &result)
	if _, loaded := g.ingredients[formulationID]; loaded {
		// The source formulation is neither updated nor skipped.
		result.Skipped--
	}
	return result, nil
}

// graph is a tenant's formulations and the sub-formulation links between them.
type graph struct {
	formulations []models.Formulation
	byID         map[uint]models.Formulation
	ingredients  map[uint][]models.FormulationIngredient
	// parents maps a formulation to the formulations using it as a sub-formulation.
	parents map[uint][]uint
	handled map[uint]bool
}

func (e *Engine) load(ctx context.Context, tenantID uint, result *Result) (*graph, error) {
	formulations, err := e.repo.ListFormulations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list formulations of tenant %d: %w", tenantID, err)
	}

	g := &graph{
		formulations: formulations,
		byID:         make(map[uint]models.Formulation, len(formulations)),
		ingredients:  make(map[uint][]models.FormulationIngredient, len(formulations)),
		parents:      make(map[uint][]uint),
		handled:      make(map[uint]bool),
	}
	for _, f := range formulations {
		g.byID[f.ID] = f
		ingredients, err := e.repo.GetIngredients(ctx, f.ID)
		if err != nil {
			result.Failed = append(result.Failed, failure(f, err))
			g.handled[f.ID] = true
			log.Error(ctx, "propagation skipped formulation", "formulation_id", f.ID, "error", err)
			continue
		}
		g.ingredients[f.ID] = ingredients
		for _, ing := range ingredients {
			if ing.SubFormulationID != nil {
				g.parents[*ing.SubFormulationID] = append(g.parents[*ing.SubFormulationID], f.ID)
			}
		}
	}
	return g, nil
}

// cascade recomputes seeds and, transitively, the formulations that use
// them. A formulation is recomputed only after every affected
// sub-formulation it uses, so parents always price their children's new
// unit cost.
func (e *Engine) cascade(ctx context.Context, g *graph, seeds []uint, trigger *uint, result *Result) {
	affected := make(map[uint]bool)
	stack := append([]uint(nil), seeds...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if affected[id] || g.handled[id] {
			continue
		}
		affected[id] = true
		stack = append(stack, g.parents[id]...)
	}

	// pending counts the affected sub-formulation links each formulation
	// still waits on.
	pending := make(map[uint]int, len(affected))
	for id := range affected {
		for _, parent := range g.parents[id] {
			if affected[parent] {
				pending[parent]++
			}
		}
	}
	var ready []uint
	for _, f := range g.formulations {
		if affected[f.ID] && pending[f.ID] == 0 {
			ready = append(ready, f.ID)
		}
	}

	for len(affected) > 0 {
		if len(ready) == 0 {
			// Only a sub-formulation cycle stalls the order; break it in list order.
			for _, f := range g.formulations {
				if affected[f.ID] {
					ready = append(ready, f.ID)
					break
				}
			}
		}
		id := ready[0]
		ready = ready[1:]
		if !affected[id] {
			continue
		}
		delete(affected, id)
		g.handled[id] = true

		f := g.byID[id]
		if err := e.recalculate(ctx, &f, trigger, result.RunID); err != nil {
			result.Failed = append(result.Failed, failure(f, err))
			log.Error(ctx, "formulation recompute failed", "formulation_id", id, "error", err)
		} else {
			result.Updated = append(result.Updated, id)
		}

		for _, parent := range g.parents[id] {
			if !affected[parent] {
				continue
			}
			pending[parent]--
			if pending[parent] == 0 {
				ready = append(ready, parent)
			}
		}
	}

	result.Skipped = len(g.formulations) - len(result.Updated) - len(result.Failed)
	log.Info(ctx, "propagation finished",
		"updated", len(result.Updated),
		"skipped", result.Skipped,
		"failed", len(result.Failed),
	)
}

// RecalculateFormulation recomputes one formulation outside of a price change.
func (e *Engine) RecalculateFormulation(ctx context.Context, id uint) (*models.Formulation, error) {
	f, err := e.repo.GetFormulation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.recalculate(ctx, f, nil, e.newRunID()); err != nil {
		return nil, err
	}
	return e.repo.GetFormulation(ctx, id)
}

func (e *Engine) recalculate(ctx context.Context, f *models.Formulation, trigger *uint, runID string) error {
	var calc Recalculation
	err := e.repo.Transaction(ctx, func(tx *store.Store) error {
		var err error
		calc, err = Recompute(ctx, tx, f.ID)
		return err
	})
	if err != nil {
		return err
	}

	description := fmt.Sprintf("Recalculated costs of %s", f.Name)
	if trigger != nil {
		description = fmt.Sprintf("Recalculated costs of %s after material %d changed price", f.Name, *trigger)
	}
	audit.Record(ctx, e.repo.DB(), audit.Entry{
		TenantID:          f.UserID,
		Action:            models.AuditActionUpdate,
		EntityType:        models.EntityFormulation,
		EntityID:          f.ID,
		EntityName:        f.Name,
		Description:       description,
		Before:            calc.Before,
		After:             calc.After,
		Data:              map[string]any{"ingredients": calc.Ingredients},
		CostBefore:        nullCost(calc.Before.TotalCost),
		CostAfter:         nullCost(calc.After.TotalCost),
		TriggerMaterialID: trigger,
		RunID:             runID,
		At:                e.now(),
	})
	return nil
}

func failure(f models.Formulation, err error) FailedFormulation {
	message := err.Error()
	if errors.Is(err, store.ErrNotFound) {
		message = "formulation no longer exists"
	}
	return FailedFormulation{FormulationID: f.ID, Name: f.Name, Error: message}
}

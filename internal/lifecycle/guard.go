// Package lifecycle decides whether a formulation delete request removes the
// formulation or only archives it, and handles archive and restore.
//
// States: active, archived and deleted. Active may move to archived or
// deleted, archived may move back to active, deleted is terminal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

const (
	DefaultHistoryAge = 24 * time.Hour
	DefaultEditGrace  = 60 * time.Second
)

var (
	ErrAlreadyArchived = errors.New("lifecycle: formulation is already archived")
	ErrNotArchived     = errors.New("lifecycle: formulation is not archived")
)

// Outcome is the result of a delete request.
type Outcome string

const (
	OutcomeArchived Outcome = "archived"
	OutcomeDeleted  Outcome = "deleted"
)

// Decision reports what a delete request did and why.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

func (d Decision) Archived() bool { return d.Outcome == OutcomeArchived }
func (d Decision) Deleted() bool  { return d.Outcome == OutcomeDeleted }

// RestoreResult describes a restore. Restoring always drops the ingredient
// list, so Message is meant to be shown to the user.
type RestoreResult struct {
	Formulation             *models.Formulation `json:"formulation"`
	ClearedIngredientsCount int                 `json:"cleared_ingredients_count"`
	Message                 string              `json:"message"`
}

// HistoryFunc reports whether an entity has audit history beyond its creation.
type HistoryFunc func(ctx context.Context, entityType string, entityID uint) (bool, error)

// Guard applies the formulation lifecycle rules.
type Guard struct {
	store      *store.Store
	history    HistoryFunc
	now        func() time.Time
	historyAge time.Duration
	editGrace  time.Duration
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithThresholds overrides the age and edit-grace heuristics. Non-positive
// values keep the defaults.
func WithThresholds(historyAge, editGrace time.Duration) Option {
	return func(g *Guard) {
		if historyAge > 0 {
			g.historyAge = historyAge
		}
		if editGrace > 0 {
			g.editGrace = editGrace
		}
	}
}

func WithHistory(fn HistoryFunc) Option {
	return func(g *Guard) {
		if fn != nil {
			g.history = fn
		}
	}
}

func New(s *store.Store, opts ...Option) *Guard {
	g := &Guard{
		store:      s,
		now:        time.Now,
		historyAge: DefaultHistoryAge,
		editGrace:  DefaultEditGrace,
	}
	g.history = func(ctx context.Context, entityType string, entityID uint) (bool, error) {
		return audit.HasHistory(ctx, s.DB(), entityType, entityID)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DecideDeleteOrArchive handles a delete request. A formulation with any sign
// of history is archived; only a fresh, untouched one is removed.
func (g *Guard) DecideDeleteOrArchive(ctx context.Context, formulationID, tenantID uint) (Decision, error) {
	f, err := g.store.OwnedFormulation(ctx, tenantID, formulationID)
	if err != nil {
		return Decision{}, err
	}
	if !f.IsActive {
		return Decision{}, ErrAlreadyArchived
	}

	archive, reason := g.assess(ctx, f)
	if archive {
		if err := g.store.SetFormulationActive(ctx, f.ID, false); err != nil {
			return Decision{}, err
		}
		g.record(ctx, f, models.AuditActionArchive, "Archived "+f.Name+" instead of deleting: "+reason)
		return Decision{Outcome: OutcomeArchived, Reason: reason}, nil
	}

	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		return tx.DeleteFormulation(ctx, f.ID)
	})
	if err != nil {
		return Decision{}, err
	}
	g.record(ctx, f, models.AuditActionDelete, "Deleted "+f.Name+": "+reason)
	return Decision{Outcome: OutcomeDeleted, Reason: reason}, nil
}

// assess reports whether f must be archived rather than deleted.
func (g *Guard) assess(ctx context.Context, f *models.Formulation) (bool, string) {
	parents, err := g.store.ActiveParents(ctx, f.ID)
	if err != nil {
		log.Error(ctx, "parent lookup failed, archiving", "formulation_id", f.ID, "error", err)
		return true, "usage could not be verified"
	}
	if parents > 0 {
		return true, fmt.Sprintf("used as a sub-formulation by %d active formulation(s)", parents)
	}

	has, err := g.history(ctx, models.EntityFormulation, f.ID)
	if err != nil {
		log.Error(ctx, "history lookup failed, archiving", "formulation_id", f.ID, "error", err)
		return true, "history could not be verified"
	}
	if has {
		return true, "formulation has recorded changes"
	}

	if g.now().Sub(f.CreatedAt) > g.historyAge {
		return true, fmt.Sprintf("formulation is older than %s", g.historyAge)
	}
	if f.UpdatedAt.Sub(f.CreatedAt) > g.editGrace {
		return true, "formulation was modified after creation"
	}
	return false, "formulation has no history"
}

// Archive deactivates an active formulation regardless of its history.
func (g *Guard) Archive(ctx context.Context, formulationID, tenantID uint) (*models.Formulation, error) {
	f, err := g.store.OwnedFormulation(ctx, tenantID, formulationID)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return nil, ErrAlreadyArchived
	}
	if err := g.store.SetFormulationActive(ctx, f.ID, false); err != nil {
		return nil, err
	}
	g.record(ctx, f, models.AuditActionArchive, "Archived "+f.Name)
	return g.store.OwnedFormulation(ctx, tenantID, formulationID)
}

// Restore reactivates an archived formulation. Its ingredients are removed
// and its costs reset to zero, so it comes back as an empty shell.
func (g *Guard) Restore(ctx context.Context, formulationID, tenantID uint) (RestoreResult, error) {
	f, err := g.store.OwnedFormulation(ctx, tenantID, formulationID)
	if err != nil {
		return RestoreResult{}, err
	}
	if f.IsActive {
		return RestoreResult{}, ErrNotArchived
	}

	var cleared int
	err = g.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		if cleared, err = tx.ResetFormulation(ctx, f.ID); err != nil {
			return err
		}
		return tx.SetFormulationActive(ctx, f.ID, true)
	})
	if err != nil {
		return RestoreResult{}, err
	}

	g.record(ctx, f, models.AuditActionRestore, fmt.Sprintf("Restored %s and cleared %d ingredient(s)", f.Name, cleared))

	restored, err := g.store.OwnedFormulation(ctx, tenantID, formulationID)
	if err != nil {
		return RestoreResult{}, err
	}
	return RestoreResult{
		Formulation:             restored,
		ClearedIngredientsCount: cleared,
		Message:                 restoreMessage(cleared),
	}, nil
}

func restoreMessage(cleared int) string {
	if cleared == 0 {
		return "Formulation restored. Costs were reset to zero; add ingredients to price it again."
	}
	return fmt.Sprintf("Formulation restored. Its %d ingredient(s) were removed and costs reset to zero; add ingredients again to price it.", cleared)
}

func (g *Guard) record(ctx context.Context, f *models.Formulation, action models.AuditAction, description string) {
	audit.Record(ctx, g.db(), audit.Entry{
		TenantID:    f.UserID,
		Action:      action,
		EntityType:  models.EntityFormulation,
		EntityID:    f.ID,
		EntityName:  f.Name,
		Description: description,
		Data: map[string]any{
			"name":       f.Name,
			"total_cost": f.TotalCost,
			"unit_cost":  f.UnitCost,
		},
		At: g.now(),
	})
}

func (g *Guard) db() *gorm.DB {
	return g.store.DB()
}

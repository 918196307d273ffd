// Package policy implements the plan soft-lock: entities beyond what a
// subscription plan allows stay readable but become read-only. Entities are
// ranked by creation, so the oldest ones remain editable.
package policy

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Unlimited marks a kind without a cap.
const Unlimited = -1

// Limits caps how many entities of each kind a plan may edit.
type Limits struct {
	Materials    int `json:"materials"`
	Formulations int `json:"formulations"`
	Vendors      int `json:"vendors"`
}

var planLimits = map[string]Limits{
	models.PlanFree:         {Materials: 5, Formulations: 1, Vendors: 2},
	models.PlanStarter:      {Materials: 20, Formulations: 5, Vendors: 10},
	models.PlanProfessional: {Materials: 100, Formulations: 25, Vendors: 50},
	models.PlanBusiness:     {Materials: Unlimited, Formulations: Unlimited, Vendors: Unlimited},
}

// LimitsFor returns the limits of plan, treating unknown plans as free.
func LimitsFor(plan string) Limits {
	return planLimits[models.NormalizePlan(plan)]
}

// Of returns the cap for kind. Kinds without a cap, such as categories,
// report Unlimited.
func (l Limits) Of(kind string) int {
	switch kind {
	case models.EntityMaterial:
		return l.Materials
	case models.EntityFormulation:
		return l.Formulations
	case models.EntityVendor:
		return l.Vendors
	default:
		return Unlimited
	}
}

// LockedError is returned by Require* when the plan forbids a mutation.
type LockedError struct {
	Kind  string
	Limit int
	Plan  string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("the %s plan allows editing %d %s record(s); upgrade to unlock the rest", e.Plan, e.Limit, e.Kind)
}

// IsLocked reports whether err is a *LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// Policy answers capability checks for a tenant.
type Policy struct {
	store *store.Store
}

func New(s *store.Store) *Policy {
	return &Policy{store: s}
}

func (p *Policy) plan(ctx context.Context, tenantID uint) (string, error) {
	var user models.User
	err := p.store.DB().WithContext(ctx).Select("plan").First(&user, tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load plan of user %d: %w", tenantID, err)
	}
	return models.NormalizePlan(user.Plan), nil
}

// CanCreate reports whether the tenant may add another entity of kind.
func (p *Policy) CanCreate(ctx context.Context, tenantID uint, kind string) (bool, error) {
	plan, err := p.plan(ctx, tenantID)
	if err != nil {
		return false, err
	}
	limit := LimitsFor(plan).Of(kind)
	if limit == Unlimited {
		return true, nil
	}
	count, err := p.store.CountOwned(ctx, tenantID, kind)
	if err != nil {
		return false, err
	}
	return count < int64(limit), nil
}

// CanEdit reports whether entityID is within the editable share of the
// tenant's entities of kind.
func (p *Policy) CanEdit(ctx context.Context, tenantID uint, kind string, entityID uint) (bool, error) {
	plan, err := p.plan(ctx, tenantID)
	if err != nil {
		return false, err
	}
	limit := LimitsFor(plan).Of(kind)
	if limit == Unlimited {
		return true, nil
	}
	ids, err := p.store.OldestOwnedIDs(ctx, tenantID, kind, limit)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == entityID {
			return true, nil
		}
	}
	return false, nil
}

// RequireCreate is CanCreate returning a *LockedError when not allowed.
func (p *Policy) RequireCreate(ctx context.Context, tenantID uint, kind string) error {
	ok, err := p.CanCreate(ctx, tenantID, kind)
	if err != nil {
		return err
	}
	if !ok {
		return p.locked(ctx, tenantID, kind)
	}
	return nil
}

// RequireEdit is CanEdit returning a *LockedError when not allowed.
func (p *Policy) RequireEdit(ctx context.Context, tenantID uint, kind string, entityID uint) error {
	ok, err := p.CanEdit(ctx, tenantID, kind, entityID)
	if err != nil {
		return err
	}
	if !ok {
		return p.locked(ctx, tenantID, kind)
	}
	return nil
}

func (p *Policy) locked(ctx context.Context, tenantID uint, kind string) error {
	plan, err := p.plan(ctx, tenantID)
	if err != nil {
		return err
	}
	return &LockedError{Kind: kind, Limit: LimitsFor(plan).Of(kind), Plan: plan}
}

// Editable returns a predicate over entity ids of kind, loading the tenant's
// editable set once. It suits list views.
func (p *Policy) Editable(ctx context.Context, tenantID uint, kind string) (func(uint) bool, error) {
	plan, err := p.plan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	limit := LimitsFor(plan).Of(kind)
	if limit == Unlimited {
		return func(uint) bool { return true }, nil
	}
	ids, err := p.store.OldestOwnedIDs(ctx, tenantID, kind, limit)
	if err != nil {
		return nil, err
	}
	allowed := make(map[uint]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	return func(id uint) bool { return allowed[id] }, nil
}

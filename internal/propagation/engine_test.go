package propagation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pipps-app/ProductFormulator-sub000/internal/audit"
	"github.com/pipps-app/ProductFormulator-sub000/internal/db/dbtest"
	"github.com/pipps-app/ProductFormulator-sub000/internal/events"
	"github.com/pipps-app/ProductFormulator-sub000/internal/lifecycle"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

type fixture struct {
	store  *store.Store
	engine *Engine
	tenant models.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	database := dbtest.Open(t)
	user := dbtest.User(t, database, "maker@example.com")
	s := store.New(database)
	runs := 0
	engine := New(s,
		WithClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }),
		WithRunIDs(func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		}),
	)
	return fixture{store: s, engine: engine, tenant: user}
}

func (f fixture) material(t *testing.T, name, total, qty string) *models.Material {
	t.Helper()
	m, err := f.store.CreateMaterial(context.Background(), f.tenant.ID, store.MaterialInput{Name: name, TotalCost: d(total), Quantity: d(qty), Unit: "g"})
	if err != nil {
		t.Fatalf("CreateMaterial error = %v", err)
	}
	return m
}

// formulation creates a formulation and prices it, the way the create
// endpoint does.
func (f fixture) formulation(t *testing.T, input store.FormulationInput) *models.Formulation {
	t.Helper()
	ctx := context.Background()
	var id uint
	err := f.store.Transaction(ctx, func(tx *store.Store) error {
		created, err := tx.CreateFormulation(ctx, f.tenant.ID, input)
		if err != nil {
			return err
		}
		id = created.ID
		_, err = Recompute(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		t.Fatalf("create formulation: %v", err)
	}
	loaded, err := f.store.GetFormulation(ctx, id)
	if err != nil {
		t.Fatalf("GetFormulation error = %v", err)
	}
	return loaded
}

func (f fixture) reprice(t *testing.T, materialID uint, total string) {
	t.Helper()
	value := d(total)
	if _, err := f.store.UpdateMaterial(context.Background(), materialID, store.MaterialUpdate{TotalCost: &value}); err != nil {
		t.Fatalf("UpdateMaterial error = %v", err)
	}
}

func TestPriceIncreaseCascade(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	a := fx.formulation(t, store.FormulationInput{
		Name: "A", BatchSize: d("1"), MarkupPercentage: ptr(d("30")),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("2")}},
	})
	if !a.TotalCost.Equal(d("20")) {
		t.Fatalf("initial TotalCost = %s, want 20", a.TotalCost)
	}

	fx.reprice(t, m.ID, "200")
	result, err := fx.engine.OnMaterialPriceChanged(ctx, m.ID)
	if err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}
	if len(result.Updated) != 1 || result.Updated[0] != a.ID {
		t.Fatalf("Updated = %v, want [%d]", result.Updated, a.ID)
	}

	after, err := fx.store.GetFormulation(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetFormulation error = %v", err)
	}
	if !after.TotalCost.Equal(d("40")) {
		t.Fatalf("TotalCost = %s, want 40", after.TotalCost)
	}
	if !after.UnitCost.Equal(d("40")) {
		t.Fatalf("UnitCost = %s, want 40", after.UnitCost)
	}
	if !after.ProfitMargin.Equal(d("30")) {
		t.Fatalf("ProfitMargin = %s, want 30", after.ProfitMargin)
	}

	changes, err := audit.CostChanges(ctx, fx.store.DB(), fx.tenant.ID, time.Time{})
	if err != nil {
		t.Fatalf("CostChanges error = %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("len(changes) = %d, want 1", len(changes))
	}
	entry := changes[0]
	if entry.TriggerMaterialID == nil || *entry.TriggerMaterialID != m.ID {
		t.Fatalf("TriggerMaterialID = %v, want %d", entry.TriggerMaterialID, m.ID)
	}
	if !entry.CostBefore.Decimal.Equal(d("20")) || !entry.CostAfter.Decimal.Equal(d("40")) {
		t.Fatalf("cost change = %s -> %s, want 20 -> 40", entry.CostBefore.Decimal, entry.CostAfter.Decimal)
	}
	if entry.RunID != result.RunID {
		t.Fatalf("RunID = %q, want %q", entry.RunID, result.RunID)
	}
}

func TestPropagationLeavesUnrelatedFormulationsAlone(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	shared := fx.material(t, "Shared", "100", "10")
	other := fx.material(t, "Other", "50", "10")

	var users []*models.Formulation
	for _, name := range []string{"F1", "F2", "F3"} {
		users = append(users, fx.formulation(t, store.FormulationInput{
			Name: name, BatchSize: d("1"),
			Ingredients: []store.IngredientInput{{MaterialID: &shared.ID, Quantity: d("1")}},
		}))
	}
	untouched := fx.formulation(t, store.FormulationInput{
		Name: "Untouched", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &other.ID, Quantity: d("1")}},
	})

	fx.reprice(t, shared.ID, "300")
	result, err := fx.engine.OnMaterialPriceChanged(ctx, shared.ID)
	if err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}
	if len(result.Updated) != 3 || result.Skipped != 1 || len(result.Failed) != 0 {
		t.Fatalf("result = %+v, want 3 updated and 1 skipped", result)
	}

	for _, f := range users {
		reloaded, err := fx.store.GetFormulation(ctx, f.ID)
		if err != nil {
			t.Fatalf("GetFormulation error = %v", err)
		}
		if !reloaded.TotalCost.Equal(d("30")) {
			t.Fatalf("%s TotalCost = %s, want 30", f.Name, reloaded.TotalCost)
		}
	}

	reloaded, err := fx.store.GetFormulation(ctx, untouched.ID)
	if err != nil {
		t.Fatalf("GetFormulation error = %v", err)
	}
	if !reloaded.TotalCost.Equal(untouched.TotalCost) || !reloaded.UpdatedAt.Equal(untouched.UpdatedAt) {
		t.Fatalf("untouched formulation changed: %+v", reloaded)
	}
	has, err := audit.HasHistory(ctx, fx.store.DB(), models.EntityFormulation, untouched.ID)
	if err != nil || has {
		t.Fatalf("HasHistory(untouched) = %t, %v, want no audit entry", has, err)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	oil := fx.material(t, "Oil", "33.33", "7")
	lye := fx.material(t, "Lye", "10", "3")
	f := fx.formulation(t, store.FormulationInput{
		Name: "Soap", BatchSize: d("3"), MarkupPercentage: ptr(d("42.5")),
		Ingredients: []store.IngredientInput{
			{MaterialID: &oil.ID, Quantity: d("1.7")},
			{MaterialID: &lye.ID, Quantity: d("0.3")},
		},
	})

	if _, err := fx.engine.OnMaterialPriceChanged(ctx, oil.ID); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	first, _ := fx.store.GetFormulation(ctx, f.ID)
	firstIngredients, _ := fx.store.GetIngredients(ctx, f.ID)

	if _, err := fx.engine.OnMaterialPriceChanged(ctx, oil.ID); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	second, _ := fx.store.GetFormulation(ctx, f.ID)
	secondIngredients, _ := fx.store.GetIngredients(ctx, f.ID)

	if !first.TotalCost.Equal(second.TotalCost) || !first.UnitCost.Equal(second.UnitCost) || !first.ProfitMargin.Equal(second.ProfitMargin) {
		t.Fatalf("derived values drifted: %s/%s/%s -> %s/%s/%s",
			first.TotalCost, first.UnitCost, first.ProfitMargin,
			second.TotalCost, second.UnitCost, second.ProfitMargin)
	}
	for i := range firstIngredients {
		if !firstIngredients[i].CostContribution.Equal(secondIngredients[i].CostContribution) {
			t.Fatalf("ingredient %d drifted: %s -> %s", i, firstIngredients[i].CostContribution, secondIngredients[i].CostContribution)
		}
	}
}

func TestTotalIsSumOfContributionsAndMarkupExcludesFlaggedLines(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	oil := fx.material(t, "Oil", "100", "10")
	jar := fx.material(t, "Jar", "12", "12")
	f := fx.formulation(t, store.FormulationInput{
		Name: "Butter", BatchSize: d("2"), MarkupPercentage: ptr(d("50")),
		Ingredients: []store.IngredientInput{
			{MaterialID: &oil.ID, Quantity: d("3")},
			{MaterialID: &jar.ID, Quantity: d("2"), IncludeInMarkup: ptr(false)},
		},
	})

	ingredients, err := fx.store.GetIngredients(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetIngredients error = %v", err)
	}
	sum := decimal.Zero
	for _, ing := range ingredients {
		sum = sum.Add(ing.CostContribution)
	}
	if !f.TotalCost.Equal(sum) {
		t.Fatalf("TotalCost = %s, want sum of contributions %s", f.TotalCost, sum)
	}
	if !f.TotalCost.Equal(d("32")) {
		t.Fatalf("TotalCost = %s, want 32", f.TotalCost)
	}

	var calc Recalculation
	err = fx.store.Transaction(ctx, func(tx *store.Store) error {
		calc, err = Recompute(ctx, tx, f.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Recompute error = %v", err)
	}
	if !calc.After.MarkupEligibleCost.Equal(d("30")) {
		t.Fatalf("MarkupEligibleCost = %s, want 30", calc.After.MarkupEligibleCost)
	}
	if !calc.Margin.MarkupAmount.Equal(d("15")) {
		t.Fatalf("MarkupAmount = %s, want 15", calc.Margin.MarkupAmount)
	}
}

func TestMissingMaterialContributesZero(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	kept := fx.material(t, "Kept", "100", "10")
	gone := fx.material(t, "Gone", "100", "10")
	f := fx.formulation(t, store.FormulationInput{
		Name: "Mixed", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{
			{MaterialID: &kept.ID, Quantity: d("1")},
			{MaterialID: &gone.ID, Quantity: d("1")},
		},
	})
	if !f.TotalCost.Equal(d("20")) {
		t.Fatalf("initial TotalCost = %s, want 20", f.TotalCost)
	}

	if err := fx.store.DB().Unscoped().Delete(&models.Material{}, gone.ID).Error; err != nil {
		t.Fatalf("delete material: %v", err)
	}
	result, err := fx.engine.OnMaterialPriceChanged(ctx, kept.ID)
	if err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", result.Failed)
	}

	reloaded, _ := fx.store.GetFormulation(ctx, f.ID)
	if !reloaded.TotalCost.Equal(d("10")) {
		t.Fatalf("TotalCost = %s, want 10", reloaded.TotalCost)
	}
	ingredients, _ := fx.store.GetIngredients(ctx, f.ID)
	if ingredients[1].MaterialID == nil || *ingredients[1].MaterialID != gone.ID {
		t.Fatal("expected the unresolved material id to be kept on the ingredient")
	}
}

type flakyRepo struct {
	*store.Store
	failFor uint
}

func (r flakyRepo) GetIngredients(ctx context.Context, id uint) ([]models.FormulationIngredient, error) {
	if id == r.failFor {
		return nil, errors.New("storage unavailable")
	}
	return r.Store.GetIngredients(ctx, id)
}

func TestOneFailureDoesNotAbortTheBatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	var ids []uint
	for _, name := range []string{"A", "B", "C"} {
		f := fx.formulation(t, store.FormulationInput{
			Name: name, BatchSize: d("1"),
			Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
		})
		ids = append(ids, f.ID)
	}

	engine := New(flakyRepo{Store: fx.store, failFor: ids[1]})
	fx.reprice(t, m.ID, "200")
	result, err := engine.OnMaterialPriceChanged(ctx, m.ID)
	if err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].FormulationID != ids[1] {
		t.Fatalf("Failed = %+v, want formulation %d", result.Failed, ids[1])
	}
	if len(result.Updated) != 2 {
		t.Fatalf("Updated = %v, want 2 formulations", result.Updated)
	}
	for _, id := range []uint{ids[0], ids[2]} {
		reloaded, _ := fx.store.GetFormulation(ctx, id)
		if !reloaded.TotalCost.Equal(d("20")) {
			t.Fatalf("formulation %d TotalCost = %s, want 20", id, reloaded.TotalCost)
		}
	}
}

func TestPropagationReachesParentFormulations(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	base := fx.formulation(t, store.FormulationInput{
		Name: "Base", BatchSize: d("2"), BatchUnit: "each",
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("4")}},
	})
	if !base.UnitCost.Equal(d("20")) {
		t.Fatalf("base UnitCost = %s, want 20", base.UnitCost)
	}
	parent := fx.formulation(t, store.FormulationInput{
		Name: "Gift Set", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{SubFormulationID: &base.ID, Quantity: d("3"), Unit: "each"}},
	})
	if !parent.TotalCost.Equal(d("60")) {
		t.Fatalf("parent TotalCost = %s, want 60", parent.TotalCost)
	}

	fx.reprice(t, m.ID, "200")
	result, err := fx.engine.OnMaterialPriceChanged(ctx, m.ID)
	if err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}
	if len(result.Updated) != 2 {
		t.Fatalf("Updated = %v, want base and parent", result.Updated)
	}
	reloaded, _ := fx.store.GetFormulation(ctx, parent.ID)
	if !reloaded.TotalCost.Equal(d("120")) {
		t.Fatalf("parent TotalCost = %s, want 120", reloaded.TotalCost)
	}
}

func TestParentUsingMaterialDirectlyAndThroughSubFormulation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	// The parent is created first so it sorts ahead of its sub-formulation.
	parent := fx.formulation(t, store.FormulationInput{
		Name: "Parent", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
	})
	sub := fx.formulation(t, store.FormulationInput{
		Name: "Sub", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
	})
	err := fx.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.UpdateFormulation(ctx, fx.tenant.ID, parent.ID, store.FormulationInput{
			Name: "Parent", BatchSize: d("1"),
			Ingredients: []store.IngredientInput{
				{MaterialID: &m.ID, Quantity: d("1")},
				{SubFormulationID: &sub.ID, Quantity: d("1")},
			},
		}); err != nil {
			return err
		}
		_, err := Recompute(ctx, tx, parent.ID)
		return err
	})
	if err != nil {
		t.Fatalf("update parent: %v", err)
	}

	fx.reprice(t, m.ID, "200")
	for run := 1; run <= 2; run++ {
		result, err := fx.engine.OnMaterialPriceChanged(ctx, m.ID)
		if err != nil {
			t.Fatalf("run %d error = %v", run, err)
		}
		if len(result.Updated) != 2 || result.Updated[0] != sub.ID || result.Updated[1] != parent.ID {
			t.Fatalf("run %d Updated = %v, want [%d %d]", run, result.Updated, sub.ID, parent.ID)
		}
		reloaded, err := fx.store.GetFormulation(ctx, parent.ID)
		if err != nil {
			t.Fatalf("GetFormulation error = %v", err)
		}
		if !reloaded.TotalCost.Equal(d("40")) {
			t.Fatalf("run %d parent TotalCost = %s, want 40", run, reloaded.TotalCost)
		}
	}
}

func TestRepricedParentIsArchivedOnDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	base := fx.formulation(t, store.FormulationInput{
		Name: "Base", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
	})
	parent := fx.formulation(t, store.FormulationInput{
		Name: "Kit", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{SubFormulationID: &base.ID, Quantity: d("1")}},
	})

	has, err := audit.HasHistory(ctx, fx.store.DB(), models.EntityFormulation, parent.ID)
	if err != nil || has {
		t.Fatalf("HasHistory before = %t, %v, want false", has, err)
	}

	fx.reprice(t, m.ID, "200")
	if _, err := fx.engine.OnMaterialPriceChanged(ctx, m.ID); err != nil {
		t.Fatalf("OnMaterialPriceChanged error = %v", err)
	}

	has, err = audit.HasHistory(ctx, fx.store.DB(), models.EntityFormulation, parent.ID)
	if err != nil || !has {
		t.Fatalf("HasHistory after = %t, %v, want true", has, err)
	}
	decision, err := lifecycle.New(fx.store).DecideDeleteOrArchive(ctx, parent.ID, fx.tenant.ID)
	if err != nil {
		t.Fatalf("DecideDeleteOrArchive error = %v", err)
	}
	if !decision.Archived() {
		t.Fatalf("decision = %+v, want archived", decision)
	}
}

func TestSubscribeRunsOnPublish(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	fx.formulation(t, store.FormulationInput{
		Name: "A", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("2")}},
	})

	bus := events.NewBus()
	fx.engine.Subscribe(bus)
	fx.reprice(t, m.ID, "200")

	outcomes := bus.Publish(ctx, events.MaterialPriceChanged{MaterialID: m.ID, TenantID: fx.tenant.ID})
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	result, ok := outcomes[0].Value.(Result)
	if !ok {
		t.Fatalf("outcome value = %T, want Result", outcomes[0].Value)
	}
	if len(result.Updated) != 1 {
		t.Fatalf("Updated = %v, want one formulation", result.Updated)
	}
}

func TestRecalculateFormulation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	f := fx.formulation(t, store.FormulationInput{
		Name: "A", BatchSize: d("4"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("2")}},
	})
	fx.reprice(t, m.ID, "50")

	updated, err := fx.engine.RecalculateFormulation(ctx, f.ID)
	if err != nil {
		t.Fatalf("RecalculateFormulation error = %v", err)
	}
	if !updated.TotalCost.Equal(d("10")) || !updated.UnitCost.Equal(d("2.5")) {
		t.Fatalf("costs = %s / %s, want 10 / 2.5", updated.TotalCost, updated.UnitCost)
	}

	if _, err := fx.engine.RecalculateFormulation(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("RecalculateFormulation(missing) error = %v, want ErrNotFound", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestOnFormulationChangedRepricesParents(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	m := fx.material(t, "M", "100", "10")
	base := fx.formulation(t, store.FormulationInput{
		Name: "Base", BatchSize: d("1"), BatchUnit: "each",
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
	})
	parent := fx.formulation(t, store.FormulationInput{
		Name: "Kit", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{SubFormulationID: &base.ID, Quantity: d("2"), Unit: "each"}},
	})
	fx.formulation(t, store.FormulationInput{
		Name: "Loose", BatchSize: d("1"),
		Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("1")}},
	})
	if !parent.TotalCost.Equal(d("20")) {
		t.Fatalf("parent TotalCost = %s, want 20", parent.TotalCost)
	}

	err := fx.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.UpdateFormulation(ctx, fx.tenant.ID, base.ID, store.FormulationInput{
			Name: "Base", BatchSize: d("1"), BatchUnit: "each",
			Ingredients: []store.IngredientInput{{MaterialID: &m.ID, Quantity: d("3")}},
		}); err != nil {
			return err
		}
		_, err := Recompute(ctx, tx, base.ID)
		return err
	})
	if err != nil {
		t.Fatalf("update base: %v", err)
	}

	result, err := fx.engine.OnFormulationChanged(ctx, base.ID)
	if err != nil {
		t.Fatalf("OnFormulationChanged error = %v", err)
	}
	if len(result.Updated) != 1 || result.Updated[0] != parent.ID {
		t.Fatalf("Updated = %v, want [%d]", result.Updated, parent.ID)
	}
	if result.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", result.Skipped)
	}
	reloaded, _ := fx.store.GetFormulation(ctx, parent.ID)
	if !reloaded.TotalCost.Equal(d("60")) {
		t.Fatalf("parent TotalCost = %s, want 60", reloaded.TotalCost)
	}
}

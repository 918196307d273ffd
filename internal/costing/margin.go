package costing

import "github.com/shopspring/decimal"

// ProfitMargin is the single definition of a formulation's margin. Percent is
// what gets persisted in the profit_margin column; MarkupAmount and
// SuggestedUnitPrice are derived for display and are never stored there.
type ProfitMargin struct {
	Percent            decimal.Decimal `json:"percent"`
	MarkupAmount       decimal.Decimal `json:"markup_amount"`
	SuggestedUnitPrice decimal.Decimal `json:"suggested_unit_price"`
}

// Margin computes the canonical ProfitMargin. The markup applies only to the
// markup-eligible share of the batch cost; the suggested price adds the
// per-unit markup to the full unit cost.
func Margin(markupEligibleCost, totalCost, markupPercentage, batchSize decimal.Decimal) ProfitMargin {
	percent := ClampPercent(markupPercentage)
	markup := markupEligibleCost.Mul(percent).Div(hundred).Round(CostPlaces)
	unitCost := FormulationUnitCost(totalCost, batchSize)
	unitMarkup := FormulationUnitCost(markup, batchSize)
	return ProfitMargin{
		Percent:            percent,
		MarkupAmount:       markup,
		SuggestedUnitPrice: unitCost.Add(unitMarkup).Round(CostPlaces),
	}
}

// ClampPercent bounds a percentage to [0, MaxPercent] at two places.
func ClampPercent(value decimal.Decimal) decimal.Decimal {
	switch {
	case value.IsNegative():
		return decimal.Zero
	case value.GreaterThan(MaxPercent):
		return MaxPercent
	default:
		return value.Round(PercentPlaces)
	}
}

// TargetMargin reports the margin achieved when selling at targetPrice, as a
// percentage of the price. ok is false when no usable target price is set.
func TargetMargin(targetPrice decimal.NullDecimal, unitCost decimal.Decimal) (decimal.Decimal, bool) {
	if !targetPrice.Valid || !targetPrice.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	diff := targetPrice.Decimal.Sub(unitCost)
	return diff.Mul(hundred).DivRound(targetPrice.Decimal, PercentPlaces), true
}

package costing

import "github.com/shopspring/decimal"

// Line is one costed ingredient of a formulation.
type Line struct {
	Cost            decimal.Decimal
	IncludeInMarkup bool
}

// Breakdown holds every derived value of a formulation.
type Breakdown struct {
	TotalCost          decimal.Decimal
	MarkupEligibleCost decimal.Decimal
	UnitCost           decimal.Decimal
	Margin             ProfitMargin
}

// Aggregate sums every line into TotalCost, but only lines flagged
// IncludeInMarkup into MarkupEligibleCost. Packaging and similar costs count
// towards what a batch costs without being marked up.
func Aggregate(lines []Line, batchSize, markupPercentage decimal.Decimal) Breakdown {
	total := decimal.Zero
	eligible := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Cost)
		if line.IncludeInMarkup {
			eligible = eligible.Add(line.Cost)
		}
	}
	total = total.Round(CostPlaces)
	eligible = eligible.Round(CostPlaces)

	return Breakdown{
		TotalCost:          total,
		MarkupEligibleCost: eligible,
		UnitCost:           FormulationUnitCost(total, batchSize),
		Margin:             Margin(eligible, total, markupPercentage, batchSize),
	}
}

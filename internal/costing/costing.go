// Package costing holds the pure cost arithmetic shared by every mutation path:
// material unit cost, ingredient contribution, formulation aggregates and the
// canonical profit margin. Nothing here performs I/O.
package costing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Storage precision for derived values.
const (
	CostPlaces    int32 = 2
	UnitPlaces    int32 = 4
	PercentPlaces int32 = 2
)

var (
	// MinBatchSize clamps batch sizes so unit cost never divides by zero.
	MinBatchSize = decimal.RequireFromString("0.001")
	// MaxPercent is the largest percentage the profit_margin column can hold.
	MaxPercent = decimal.RequireFromString("999.99")

	hundred = decimal.NewFromInt(100)
)

// ParseAmount converts user input to a decimal. Anything that is not a finite
// number becomes zero.
func ParseAmount(raw string) decimal.Decimal {
	value := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if value == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}

// UnitCost returns totalCost/quantity rounded to four places, or zero when the
// quantity is not positive.
func UnitCost(totalCost, quantity decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		return decimal.Zero
	}
	return totalCost.DivRound(quantity, UnitPlaces)
}

// IngredientCost is the cost of using quantity units priced at unitCost.
func IngredientCost(unitCost, quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitCost).Round(CostPlaces)
}

// FormulationUnitCost divides the batch cost by the batch size, clamping the
// batch size to MinBatchSize instead of rejecting it.
func FormulationUnitCost(totalMaterialCost, batchSize decimal.Decimal) decimal.Decimal {
	if batchSize.LessThan(MinBatchSize) {
		batchSize = MinBatchSize
	}
	return totalMaterialCost.DivRound(batchSize, UnitPlaces)
}

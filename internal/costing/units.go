package costing

import (
	"strings"

	"github.com/shopspring/decimal"
)

type dimension int

const (
	dimensionUnknown dimension = iota
	dimensionMass
	dimensionVolume
	dimensionCount
)

type unitInfo struct {
	dim dimension
	// factor converts one of this unit into the dimension's base unit (g, ml, each).
	factor decimal.Decimal
}

var units = map[string]unitInfo{
	"mg":    {dimensionMass, decimal.RequireFromString("0.001")},
	"g":     {dimensionMass, decimal.NewFromInt(1)},
	"kg":    {dimensionMass, decimal.NewFromInt(1000)},
	"oz":    {dimensionMass, decimal.RequireFromString("28.349523125")},
	"lb":    {dimensionMass, decimal.RequireFromString("453.59237")},
	"ml":    {dimensionVolume, decimal.NewFromInt(1)},
	"l":     {dimensionVolume, decimal.NewFromInt(1000)},
	"fl oz": {dimensionVolume, decimal.RequireFromString("29.5735295625")},
	"gal":   {dimensionVolume, decimal.RequireFromString("3785.411784")},
	"each":  {dimensionCount, decimal.NewFromInt(1)},
	"dozen": {dimensionCount, decimal.NewFromInt(12)},
}

var unitAliases = map[string]string{
	"gram": "g", "grams": "g",
	"kilogram": "kg", "kilograms": "kg",
	"milligram": "mg", "milligrams": "mg",
	"ounce": "oz", "ounces": "oz",
	"lbs": "lb", "pound": "lb", "pounds": "lb",
	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"floz": "fl oz", "fl. oz": "fl oz",
	"gallon": "gal", "gallons": "gal",
	"ea": "each", "pc": "each", "pcs": "each", "piece": "each", "pieces": "each", "unit": "each", "units": "each",
}

// NormalizeUnit lowercases and resolves common spellings of a unit.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

// ConvertQuantity expresses qty given in unit from as a quantity of unit to.
// ok is false when either unit is unknown or the dimensions differ, in which
// case qty is returned unchanged.
func ConvertQuantity(qty decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	src, srcOK := units[NormalizeUnit(from)]
	dst, dstOK := units[NormalizeUnit(to)]
	if !srcOK || !dstOK || src.dim != dst.dim {
		return qty, false
	}
	if src.factor.Equal(dst.factor) {
		return qty, true
	}
	return qty.Mul(src.factor).Div(dst.factor), true
}

// Package carbon performs carbon-footprint arithmetic in fixed point. Batch
// totals are integer kilograms; template footprints are decimal tons per unit.
package carbon

import "github.com/shopspring/decimal"

var kgPerTon = decimal.NewFromInt(1000)

// TonsToKg converts a decimal tonnage to whole kilograms, rounding half away from zero.
func TonsToKg(tons decimal.Decimal) int64 {
	return tons.Mul(kgPerTon).Round(0).IntPart()
}

// Share attributes part of a batch's total footprint to a consumed quantity:
// (totalKg / batchQuantity) * consumed, rounded to the nearest kilogram.
func Share(totalKg, batchQuantity, consumed int64) int64 {
	if batchQuantity <= 0 || consumed <= 0 || totalKg == 0 {
		return 0
	}
	return decimal.NewFromInt(totalKg).
		Mul(decimal.NewFromInt(consumed)).
		DivRound(decimal.NewFromInt(batchQuantity), 0).
		IntPart()
}

// BatchTotal is the footprint of a production run: its own emissions from the
// template's per-unit tonnage plus every component share, in kilograms.
func BatchTotal(quantity int64, perUnitTons decimal.Decimal, componentShares ...int64) int64 {
	total := TonsToKg(perUnitTons.Mul(decimal.NewFromInt(quantity)))
	for _, share := range componentShares {
		total += share
	}
	return total
}

package model

import "github.com/shopspring/decimal"

// OtherRange labels prices that fall outside every configured bracket.
const OtherRange = "other"

// PriceRange is a presentation bracket for filtering opportunities by buy price.
// Low is inclusive, High is exclusive.
type PriceRange struct {
	Label string
	Low   decimal.Decimal
	High  decimal.Decimal
}

// DefaultPriceRanges are the brackets shown to the operator.
func DefaultPriceRanges() []PriceRange {
	return []PriceRange{
		NewPriceRange(1, 5),
		NewPriceRange(5, 10),
		NewPriceRange(10, 25),
		NewPriceRange(25, 50),
	}
}

// NewPriceRange builds a bracket labelled "low-high".
func NewPriceRange(low, high int64) PriceRange {
	return PriceRange{
		Label: decimal.NewFromInt(low).String() + "-" + decimal.NewFromInt(high).String(),
		Low:   decimal.NewFromInt(low),
		High:  decimal.NewFromInt(high),
	}
}

// Contains reports whether price lies in [Low, High).
func (r PriceRange) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(r.Low) && price.LessThan(r.High)
}

// RangeFor returns the label of the first bracket containing price, or OtherRange.
func RangeFor(price decimal.Decimal, ranges []PriceRange) string {
	for _, r := range ranges {
		if r.Contains(price) {
			return r.Label
		}
	}
	return OtherRange
}

// FindRange looks a bracket up by label.
func FindRange(label string, ranges []PriceRange) (PriceRange, bool) {
	for _, r := range ranges {
		if r.Label == label {
			return r, true
		}
	}
	return PriceRange{}, false
}

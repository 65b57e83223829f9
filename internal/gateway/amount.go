package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// subunitFactor is how many provider units make one wallet unit.
var subunitFactor = decimal.NewFromInt(100)

func ToProviderAmount(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(subunitFactor)
}

// FromProviderAmount converts a provider amount into wallet units. Anything
// that does not divide evenly is refused rather than rounded.
func FromProviderAmount(sub decimal.Decimal) (int64, error) {
	units := sub.Div(subunitFactor)
	if !units.IsInteger() {
		return 0, fmt.Errorf("FromProviderAmount: %s: %w", sub, ErrFractionalAmount)
	}
	if units.IsNegative() {
		return 0, fmt.Errorf("FromProviderAmount: negative amount %s", sub)
	}
	return units.IntPart(), nil
}

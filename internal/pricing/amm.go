package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceSignificantDigits bounds the precision of derived pool prices so that
// repeated derivations of the same ratio compare equal downstream.
const PriceSignificantDigits = 12

// ratioPrecision is the decimal-place precision used for intermediate
// divisions. Wide enough for an 18-decimal token priced against a 6-decimal
// one without drift.
const ratioPrecision = 24

var two96 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)

// NormalizeAmount converts a raw token amount to its human-scale decimal.
func NormalizeAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// RoundSignificant rounds to the given number of significant digits.
func RoundSignificant(d decimal.Decimal, digits int32) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	coeffDigits := int32(len(new(big.Int).Abs(d.Coefficient()).String()))
	leading := coeffDigits + d.Exponent()
	return d.Round(digits - leading)
}

// QuotaPriceFromReserves prices the quota token of a constant-product pool
// from its reserve ratio against the base token. Returns false on a zero or
// missing denominator rather than producing a bogus price.
func QuotaPriceFromReserves(
	baseReserve, quotaReserve *big.Int,
	baseDecimals, quotaDecimals uint8,
	basePrice decimal.Decimal,
) (decimal.Decimal, bool) {
	if baseReserve == nil || quotaReserve == nil {
		return decimal.Zero, false
	}
	if baseReserve.Sign() <= 0 || quotaReserve.Sign() <= 0 {
		return decimal.Zero, false
	}

	base := NormalizeAmount(baseReserve, baseDecimals)
	quota := NormalizeAmount(quotaReserve, quotaDecimals)
	if quota.IsZero() {
		return decimal.Zero, false
	}

	price := base.DivRound(quota, ratioPrecision).Mul(basePrice)
	return RoundSignificant(price, PriceSignificantDigits), true
}

// QuotaPriceFromSqrtRatio prices the quota token of a tick pool from its
// sqrtPriceX96 against the base token. baseIndex says which side of the pair
// the base token occupies.
func QuotaPriceFromSqrtRatio(
	sqrtPriceX96 *big.Int,
	decimals0, decimals1 uint8,
	baseIndex int,
	basePrice decimal.Decimal,
) (decimal.Decimal, bool) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, false
	}

	// (sqrtPriceX96 / 2^96)^2 is raw token1 per raw token0; shifting by the
	// decimal difference yields the human price of one token0 in token1.
	sqrt := decimal.NewFromBigInt(sqrtPriceX96, 0).DivRound(two96, ratioPrecision*2)
	price0In1 := sqrt.Mul(sqrt).Shift(int32(decimals0) - int32(decimals1))
	if price0In1.IsZero() {
		return decimal.Zero, false
	}

	var price decimal.Decimal
	switch baseIndex {
	case 0:
		// Base is token0, quota is token1: one token1 buys 1/price0In1 token0.
		price = basePrice.DivRound(price0In1, ratioPrecision)
	case 1:
		price = price0In1.Mul(basePrice)
	default:
		return decimal.Zero, false
	}
	return RoundSignificant(price, PriceSignificantDigits), true
}

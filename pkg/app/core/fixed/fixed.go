// Package fixed holds the exact arithmetic used by ledger state.
//
// Quantities, prices and balances are uint64; every operation that can wrap
// reports apperr.ErrStorageOverflow instead. Ratios are decimal.Decimal and are
// only ever multiplied against integers, never divided, so results are exact.
package fixed

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// Add returns a+b or ErrStorageOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, apperr.ErrStorageOverflow)
	}
	return sum, nil
}

// Mul returns a*b or ErrStorageOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d: %w", a, b, apperr.ErrStorageOverflow)
	}
	return lo, nil
}

// SaturatingAdd clamps at the uint64 maximum.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Dec converts an integer amount to a decimal without loss.
func Dec(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// MulFloor returns floor(v * r). Negative results clamp to zero.
func MulFloor(v uint64, r decimal.Decimal) (uint64, error) {
	out := Dec(v).Mul(r).Floor()
	if out.Sign() <= 0 {
		return 0, nil
	}
	bi := out.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%d * %s: %w", v, r.String(), apperr.ErrStorageOverflow)
	}
	return bi.Uint64(), nil
}

// MulDiv returns floor(a*b/c) computed without intermediate overflow. c must be non-zero.
func MulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}

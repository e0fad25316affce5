package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// Config holds the exchange-wide bounds. It is replaced as a whole, never field by field.
type Config struct {
	Owner common.Address

	// Order volume bounds in base units. MaxVolume 0 means unbounded.
	MinVolume uint64
	MaxVolume uint64

	// MarginMultiplier caps borrow at collateral * MarginMultiplier.
	MarginMultiplier decimal.Decimal
	// InterestRate is charged on executed borrow once per accrual period.
	InterestRate decimal.Decimal
	// CompoundEvery folds accrued interest into borrow every N accruals.
	CompoundEvery uint64

	// MaxDeposit caps margin collateral per account. 0 means unbounded.
	MaxDeposit uint64
}

// DefaultConfig returns a usable devnet configuration owned by owner.
func DefaultConfig(owner common.Address) Config {
	return Config{
		Owner:            owner,
		MinVolume:        1,
		MaxVolume:        0,
		MarginMultiplier: decimal.NewFromInt(5),
		InterestRate:     decimal.RequireFromString("0.001"),
		CompoundEvery:    24,
	}
}

// Validate checks the config is internally consistent.
func (c Config) Validate() error {
	if c.Owner == (common.Address{}) {
		return fmt.Errorf("owner must be set: %w", apperr.ErrInvalidConfig)
	}
	if c.MinVolume == 0 {
		return fmt.Errorf("min volume must be positive: %w", apperr.ErrInvalidConfig)
	}
	if c.MaxVolume != 0 && c.MaxVolume < c.MinVolume {
		return fmt.Errorf("max volume %d below min volume %d: %w", c.MaxVolume, c.MinVolume, apperr.ErrInvalidConfig)
	}
	if c.MarginMultiplier.IsNegative() {
		return fmt.Errorf("margin multiplier %s is negative: %w", c.MarginMultiplier, apperr.ErrInvalidConfig)
	}
	if c.InterestRate.IsNegative() {
		return fmt.Errorf("interest rate %s is negative: %w", c.InterestRate, apperr.ErrInvalidConfig)
	}
	if c.CompoundEvery == 0 {
		return fmt.Errorf("compound period must be positive: %w", apperr.ErrInvalidConfig)
	}
	return nil
}

// VolumeBounds resolves the effective bounds given per-pair overrides (0 = inherit).
func (c Config) VolumeBounds(pairMin, pairMax uint64) (lo, hi uint64) {
	lo, hi = c.MinVolume, c.MaxVolume
	if pairMin != 0 {
		lo = pairMin
	}
	if pairMax != 0 {
		hi = pairMax
	}
	return lo, hi
}

// CheckVolume validates qty against the effective bounds.
func (c Config) CheckVolume(qty, pairMin, pairMax uint64) error {
	lo, hi := c.VolumeBounds(pairMin, pairMax)
	if qty == 0 || qty < lo {
		return fmt.Errorf("quantity %d below %d: %w", qty, lo, apperr.ErrVolumeBelowLimit)
	}
	if hi != 0 && qty > hi {
		return fmt.Errorf("quantity %d above %d: %w", qty, hi, apperr.ErrVolumeAboveLimit)
	}
	return nil
}

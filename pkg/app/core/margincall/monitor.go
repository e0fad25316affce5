// Package margincall drives the Healthy -> Warning -> Called -> Liquidated
// state machine of margin accounts from their health ratio
//
//	r = (borrowed + accrued interest) / (collateral * margin multiplier)
//
// Thresholds are compared by cross-multiplication so no division, and no
// rounding, ever reaches ledger state.
package margincall

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/fixed"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/matching"
)

var (
	WarningRatio = decimal.RequireFromString("0.80")
	CallRatio    = decimal.RequireFromString("0.90")
)

// Band is the threshold band a health ratio falls in.
type Band uint8

const (
	BandHealthy Band = iota // r < 0.80
	BandWarning             // 0.80 <= r < 0.90
	BandCall                // r >= 0.90
)

// BandOf classifies acc under multiplier.
func BandOf(acc *margin.Account, multiplier decimal.Decimal) Band {
	debt := fixed.Dec(acc.Debt())
	if debt.IsZero() {
		return BandHealthy
	}
	capacity := acc.Cap(multiplier)
	switch {
	case debt.GreaterThanOrEqual(capacity.Mul(CallRatio)):
		return BandCall
	case debt.GreaterThanOrEqual(capacity.Mul(WarningRatio)):
		return BandWarning
	default:
		return BandHealthy
	}
}

// Ratio returns r rounded to 6 places for display. ok is false when capacity is zero.
func Ratio(acc *margin.Account, multiplier decimal.Decimal) (r decimal.Decimal, ok bool) {
	capacity := acc.Cap(multiplier)
	if capacity.IsZero() {
		return decimal.Zero, acc.Debt() == 0
	}
	return fixed.Dec(acc.Debt()).DivRound(capacity, 6), true
}

// Liquidator closes margin exposure on the monitor's behalf.
type Liquidator interface {
	CancelMarginOrders(owner common.Address, fx *matching.Effects) int
	LiquidatePosition(owner common.Address, pos margin.Position, fx *matching.Effects) (uint64, error)
}

// Monitor evaluates accounts synchronously after every ledger mutation.
type Monitor struct {
	ledger *margin.Ledger
	liq    Liquidator
}

func NewMonitor(ledger *margin.Ledger, liq Liquidator) *Monitor {
	return &Monitor{ledger: ledger, liq: liq}
}

// Evaluate applies the state machine to owner's account. When liquidate is
// false (exchange paused) a Called account is left for the next evaluation.
// An error means a liquidation step failed; the account stays Called.
func (m *Monitor) Evaluate(owner common.Address, cfg exchange.Config, liquidate bool, fx *matching.Effects) error {
	acc := m.ledger.Account(owner)
	if acc == nil {
		return nil
	}
	band := BandOf(acc, cfg.MarginMultiplier)

	switch acc.State {
	case margin.Healthy:
		switch band {
		case BandWarning:
			m.transition(acc, margin.Warning, events.MarginCallWarning, fx)
		case BandCall:
			m.transition(acc, margin.Called, events.MarginCalled, fx)
		}
	case margin.Warning:
		switch band {
		case BandHealthy:
			m.transition(acc, margin.Healthy, events.MarginRestored, fx)
		case BandCall:
			m.transition(acc, margin.Called, events.MarginCalled, fx)
		}
	case margin.Called:
		// cured by a deposit, repay or config change before anything was sold
		if band == BandHealthy {
			m.transition(acc, margin.Healthy, events.MarginRestored, fx)
		}
	case margin.Liquidated:
		switch {
		case acc.Clear():
			m.transition(acc, margin.Healthy, events.MarginRestored, fx)
		case band == BandCall:
			m.transition(acc, margin.Called, events.MarginCalled, fx)
		}
	}

	if acc.State != margin.Called || !liquidate {
		return nil
	}
	return m.liquidate(acc, cfg, fx)
}

// liquidate cancels resting margin orders, then closes positions in
// (pair, side) order until the ratio drops below the warning threshold.
// The episode ends Liquidated only if a position was actually closed.
func (m *Monitor) liquidate(acc *margin.Account, cfg exchange.Config, fx *matching.Effects) error {
	owner := acc.Owner
	if n := m.liq.CancelMarginOrders(owner, fx); n > 0 {
		fx.Touch(owner)
	}
	var closed uint64
	for _, pos := range acc.SortedPositions() {
		if BandOf(acc, cfg.MarginMultiplier) == BandHealthy {
			break
		}
		executed, err := m.liq.LiquidatePosition(owner, *pos, fx)
		if err != nil {
			return fmt.Errorf("liquidate %s pair %d: %w", owner.Hex(), pos.Pair, err)
		}
		closed += executed
	}
	if BandOf(acc, cfg.MarginMultiplier) != BandHealthy {
		return nil
	}
	if closed > 0 {
		m.transition(acc, margin.Liquidated, events.MarginLiquidated, fx)
	} else {
		m.transition(acc, margin.Healthy, events.MarginRestored, fx)
	}
	return nil
}

func (m *Monitor) transition(acc *margin.Account, to margin.State, typ events.Type, fx *matching.Effects) {
	m.ledger.SetState(acc.Owner, to)
	fx.Emit(events.Event{
		Type:   typ,
		Owner:  acc.Owner,
		Amount: acc.Debt(),
		State:  to.String(),
	})
}

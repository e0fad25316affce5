package spot

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/matching"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// maxEvaluationRounds bounds the cascade of margin re-evaluation: a
// liquidation can fill against other margin accounts, which are then
// evaluated in the next round.
const maxEvaluationRounds = 8

// commit runs op against fresh effects. On success the touched accounts (or
// every account when all is set) are re-evaluated and the operation takes the
// next sequence number. On error nothing was mutated and no sequence is used.
func (a *App) commit(all bool, op func(fx *matching.Effects) error) (Result, error) {
	fx := matching.NewEffects()
	fx.Seq = a.seq + 1
	if err := op(fx); err != nil {
		return Result{}, err
	}
	a.reevaluate(fx, all)
	a.seq++
	return Result{
		Seq:         a.seq,
		Events:      fx.Events.Drain(a.seq),
		Trades:      fx.Trades,
		Settlements: fx.Settlements,
	}, nil
}

type fingerprint struct {
	collateral, borrowed, interest uint64
	state                          margin.State
	positions                      int
}

func fingerprintOf(acc *margin.Account) fingerprint {
	return fingerprint{acc.Collateral, acc.Borrowed, acc.Interest, acc.State, len(acc.Positions)}
}

// reevaluate drives the margin-call state machine for every account the
// operation touched, then for accounts touched by the resulting liquidations.
// An account is evaluated again only if it changed since its last evaluation.
func (a *App) reevaluate(fx *matching.Effects, all bool) {
	cfg := a.control.Config()
	liquidate := !a.control.Paused()

	pending := fx.TakeTouched()
	if all {
		pending = a.ledger.Owners()
	}
	seen := make(map[common.Address]fingerprint)
	for round := 0; round < maxEvaluationRounds && len(pending) > 0; round++ {
		for _, owner := range pending {
			acc := a.ledger.Account(owner)
			if acc == nil {
				continue
			}
			if fp, ok := seen[owner]; ok && fp == fingerprintOf(acc) {
				continue
			}
			if err := a.monitor.Evaluate(owner, cfg, liquidate, fx); err != nil {
				a.log.Warnw("liquidation_incomplete", "owner", owner.Hex(), "error", err)
			}
			seen[owner] = fingerprintOf(acc)
		}
		pending = fx.TakeTouched()
	}
	if len(pending) > 0 {
		a.log.Warnw("margin_reevaluation_capped", "seq", fx.Seq, "pending", len(pending))
	}
}

func (a *App) AddAsset(caller common.Address, asset market.Asset) (Result, error) {
	return a.exec(func() (Result, error) { return a.addAsset(caller, asset) })
}

func (a *App) addAsset(caller common.Address, asset market.Asset) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireOwner(caller); err != nil {
			return err
		}
		if err := a.registry.AddAsset(asset); err != nil {
			return err
		}
		fx.Emit(events.Event{Type: events.AssetAdded, Asset: asset.ID})
		return nil
	})
}

func (a *App) RemoveAsset(caller common.Address, id uint32) (Result, error) {
	return a.exec(func() (Result, error) { return a.removeAsset(caller, id) })
}

func (a *App) removeAsset(caller common.Address, id uint32) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireOwner(caller); err != nil {
			return err
		}
		if err := a.registry.RemoveAsset(id, a.engine); err != nil {
			return err
		}
		fx.Emit(events.Event{Type: events.AssetRemoved, Asset: id})
		return nil
	})
}

// AddPair lists a pair; the assigned id is returned in Result.PairID.
func (a *App) AddPair(caller common.Address, p market.Pair) (Result, error) {
	return a.exec(func() (Result, error) { return a.addPair(caller, p) })
}

func (a *App) addPair(caller common.Address, p market.Pair) (Result, error) {
	var listed market.Pair
	res, err := a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireOwner(caller); err != nil {
			return err
		}
		var err error
		if listed, err = a.registry.AddPair(p); err != nil {
			return err
		}
		fx.Emit(events.Event{Type: events.PairAdded, Pair: listed.ID, Asset: listed.Base})
		return nil
	})
	res.PairID = listed.ID
	return res, err
}

func (a *App) RemovePair(caller common.Address, id uint32) (Result, error) {
	return a.exec(func() (Result, error) { return a.removePair(caller, id) })
}

func (a *App) removePair(caller common.Address, id uint32) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireOwner(caller); err != nil {
			return err
		}
		if err := a.registry.RemovePair(id, a.engine); err != nil {
			return err
		}
		a.engine.DropBook(id)
		fx.Emit(events.Event{Type: events.PairRemoved, Pair: id})
		return nil
	})
}

// SubmitOrder places a spot or margin order. Result.Order is a copy of the
// order as it stands after matching.
func (a *App) SubmitOrder(owner common.Address, pair uint32, side order.Side, kind order.Kind, price, qty uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.submitOrder(owner, pair, side, kind, price, qty) })
}

func (a *App) submitOrder(owner common.Address, pair uint32, side order.Side, kind order.Kind, price, qty uint64) (Result, error) {
	var o *order.Order
	res, err := a.commit(false, func(fx *matching.Effects) error {
		var err error
		o, err = a.engine.Submit(owner, pair, side, kind, price, qty, fx)
		return err
	})
	if err == nil {
		res.Order = snapshotOrder(o)
	}
	return res, err
}

func (a *App) CancelOrder(owner common.Address, id uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.cancelOrder(owner, id) })
}

func (a *App) cancelOrder(owner common.Address, id uint64) (Result, error) {
	var o *order.Order
	res, err := a.commit(false, func(fx *matching.Effects) error {
		var err error
		o, err = a.engine.Cancel(owner, id, fx)
		return err
	})
	if err == nil {
		res.Order = snapshotOrder(o)
	}
	return res, err
}

// ModifyOrder lowers a resting order's remaining quantity in place.
func (a *App) ModifyOrder(owner common.Address, id, remaining uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.modifyOrder(owner, id, remaining) })
}

func (a *App) modifyOrder(owner common.Address, id, remaining uint64) (Result, error) {
	var o *order.Order
	res, err := a.commit(false, func(fx *matching.Effects) error {
		var err error
		o, err = a.engine.Modify(owner, id, remaining, fx)
		return err
	})
	if err == nil {
		res.Order = snapshotOrder(o)
	}
	return res, err
}

// ClosePosition market-closes the owner's position on (pair, side).
// Result.Amount is the executed quantity; zero means no liquidity.
func (a *App) ClosePosition(owner common.Address, pair uint32, side order.Side) (Result, error) {
	return a.exec(func() (Result, error) { return a.closePosition(owner, pair, side) })
}

func (a *App) closePosition(owner common.Address, pair uint32, side order.Side) (Result, error) {
	var executed uint64
	res, err := a.commit(false, func(fx *matching.Effects) error {
		var err error
		executed, err = a.engine.ClosePosition(owner, pair, side, fx)
		return err
	})
	res.Amount = executed
	return res, err
}

func (a *App) DepositMargin(owner common.Address, amount uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.depositMargin(owner, amount) })
}

func (a *App) depositMargin(owner common.Address, amount uint64) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireActive(); err != nil {
			return err
		}
		if err := a.ledger.Deposit(owner, amount, a.control.Config()); err != nil {
			return err
		}
		fx.Touch(owner)
		fx.Emit(events.Event{Type: events.MarginDeposited, Owner: owner, Amount: amount})
		return nil
	})
}

func (a *App) WithdrawMargin(owner common.Address, amount uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.withdrawMargin(owner, amount) })
}

func (a *App) withdrawMargin(owner common.Address, amount uint64) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireActive(); err != nil {
			return err
		}
		if err := a.ledger.Withdraw(owner, amount, a.control.Config()); err != nil {
			return err
		}
		fx.Touch(owner)
		fx.Emit(events.Event{Type: events.MarginWithdrew, Owner: owner, Amount: amount})
		return nil
	})
}

// RepayMargin pays interest, then unsecured borrow, out of collateral.
// Result.Amount is what was actually paid.
func (a *App) RepayMargin(owner common.Address, amount uint64) (Result, error) {
	return a.exec(func() (Result, error) { return a.repayMargin(owner, amount) })
}

func (a *App) repayMargin(owner common.Address, amount uint64) (Result, error) {
	var paid uint64
	res, err := a.commit(false, func(fx *matching.Effects) error {
		if err := a.control.RequireActive(); err != nil {
			return err
		}
		var err error
		if paid, err = a.ledger.Repay(owner, amount); err != nil {
			return err
		}
		fx.Touch(owner)
		fx.Emit(events.Event{Type: events.MarginRepaid, Owner: owner, Amount: paid})
		return nil
	})
	res.Amount = paid
	return res, err
}

// AccrueInterest charges one interest period to every account.
func (a *App) AccrueInterest() (Result, error) {
	return a.exec(a.accrueInterest)
}

func (a *App) accrueInterest() (Result, error) {
	return a.commit(true, func(fx *matching.Effects) error {
		if err := a.control.RequireActive(); err != nil {
			return err
		}
		accruals, err := a.ledger.AccrueInterest(a.control.Config())
		if err != nil {
			return err
		}
		for _, acc := range accruals {
			ev := events.Event{Type: events.InterestAccrued, Owner: acc.Owner, Amount: acc.Amount}
			if acc.Compounded {
				ev.State = "compounded"
			}
			fx.Emit(ev)
		}
		return nil
	})
}

// UpdateConfig swaps the exchange configuration. Every account is
// re-evaluated because the multiplier may have moved.
func (a *App) UpdateConfig(caller common.Address, cfg exchange.Config) (Result, error) {
	return a.exec(func() (Result, error) { return a.updateConfig(caller, cfg) })
}

func (a *App) updateConfig(caller common.Address, cfg exchange.Config) (Result, error) {
	return a.commit(true, func(fx *matching.Effects) error {
		if err := a.control.Update(caller, cfg); err != nil {
			return err
		}
		fx.Emit(events.Event{Type: events.ConfigUpdated})
		return nil
	})
}

// Pause is idempotent: pausing a paused exchange succeeds and emits nothing.
func (a *App) Pause(caller common.Address) (Result, error) {
	return a.exec(func() (Result, error) { return a.pause(caller) })
}

func (a *App) pause(caller common.Address) (Result, error) {
	return a.commit(false, func(fx *matching.Effects) error {
		changed, err := a.control.Pause(caller)
		if err != nil {
			return err
		}
		if changed {
			fx.Emit(events.Event{Type: events.OperationPaused})
		}
		return nil
	})
}

// Unpause also re-evaluates every account so liquidations deferred by the
// pause run now.
func (a *App) Unpause(caller common.Address) (Result, error) {
	return a.exec(func() (Result, error) { return a.unpause(caller) })
}

func (a *App) unpause(caller common.Address) (Result, error) {
	return a.commit(true, func(fx *matching.Effects) error {
		changed, err := a.control.Unpause(caller)
		if err != nil {
			return err
		}
		if changed {
			fx.Emit(events.Event{Type: events.OperationUnpaused})
		}
		return nil
	})
}

func snapshotOrder(o *order.Order) *order.Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

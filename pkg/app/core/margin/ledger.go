package margin

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/fixed"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// Ledger tracks collateral, borrow and interest for every margin account.
// It is the only writer of Account values. Every method validates before it
// mutates, so a returned error means nothing changed.
type Ledger struct {
	accounts map[common.Address]*Account
	accruals uint64 // accrual periods applied so far
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[common.Address]*Account)}
}

// Account returns the owner's account, or nil if none exists.
func (l *Ledger) Account(owner common.Address) *Account {
	return l.accounts[owner]
}

func (l *Ledger) ensure(owner common.Address) *Account {
	acc, ok := l.accounts[owner]
	if !ok {
		acc = NewAccount(owner)
		l.accounts[owner] = acc
	}
	return acc
}

// Owners returns every account owner in byte order.
func (l *Ledger) Owners() []common.Address {
	out := make([]common.Address, 0, len(l.accounts))
	for owner := range l.accounts {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Accruals is the number of interest periods applied.
func (l *Ledger) Accruals() uint64 { return l.accruals }

// Deposit adds collateral.
func (l *Ledger) Deposit(owner common.Address, amount uint64, cfg exchange.Config) error {
	if amount == 0 {
		return fmt.Errorf("deposit amount must be positive: %w", apperr.ErrDepositBelowLimit)
	}
	var current uint64
	if acc := l.accounts[owner]; acc != nil {
		current = acc.Collateral
	}
	next, err := fixed.Add(current, amount)
	if err != nil {
		return fmt.Errorf("deposit %d: %w", amount, err)
	}
	if cfg.MaxDeposit != 0 && next > cfg.MaxDeposit {
		return fmt.Errorf("collateral %d would exceed %d: %w", next, cfg.MaxDeposit, apperr.ErrDepositAboveLimit)
	}
	l.ensure(owner).Collateral = next
	return nil
}

// Withdraw removes collateral as long as the remaining collateral still covers the debt.
func (l *Ledger) Withdraw(owner common.Address, amount uint64, cfg exchange.Config) error {
	acc := l.accounts[owner]
	if amount == 0 {
		return fmt.Errorf("withdraw amount must be positive: %w", apperr.ErrDepositBelowLimit)
	}
	if acc == nil || acc.Collateral < amount {
		var have uint64
		if acc != nil {
			have = acc.Collateral
		}
		return fmt.Errorf("insufficient collateral: have %d, need %d: %w", have, amount, apperr.ErrDepositBelowLimit)
	}
	remaining := acc.Collateral - amount
	capAfter := fixed.Dec(remaining).Mul(cfg.MarginMultiplier)
	if fixed.Dec(acc.Debt()).GreaterThan(capAfter) {
		return fmt.Errorf("debt %d exceeds capacity %s after withdrawal: %w", acc.Debt(), capAfter.String(), apperr.ErrDepositBelowLimit)
	}
	acc.Collateral = remaining
	return nil
}

// CheckBorrowingCapacity reports whether borrowed + accrued interest + requested
// fits under collateral * multiplier.
func (l *Ledger) CheckBorrowingCapacity(owner common.Address, requested uint64, cfg exchange.Config) bool {
	acc := l.accounts[owner]
	if acc == nil {
		return false
	}
	want := fixed.Dec(acc.Borrowed).Add(fixed.Dec(acc.Interest)).Add(fixed.Dec(requested))
	return want.LessThanOrEqual(acc.Cap(cfg.MarginMultiplier))
}

// Reserve holds borrow capacity for a resting margin order.
func (l *Ledger) Reserve(owner common.Address, amount uint64, cfg exchange.Config) error {
	acc := l.accounts[owner]
	if acc == nil || acc.Collateral == 0 {
		return fmt.Errorf("account %s has no collateral: %w", owner.Hex(), apperr.ErrMarginAmountBelowLimit)
	}
	if (acc.State == Called || acc.State == Liquidated) && !acc.Clear() {
		return fmt.Errorf("account %s is %s: %w", owner.Hex(), acc.State, apperr.ErrMarginCallActive)
	}
	if amount == 0 {
		return fmt.Errorf("borrow must be positive: %w", apperr.ErrMarginAmountBelowLimit)
	}
	borrowed, err := fixed.Add(acc.Borrowed, amount)
	if err != nil {
		return err
	}
	if !l.CheckBorrowingCapacity(owner, amount, cfg) {
		return fmt.Errorf("borrow %d + %d exceeds capacity %s: %w",
			acc.Borrowed, amount, acc.Cap(cfg.MarginMultiplier).String(), apperr.ErrMarginAmountAboveLimit)
	}
	acc.Borrowed = borrowed
	acc.Reserved += amount
	return nil
}

// Release returns reserved borrow that will not be drawn.
func (l *Ledger) Release(owner common.Address, amount uint64) {
	acc := l.accounts[owner]
	if acc == nil || amount == 0 {
		return
	}
	amount = fixed.Min(amount, acc.Reserved)
	acc.Reserved -= amount
	acc.Borrowed -= amount
}

// Draw turns reserved borrow into a position after a fill of qty on (pair, side).
// amount is the executed notional: when it is below the reservation the rest
// goes back to capacity, when above (a short filled at a better price) the
// difference is borrowed on top.
func (l *Ledger) Draw(owner common.Address, pair uint32, side order.Side, qty, reserved, amount uint64) {
	acc := l.accounts[owner]
	if acc == nil {
		return
	}
	reserved = fixed.Min(reserved, acc.Reserved)
	acc.Reserved -= reserved
	if amount < reserved {
		acc.Borrowed -= reserved - amount
	} else {
		acc.Borrowed = fixed.SaturatingAdd(acc.Borrowed, amount-reserved)
	}

	key := PositionKey(pair, side)
	pos, ok := acc.Positions[key]
	if !ok {
		pos = &Position{Pair: pair, Side: side}
		acc.Positions[key] = pos
	}
	pos.Size = fixed.SaturatingAdd(pos.Size, qty)
	pos.Borrowed = fixed.SaturatingAdd(pos.Borrowed, amount)
}

// SetState records a margin-call transition.
func (l *Ledger) SetState(owner common.Address, s State) {
	if acc := l.accounts[owner]; acc != nil {
		acc.State = s
	}
}

// Repay pays accrued interest, then unsecured borrow, out of collateral.
func (l *Ledger) Repay(owner common.Address, amount uint64) (uint64, error) {
	acc := l.accounts[owner]
	if amount == 0 {
		return 0, fmt.Errorf("repay amount must be positive: %w", apperr.ErrMarginAmountBelowLimit)
	}
	if acc == nil {
		return 0, fmt.Errorf("account %s has nothing to repay: %w", owner.Hex(), apperr.ErrMarginAmountBelowLimit)
	}
	payable := fixed.SaturatingAdd(acc.Interest, acc.Unsecured())
	if payable == 0 {
		return 0, fmt.Errorf("account %s has nothing to repay: %w", owner.Hex(), apperr.ErrMarginAmountBelowLimit)
	}
	pay := fixed.Min(amount, payable)
	if pay > acc.Collateral {
		return 0, fmt.Errorf("repay %d exceeds collateral %d: %w", pay, acc.Collateral, apperr.ErrDepositBelowLimit)
	}
	acc.Collateral -= pay
	fromInterest := fixed.Min(pay, acc.Interest)
	acc.Interest -= fromInterest
	acc.Borrowed -= pay - fromInterest
	return pay, nil
}

// Settlement is the ledger effect of closing part of a position.
type Settlement struct {
	Owner     common.Address
	Pair      uint32
	Side      order.Side // side of the position that was closed
	Quantity  uint64     // base units closed
	Value     uint64     // sale proceeds for a long, buy-back cost for a short
	Released  uint64     // borrow attributable to the closed quantity
	Profit    uint64     // credited to collateral
	Loss      uint64     // charged to collateral
	Shortfall uint64     // loss collateral could not cover, left as unsecured borrow
}

// Settle closes qty of the (pair, side) position for value.
// The attributable borrow leaves the account; the difference between value and
// that borrow is profit or loss against collateral.
func (l *Ledger) Settle(owner common.Address, pair uint32, side order.Side, qty, value uint64) (Settlement, error) {
	acc := l.accounts[owner]
	if acc == nil {
		return Settlement{}, fmt.Errorf("account %s: %w", owner.Hex(), apperr.ErrNoPosition)
	}
	key := PositionKey(pair, side)
	pos, ok := acc.Positions[key]
	if !ok || qty == 0 || qty > pos.Size {
		return Settlement{}, fmt.Errorf("close %d on pair %d %s: %w", qty, pair, side, apperr.ErrNoPosition)
	}

	released := pos.Borrowed
	if qty < pos.Size {
		released = fixed.MulDiv(pos.Borrowed, qty, pos.Size)
	}
	s := Settlement{Owner: owner, Pair: pair, Side: side, Quantity: qty, Value: value, Released: released}

	var gain, lossAmt uint64
	switch side {
	case order.Buy: // long: sold base for value
		if value >= released {
			gain = value - released
		} else {
			lossAmt = released - value
		}
	case order.Sell: // short: bought base back for value
		if released >= value {
			gain = released - value
		} else {
			lossAmt = value - released
		}
	}
	if gain > 0 {
		if _, err := fixed.Add(acc.Collateral, gain); err != nil {
			return Settlement{}, err
		}
	}

	pos.Size -= qty
	pos.Borrowed -= released
	if pos.Size == 0 {
		delete(acc.Positions, key)
	}
	acc.Borrowed -= released

	if gain > 0 {
		acc.Collateral += gain
		s.Profit = gain
	}
	if lossAmt > 0 {
		covered := fixed.Min(lossAmt, acc.Collateral)
		acc.Collateral -= covered
		s.Loss = covered
		s.Shortfall = lossAmt - covered
		acc.Borrowed = fixed.SaturatingAdd(acc.Borrowed, s.Shortfall)
	}
	return s, nil
}

// Accrual is the interest charged to one account in one period.
type Accrual struct {
	Owner      common.Address
	Amount     uint64
	Compounded bool
}

// AccrueInterest charges one period of interest on executed borrow of every
// account. Every cfg.CompoundEvery periods the accrued interest is folded into
// borrow. Nothing is applied if any account would overflow.
func (l *Ledger) AccrueInterest(cfg exchange.Config) ([]Accrual, error) {
	owners := l.Owners()
	charges := make([]uint64, len(owners))
	for i, owner := range owners {
		acc := l.accounts[owner]
		c, err := fixed.MulFloor(acc.Executed(), cfg.InterestRate)
		if err != nil {
			return nil, fmt.Errorf("interest for %s: %w", owner.Hex(), err)
		}
		if _, err := fixed.Add(acc.Interest, c); err != nil {
			return nil, fmt.Errorf("interest for %s: %w", owner.Hex(), err)
		}
		charges[i] = c
	}

	l.accruals++
	compound := cfg.CompoundEvery > 0 && l.accruals%cfg.CompoundEvery == 0

	var out []Accrual
	for i, owner := range owners {
		acc := l.accounts[owner]
		acc.Interest += charges[i]
		folded := false
		if compound && acc.Interest > 0 {
			acc.Borrowed = fixed.SaturatingAdd(acc.Borrowed, acc.Interest)
			acc.Interest = 0
			folded = true
		}
		if charges[i] > 0 || folded {
			out = append(out, Accrual{Owner: owner, Amount: charges[i], Compounded: folded})
		}
	}
	return out, nil
}

// Validate checks every account.
func (l *Ledger) Validate() error {
	for owner, acc := range l.accounts {
		if owner != acc.Owner {
			return fmt.Errorf("account key %s holds owner %s", owner.Hex(), acc.Owner.Hex())
		}
		if err := acc.Validate(); err != nil {
			return fmt.Errorf("account %s: %w", owner.Hex(), err)
		}
	}
	return nil
}

// PairReferenced reports whether any position sits on pair.
func (l *Ledger) PairReferenced(pair uint32) bool {
	for _, acc := range l.accounts {
		for _, p := range acc.Positions {
			if p.Pair == pair {
				return true
			}
		}
	}
	return false
}

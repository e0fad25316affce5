package margin

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/fixed"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// State is the margin-call state of an account.
type State uint8

const (
	Healthy State = iota
	Warning
	Called
	Liquidated
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Called:
		return "called"
	case Liquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Position is borrowed exposure on one side of a pair.
type Position struct {
	Pair     uint32     `json:"pair"`
	Side     order.Side `json:"side"`
	Size     uint64     `json:"size"`     // base units
	Borrowed uint64     `json:"borrowed"` // quote units, valued at the opening orders' limit prices
}

// PositionKey packs (pair, side) into a map key.
func PositionKey(pair uint32, side order.Side) uint64 {
	return uint64(pair)<<1 | uint64(side)
}

// Account is an owner's margin state.
//
// Borrowed counts every unit of borrow the account is liable for:
// reservations held by resting margin orders (Reserved), borrow backing
// open positions, and unsecured borrow (compounded interest, liquidation shortfall).
type Account struct {
	Owner      common.Address       `json:"owner"`
	Collateral uint64               `json:"collateral"`
	Borrowed   uint64               `json:"borrowed"`
	Reserved   uint64               `json:"reserved"`
	Interest   uint64               `json:"interest"`
	State      State                `json:"state"`
	Positions  map[uint64]*Position `json:"positions"`
}

func NewAccount(owner common.Address) *Account {
	return &Account{
		Owner:     owner,
		Positions: make(map[uint64]*Position),
	}
}

// Debt is borrowed plus accrued interest.
func (a *Account) Debt() uint64 { return fixed.SaturatingAdd(a.Borrowed, a.Interest) }

// Cap is the maximum borrow allowed: collateral * multiplier, exact.
func (a *Account) Cap(multiplier decimal.Decimal) decimal.Decimal {
	return fixed.Dec(a.Collateral).Mul(multiplier)
}

// PositionBorrow sums the borrow backing open positions.
func (a *Account) PositionBorrow() uint64 {
	var sum uint64
	for _, p := range a.Positions {
		sum = fixed.SaturatingAdd(sum, p.Borrowed)
	}
	return sum
}

// Unsecured is borrow not backing a reservation or a position.
func (a *Account) Unsecured() uint64 {
	backed := fixed.SaturatingAdd(a.Reserved, a.PositionBorrow())
	if backed >= a.Borrowed {
		return 0
	}
	return a.Borrowed - backed
}

// Executed is borrow that is actually drawn (everything except reservations).
func (a *Account) Executed() uint64 { return a.Borrowed - a.Reserved }

// SortedPositions returns open positions ordered by pair then side.
func (a *Account) SortedPositions() []*Position {
	out := make([]*Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return PositionKey(out[i].Pair, out[i].Side) < PositionKey(out[j].Pair, out[j].Side)
	})
	return out
}

// Clear reports whether the account carries no borrow, interest or positions.
func (a *Account) Clear() bool {
	return a.Borrowed == 0 && a.Interest == 0 && len(a.Positions) == 0
}

// Validate checks the account invariants
func (a *Account) Validate() error {
	if a.Reserved > a.Borrowed {
		return fmt.Errorf("reserved %d exceeds borrowed %d", a.Reserved, a.Borrowed)
	}
	backed := fixed.SaturatingAdd(a.Reserved, a.PositionBorrow())
	if backed > a.Borrowed {
		return fmt.Errorf("reserved+position borrow %d exceeds borrowed %d", backed, a.Borrowed)
	}
	for key, p := range a.Positions {
		if key != PositionKey(p.Pair, p.Side) {
			return fmt.Errorf("position key mismatch: map key=%d, pair=%d side=%s", key, p.Pair, p.Side)
		}
		if p.Size == 0 {
			return fmt.Errorf("empty position left open on pair %d", p.Pair)
		}
	}
	return nil
}

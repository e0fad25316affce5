package order

import (
	"github.com/ethereum/go-ethereum/common"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "buy", "BUY", "Buy":
		return Buy, true
	case "sell", "SELL", "Sell":
		return Sell, true
	}
	return 0, false
}

// Kind is the order variant the matching engine dispatches on.
type Kind uint8

const (
	Spot Kind = iota
	Margin
	// Liquidation orders are issued by the ledger itself to close a margin
	// position. They execute immediately-or-cancel and never rest.
	Liquidation
)

func (k Kind) String() string {
	switch k {
	case Spot:
		return "spot"
	case Margin:
		return "margin"
	case Liquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// ParseKind accepts the caller-submittable kinds only.
func ParseKind(v string) (Kind, bool) {
	switch v {
	case "spot", "SPOT", "Spot":
		return Spot, true
	case "margin", "MARGIN", "Margin":
		return Margin, true
	}
	return 0, false
}

// Status represents the order lifecycle
type Status uint8

const (
	Open            Status = iota // resting, untouched
	PartiallyFilled               // resting, some quantity executed
	Filled                        // terminal
	Cancelled                     // terminal
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool { return s == Filled || s == Cancelled }

// Order is an entry in the order table. The book refers to it by ID only.
type Order struct {
	ID        uint64
	Owner     common.Address
	Pair      uint32
	Side      Side
	Kind      Kind
	Price     uint64
	Quantity  uint64 // original quantity, lowered only by reduce-only modification
	Remaining uint64
	Status    Status

	// Reserved is the margin borrow still held for the unfilled remainder.
	Reserved uint64
}

// Executed returns how much of the order has traded.
func (o *Order) Executed() uint64 { return o.Quantity - o.Remaining }

// IsClosed returns true if the order is filled or cancelled
func (o *Order) IsClosed() bool { return o.Status.Terminal() }

// Trade is one execution between a resting (maker) and an incoming (taker) order.
// Trades are append-only.
type Trade struct {
	ID        uint64
	Seq       uint64 // ledger operation sequence that produced the trade
	Pair      uint32
	BuyOrder  uint64
	SellOrder uint64
	Maker     uint64
	Taker     uint64
	Price     uint64
	Quantity  uint64
}

// Package events is the ledger's event taxonomy. Every successful mutating
// operation produces one or more events carrying the affected entity id and,
// where relevant, the owner.
package events

import (
	"github.com/ethereum/go-ethereum/common"
)

type Type string

const (
	AssetAdded   Type = "AssetAdded"
	AssetRemoved Type = "AssetRemoved"
	PairAdded    Type = "PairAdded"
	PairRemoved  Type = "PairRemoved"

	OrderCreated          Type = "OrderCreated"
	OrderCancelled        Type = "OrderCancelled"
	OrderModified         Type = "OrderModified"
	OrderFullyMatched     Type = "OrderFullyMatched"
	OrderPartiallyMatched Type = "OrderPartiallyMatched"

	MarginDeposited   Type = "MarginDeposited"
	MarginWithdrew    Type = "MarginWithdrew"
	MarginRepaid      Type = "MarginRepaid"
	InterestAccrued   Type = "InterestAccrued"
	MarginCallWarning Type = "MarginCallWarning"
	MarginCalled      Type = "MarginCalled"
	MarginLiquidated  Type = "MarginLiquidated"
	MarginRestored    Type = "MarginRestored"
	PositionClosed    Type = "PositionClosed"

	ConfigUpdated     Type = "ConfigUpdated"
	OperationPaused   Type = "OperationPaused"
	OperationUnpaused Type = "OperationUnpaused"
)

// Event is a single ledger notification. Zero fields are not relevant to the type.
type Event struct {
	Seq   uint64         `json:"seq"`
	Type  Type           `json:"type"`
	Owner common.Address `json:"owner,omitempty"`

	Asset uint32 `json:"asset,omitempty"`
	Pair  uint32 `json:"pair,omitempty"`
	Order uint64 `json:"order,omitempty"`
	Trade uint64 `json:"trade,omitempty"`
	Side  string `json:"side,omitempty"`
	Kind  string `json:"kind,omitempty"`

	Price     uint64 `json:"price,omitempty"`
	Quantity  uint64 `json:"quantity,omitempty"`
	Remaining uint64 `json:"remaining,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`

	// Margin state after the event, for margin-call transitions.
	State string `json:"state,omitempty"`
}

// HasOwner reports whether the event is scoped to an account.
func (e Event) HasOwner() bool { return e.Owner != (common.Address{}) }

// Emitter receives events as components produce them.
type Emitter interface {
	Emit(Event)
}

// Buffer collects the events of one operation so they can be discarded if
// the operation fails and published in order if it succeeds.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) { b.events = append(b.events, e) }

// Drain returns the buffered events stamped with seq and empties the buffer.
func (b *Buffer) Drain(seq uint64) []Event {
	out := b.events
	for i := range out {
		out[i].Seq = seq
	}
	b.events = nil
	return out
}

// Reset discards buffered events.
func (b *Buffer) Reset() { b.events = nil }

func (b *Buffer) Len() int { return len(b.events) }

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(Event) {}

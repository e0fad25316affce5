package matching

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// Effects accumulates what one ledger operation produced.
type Effects struct {
	// Seq is the ledger sequence the operation commits under; trades carry it.
	Seq uint64

	Events      events.Buffer
	Trades      []order.Trade
	Settlements []margin.Settlement

	touched map[common.Address]struct{}
}

func NewEffects() *Effects {
	return &Effects{touched: make(map[common.Address]struct{})}
}

// Emit records an event.
func (fx *Effects) Emit(e events.Event) { fx.Events.Emit(e) }

// Touch marks a margin account for re-evaluation.
func (fx *Effects) Touch(owner common.Address) { fx.touched[owner] = struct{}{} }

// TakeTouched returns and clears the touched accounts in byte order.
func (fx *Effects) TakeTouched() []common.Address {
	out := make([]common.Address, 0, len(fx.touched))
	for owner := range fx.touched {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	fx.touched = make(map[common.Address]struct{})
	return out
}

var _ events.Emitter = (*Effects)(nil)

package order

import (
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// Table is the arena that owns every order ever created.
// Order N lives at orders[N-1]; ids come from the table's sequencer so the
// slot of an id never changes and ids are never reused.
type Table struct {
	orders []*Order
	seq    *Sequencer

	open       map[uint64]struct{}
	openByPair map[uint32]int
}

func NewTable() *Table {
	return &Table{
		seq:        NewSequencer(0),
		open:       make(map[uint64]struct{}),
		openByPair: make(map[uint32]int),
	}
}

// Create assigns the next id to o, marks it Open and stores it.
func (t *Table) Create(o *Order) (*Order, error) {
	if t.seq.Current() == math.MaxUint64 {
		return nil, fmt.Errorf("order ids exhausted: %w", apperr.ErrStorageOverflow)
	}
	o.ID = t.seq.Next()
	o.Status = Open
	o.Remaining = o.Quantity
	t.orders = append(t.orders, o)
	t.open[o.ID] = struct{}{}
	t.openByPair[o.Pair]++
	return o, nil
}

// Get resolves an id.
func (t *Table) Get(id uint64) (*Order, error) {
	if id == 0 || id > uint64(len(t.orders)) {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrOrderNotFound)
	}
	return t.orders[id-1], nil
}

// Fill executes qty against o and updates its status.
func (t *Table) Fill(o *Order, qty uint64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		t.close(o, Filled)
		return
	}
	o.Status = PartiallyFilled
}

// Cancel moves a live order to Cancelled.
func (t *Table) Cancel(o *Order) {
	t.close(o, Cancelled)
}

func (t *Table) close(o *Order, s Status) {
	if o.Status.Terminal() {
		return
	}
	o.Status = s
	delete(t.open, o.ID)
	if t.openByPair[o.Pair]--; t.openByPair[o.Pair] == 0 {
		delete(t.openByPair, o.Pair)
	}
}

// OpenOnPair counts live orders on a pair.
func (t *Table) OpenOnPair(pair uint32) int { return t.openByPair[pair] }

// OpenBy returns the owner's live orders in id order.
func (t *Table) OpenBy(owner common.Address) []*Order {
	var out []*Order
	for id := range t.open {
		if o := t.orders[id-1]; o.Owner == owner {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnedBy returns every order of owner, live or not, in id order.
func (t *Table) OwnedBy(owner common.Address) []*Order {
	var out []*Order
	for _, o := range t.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out
}

// Open returns all live orders in id order.
func (t *Table) Open() []*Order {
	out := make([]*Order, 0, len(t.open))
	for id := range t.open {
		out = append(out, t.orders[id-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of orders ever created.
func (t *Table) Len() int { return len(t.orders) }

// LastID is the most recently issued id.
func (t *Table) LastID() uint64 { return t.seq.Current() }

// Validate checks the table invariants: ids match slots, live orders have
// 0 < remaining <= quantity and a positive price, terminal filled orders have nothing left.
func (t *Table) Validate() error {
	live := 0
	for i, o := range t.orders {
		if o.ID != uint64(i+1) {
			return fmt.Errorf("order at slot %d has id %d", i, o.ID)
		}
		_, isOpen := t.open[o.ID]
		switch o.Status {
		case Open, PartiallyFilled:
			live++
			if !isOpen {
				return fmt.Errorf("order %d is %s but not indexed open", o.ID, o.Status)
			}
			if o.Remaining == 0 || o.Remaining > o.Quantity {
				return fmt.Errorf("order %d remaining %d outside (0, %d]", o.ID, o.Remaining, o.Quantity)
			}
			if o.Price == 0 {
				return fmt.Errorf("order %d has zero price", o.ID)
			}
		case Filled:
			if o.Remaining != 0 {
				return fmt.Errorf("filled order %d has remaining %d", o.ID, o.Remaining)
			}
		}
		if o.Status.Terminal() && isOpen {
			return fmt.Errorf("terminal order %d still indexed open", o.ID)
		}
	}
	if live != len(t.open) {
		return fmt.Errorf("open index has %d entries, %d live orders", len(t.open), live)
	}
	return nil
}

package orderbook

import (
	"fmt"

	"github.com/huandu/skiplist"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// PriceLevel is aggregated depth at one price.
type PriceLevel struct {
	Price uint64
	Qty   uint64 // total remaining qty at this price level
	Count int
}

type entry struct {
	side  order.Side
	price uint64
}

// OrderBook is the sorted index of resting orders for one pair.
// It stores order ids only; quantities and statuses live in the order table.
// Bids are ordered high to low, asks low to high, and each price level is a
// FIFO so ties break by submission sequence.
type OrderBook struct {
	pair uint32

	bids *skiplist.SkipList // price -> *level
	asks *skiplist.SkipList

	// Order index for cancellation: id -> side and price
	index map[uint64]entry
}

func NewOrderBook(pair uint32) *OrderBook {
	return &OrderBook{
		pair:  pair,
		bids:  skiplist.New(bidOrder{}),
		asks:  skiplist.New(askOrder{}),
		index: make(map[uint64]entry),
	}
}

func (ob *OrderBook) Pair() uint32 { return ob.pair }

func (ob *OrderBook) side(s order.Side) *skiplist.SkipList {
	if s == order.Buy {
		return ob.bids
	}
	return ob.asks
}

// Insert appends o to the back of its price level.
func (ob *OrderBook) Insert(o *order.Order) error {
	if _, exists := ob.index[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	list := ob.side(o.Side)
	if elem := list.Get(o.Price); elem != nil {
		lv := elem.Value.(*level)
		lv.ids = append(lv.ids, o.ID)
	} else {
		list.Set(o.Price, &level{price: o.Price, ids: []uint64{o.ID}})
	}
	ob.index[o.ID] = entry{side: o.Side, price: o.Price}
	return nil
}

// BestBid returns the id and price at the head of the highest bid level.
func (ob *OrderBook) BestBid() (id, price uint64, ok bool) {
	return head(ob.bids)
}

// BestAsk returns the id and price at the head of the lowest ask level.
func (ob *OrderBook) BestAsk() (id, price uint64, ok bool) {
	return head(ob.asks)
}

// Best returns the head of the given side.
func (ob *OrderBook) Best(s order.Side) (id, price uint64, ok bool) {
	return head(ob.side(s))
}

func head(list *skiplist.SkipList) (uint64, uint64, bool) {
	front := list.Front()
	if front == nil {
		return 0, 0, false
	}
	lv := front.Value.(*level)
	return lv.ids[0], lv.price, true
}

// Remove takes id out of the book. Empty levels are dropped.
func (ob *OrderBook) Remove(id uint64) error {
	e, ok := ob.index[id]
	if !ok {
		return fmt.Errorf("order %d not in book for pair %d: %w", id, ob.pair, apperr.ErrOrderNotFound)
	}
	list := ob.side(e.side)
	elem := list.Get(e.price)
	if elem == nil {
		return fmt.Errorf("order %d: level %d missing: %w", id, e.price, apperr.ErrOrderNotFound)
	}
	lv := elem.Value.(*level)
	if !lv.remove(id) {
		return fmt.Errorf("order %d not queued at %d: %w", id, e.price, apperr.ErrOrderNotFound)
	}
	if len(lv.ids) == 0 {
		list.Remove(e.price)
	}
	delete(ob.index, id)
	return nil
}

// Contains reports whether id is resting in the book.
func (ob *OrderBook) Contains(id uint64) bool {
	_, ok := ob.index[id]
	return ok
}

// Len is the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.index) }

// Walk visits every resting id of a side in priority order until fn returns false.
func (ob *OrderBook) Walk(s order.Side, fn func(price, id uint64) bool) {
	for elem := ob.side(s).Front(); elem != nil; elem = elem.Next() {
		lv := elem.Value.(*level)
		for _, id := range lv.ids {
			if !fn(lv.price, id) {
				return
			}
		}
	}
}

// Levels aggregates up to depth levels of a side (depth <= 0 means all).
// remaining resolves an id to its unfilled quantity.
func (ob *OrderBook) Levels(s order.Side, depth int, remaining func(id uint64) uint64) []PriceLevel {
	var out []PriceLevel
	for elem := ob.side(s).Front(); elem != nil; elem = elem.Next() {
		if depth > 0 && len(out) == depth {
			break
		}
		lv := elem.Value.(*level)
		pl := PriceLevel{Price: lv.price, Count: len(lv.ids)}
		for _, id := range lv.ids {
			pl.Qty += remaining(id)
		}
		out = append(out, pl)
	}
	return out
}

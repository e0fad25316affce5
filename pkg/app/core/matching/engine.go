// Package matching executes orders against per-pair books with price-time
// priority. Trades always execute at the resting (maker) order's price.
package matching

import (
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/fixed"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/orderbook"
)

// Engine is the only writer of orders, books and trades.
// It is single-threaded; the ledger application serializes calls.
type Engine struct {
	registry *market.Registry
	control  *exchange.Control
	ledger   *margin.Ledger

	orders *order.Table
	trades *order.TradeLog
	books  map[uint32]*orderbook.OrderBook
}

func NewEngine(reg *market.Registry, ctl *exchange.Control, ledger *margin.Ledger) *Engine {
	return &Engine{
		registry: reg,
		control:  ctl,
		ledger:   ledger,
		orders:   order.NewTable(),
		trades:   order.NewTradeLog(),
		books:    make(map[uint32]*orderbook.OrderBook),
	}
}

func (e *Engine) Orders() *order.Table    { return e.orders }
func (e *Engine) Trades() *order.TradeLog { return e.trades }

// Book returns the book for pair, or nil if nothing has rested there yet.
func (e *Engine) Book(pair uint32) *orderbook.OrderBook { return e.books[pair] }

// BookPairs returns the pairs that have a book, ascending.
func (e *Engine) BookPairs() []uint32 {
	out := make([]uint32, 0, len(e.books))
	for p := range e.books {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) getBook(pair uint32) *orderbook.OrderBook {
	if ob, ok := e.books[pair]; ok {
		return ob
	}
	ob := orderbook.NewOrderBook(pair)
	e.books[pair] = ob
	return ob
}

// DropBook forgets the (empty) book of a delisted pair.
func (e *Engine) DropBook(pair uint32) { delete(e.books, pair) }

// PairReferenced reports whether open orders, trade history or margin positions use pair.
func (e *Engine) PairReferenced(pair uint32) bool {
	return e.orders.OpenOnPair(pair) > 0 || e.trades.HasPair(pair) || e.ledger.PairReferenced(pair)
}

// Submit validates and executes a caller order. Every check runs before the
// first mutation, so an error leaves books, orders and ledger untouched.
func (e *Engine) Submit(owner common.Address, pair uint32, side order.Side, kind order.Kind, price, qty uint64, fx *Effects) (*order.Order, error) {
	if err := e.control.RequireActive(); err != nil {
		return nil, err
	}
	if kind != order.Spot && kind != order.Margin {
		return nil, fmt.Errorf("kind %s: %w", kind, apperr.ErrInvalidOrder)
	}
	if side != order.Buy && side != order.Sell {
		return nil, fmt.Errorf("side %d: %w", side, apperr.ErrInvalidOrder)
	}
	p, err := e.registry.Pair(pair)
	if err != nil {
		return nil, err
	}
	if price == 0 {
		return nil, fmt.Errorf("price must be positive: %w", apperr.ErrInvalidPrice)
	}
	cfg := e.control.Config()
	if err := cfg.CheckVolume(qty, p.MinVolume, p.MaxVolume); err != nil {
		return nil, err
	}
	notional, err := fixed.Mul(price, qty)
	if err != nil {
		return nil, err
	}
	if e.orders.LastID() == math.MaxUint64 {
		return nil, fmt.Errorf("order ids exhausted: %w", apperr.ErrStorageOverflow)
	}

	o := &order.Order{Owner: owner, Pair: pair, Side: side, Kind: kind, Price: price, Quantity: qty}
	if kind == order.Margin {
		if err := e.ledger.Reserve(owner, notional, cfg); err != nil {
			return nil, err
		}
		o.Reserved = notional
		fx.Touch(owner)
	}

	if _, err := e.orders.Create(o); err != nil {
		// unreachable after the id check above; undo the reservation anyway
		e.ledger.Release(owner, o.Reserved)
		return nil, err
	}
	fx.Emit(orderEvent(events.OrderCreated, o))

	book := e.getBook(pair)
	e.match(o, book, fx)

	if o.Remaining > 0 {
		if err := book.Insert(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// match crosses taker against the opposing side until prices stop crossing
// or the taker is exhausted.
func (e *Engine) match(taker *order.Order, book *orderbook.OrderBook, fx *Effects) {
	opp := taker.Side.Opposite()
	for taker.Remaining > 0 {
		makerID, px, ok := book.Best(opp)
		if !ok || !crosses(taker, px) {
			break
		}
		maker, err := e.orders.Get(makerID)
		if err != nil || maker.IsClosed() {
			// stale index entry; drop it and keep matching
			_ = book.Remove(makerID)
			continue
		}

		qty := fixed.Min(taker.Remaining, maker.Remaining)
		e.orders.Fill(maker, qty)
		e.orders.Fill(taker, qty)

		t := order.Trade{Seq: fx.Seq, Pair: taker.Pair, Maker: maker.ID, Taker: taker.ID, Price: px, Quantity: qty}
		if taker.Side == order.Buy {
			t.BuyOrder, t.SellOrder = taker.ID, maker.ID
		} else {
			t.BuyOrder, t.SellOrder = maker.ID, taker.ID
		}
		t = e.trades.Append(t)
		fx.Trades = append(fx.Trades, t)

		e.afterFill(maker, qty, px, fx)
		e.afterFill(taker, qty, px, fx)

		if maker.Remaining == 0 {
			_ = book.Remove(maker.ID)
		}
		fx.Emit(fillEvent(maker, t))
		fx.Emit(fillEvent(taker, t))
	}
}

// crosses reports whether a resting price is executable for taker.
func crosses(taker *order.Order, restingPrice uint64) bool {
	if taker.Side == order.Buy {
		return restingPrice <= taker.Price
	}
	return restingPrice >= taker.Price
}

// afterFill turns the filled part of a margin order's reservation into a
// position borrowed at the traded price.
func (e *Engine) afterFill(o *order.Order, qty, px uint64, fx *Effects) {
	if o.Kind != order.Margin {
		return
	}
	reserved := o.Price * qty // bounded by the reservation validated at submit
	if o.Remaining == 0 || reserved > o.Reserved {
		reserved = o.Reserved
	}
	o.Reserved -= reserved
	drawn, err := fixed.Mul(px, qty)
	if err != nil {
		drawn = math.MaxUint64
	}
	e.ledger.Draw(o.Owner, o.Pair, o.Side, qty, reserved, drawn)
	fx.Touch(o.Owner)
}

// Cancel cancels a live order on behalf of its owner.
func (e *Engine) Cancel(owner common.Address, id uint64, fx *Effects) (*order.Order, error) {
	if err := e.control.RequireActive(); err != nil {
		return nil, err
	}
	o, err := e.orders.Get(id)
	if err != nil {
		return nil, err
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrNotOrderOwner)
	}
	if o.IsClosed() {
		return nil, fmt.Errorf("order %d is %s: %w", id, o.Status, apperr.ErrOrderNotCancellable)
	}
	e.cancel(o, fx)
	return o, nil
}

func (e *Engine) cancel(o *order.Order, fx *Effects) {
	if o.Reserved > 0 {
		e.ledger.Release(o.Owner, o.Reserved)
		o.Reserved = 0
		fx.Touch(o.Owner)
	}
	if book := e.books[o.Pair]; book != nil && book.Contains(o.ID) {
		_ = book.Remove(o.ID)
	}
	e.orders.Cancel(o)
	fx.Emit(orderEvent(events.OrderCancelled, o))
}

// Modify reduces a resting order's remaining quantity in place, keeping its
// time priority. The original quantity drops by the same amount.
func (e *Engine) Modify(owner common.Address, id, newRemaining uint64, fx *Effects) (*order.Order, error) {
	if err := e.control.RequireActive(); err != nil {
		return nil, err
	}
	o, err := e.orders.Get(id)
	if err != nil {
		return nil, err
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrNotOrderOwner)
	}
	if o.IsClosed() {
		return nil, fmt.Errorf("order %d is %s: %w", id, o.Status, apperr.ErrOrderNotCancellable)
	}
	if newRemaining == 0 {
		return nil, fmt.Errorf("order %d: remaining must stay positive: %w", id, apperr.ErrVolumeBelowLimit)
	}
	if newRemaining >= o.Remaining {
		return nil, fmt.Errorf("order %d: %d is not below remaining %d: %w", id, newRemaining, o.Remaining, apperr.ErrVolumeAboveLimit)
	}

	delta := o.Remaining - newRemaining
	o.Remaining = newRemaining
	o.Quantity -= delta
	if o.Kind == order.Margin {
		freed := fixed.Min(o.Price*delta, o.Reserved)
		o.Reserved -= freed
		e.ledger.Release(o.Owner, freed)
		fx.Touch(o.Owner)
	}
	ev := orderEvent(events.OrderModified, o)
	ev.Amount = delta
	fx.Emit(ev)
	return o, nil
}

// CancelMarginOrders cancels every live margin order of owner and returns how many.
func (e *Engine) CancelMarginOrders(owner common.Address, fx *Effects) int {
	n := 0
	for _, o := range e.orders.OpenBy(owner) {
		if o.Kind != order.Margin {
			continue
		}
		e.cancel(o, fx)
		n++
	}
	return n
}

// ClosePosition is the owner-initiated close of a margin position.
func (e *Engine) ClosePosition(owner common.Address, pair uint32, side order.Side, fx *Effects) (uint64, error) {
	if err := e.control.RequireActive(); err != nil {
		return 0, err
	}
	acc := e.ledger.Account(owner)
	if acc == nil {
		return 0, fmt.Errorf("account %s: %w", owner.Hex(), apperr.ErrNoPosition)
	}
	pos, ok := acc.Positions[margin.PositionKey(pair, side)]
	if !ok {
		return 0, fmt.Errorf("pair %d %s: %w", pair, side, apperr.ErrNoPosition)
	}
	return e.LiquidatePosition(owner, *pos, fx)
}

// LiquidatePosition closes pos with an immediate-or-cancel order that crosses
// the whole opposing side, then settles whatever executed against the ledger.
// It returns the executed quantity; zero means the book had no liquidity.
func (e *Engine) LiquidatePosition(owner common.Address, pos margin.Position, fx *Effects) (uint64, error) {
	if pos.Size == 0 {
		return 0, nil
	}
	if e.orders.LastID() == math.MaxUint64 {
		return 0, fmt.Errorf("order ids exhausted: %w", apperr.ErrStorageOverflow)
	}
	closeSide := pos.Side.Opposite()
	price := uint64(1)
	if closeSide == order.Buy {
		price = math.MaxUint64
	}
	o := &order.Order{Owner: owner, Pair: pos.Pair, Side: closeSide, Kind: order.Liquidation, Price: price, Quantity: pos.Size}
	if _, err := e.orders.Create(o); err != nil {
		return 0, err
	}
	fx.Emit(orderEvent(events.OrderCreated, o))

	first := len(fx.Trades)
	e.match(o, e.getBook(pos.Pair), fx)

	var value uint64
	for _, t := range fx.Trades[first:] {
		if t.Taker == o.ID {
			value = fixed.SaturatingAdd(value, t.Price*t.Quantity)
		}
	}
	executed := o.Executed()
	if o.Remaining > 0 {
		e.cancel(o, fx)
	}
	if executed == 0 {
		return 0, nil
	}

	s, err := e.ledger.Settle(owner, pos.Pair, pos.Side, executed, value)
	if err != nil {
		return executed, err
	}
	fx.Settlements = append(fx.Settlements, s)
	fx.Touch(owner)
	fx.Emit(events.Event{
		Type:     events.PositionClosed,
		Owner:    owner,
		Pair:     pos.Pair,
		Order:    o.ID,
		Side:     pos.Side.String(),
		Quantity: executed,
		Amount:   value,
	})
	return executed, nil
}

func orderEvent(t events.Type, o *order.Order) events.Event {
	return events.Event{
		Type:      t,
		Owner:     o.Owner,
		Pair:      o.Pair,
		Order:     o.ID,
		Side:      o.Side.String(),
		Kind:      o.Kind.String(),
		Price:     o.Price,
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
	}
}

func fillEvent(o *order.Order, t order.Trade) events.Event {
	typ := events.OrderPartiallyMatched
	if o.Remaining == 0 {
		typ = events.OrderFullyMatched
	}
	return events.Event{
		Type:      typ,
		Owner:     o.Owner,
		Pair:      o.Pair,
		Order:     o.ID,
		Trade:     t.ID,
		Side:      o.Side.String(),
		Kind:      o.Kind.String(),
		Price:     t.Price,
		Quantity:  t.Quantity,
		Remaining: o.Remaining,
	}
}

package spot

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margincall"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/orderbook"
)

// Queries take the read lock and return copies; nothing returned aliases
// ledger state.

func (a *App) Config() exchange.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.control.Config()
}

func (a *App) Paused() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.control.Paused()
}

func (a *App) Assets() []market.Asset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Assets()
}

func (a *App) Pairs() []market.Pair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Pairs()
}

func (a *App) Pair(id uint32) (market.Pair, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Pair(id)
}

func (a *App) Order(id uint64) (order.Order, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, err := a.engine.Orders().Get(id)
	if err != nil {
		return order.Order{}, err
	}
	return *o, nil
}

// OrdersOf returns every order of owner in id order. openOnly drops terminal orders.
func (a *App) OrdersOf(owner common.Address, openOnly bool) []order.Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var src []*order.Order
	if openOnly {
		src = a.engine.Orders().OpenBy(owner)
	} else {
		src = a.engine.Orders().OwnedBy(owner)
	}
	out := make([]order.Order, len(src))
	for i, o := range src {
		out[i] = *o
	}
	return out
}

// BookView is the aggregated depth of one pair.
type BookView struct {
	Pair uint32
	Bids []orderbook.PriceLevel
	Asks []orderbook.PriceLevel
}

// Book aggregates up to depth price levels per side; depth 0 returns all.
func (a *App) Book(pair uint32, depth int) (BookView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, err := a.registry.Pair(pair); err != nil {
		return BookView{}, err
	}
	view := BookView{Pair: pair}
	book := a.engine.Book(pair)
	if book == nil {
		return view, nil
	}
	remaining := func(id uint64) uint64 {
		o, err := a.engine.Orders().Get(id)
		if err != nil {
			return 0
		}
		return o.Remaining
	}
	view.Bids = book.Levels(order.Buy, depth, remaining)
	view.Asks = book.Levels(order.Sell, depth, remaining)
	return view, nil
}

// Trades returns up to limit of the newest trades on pair, newest first.
func (a *App) Trades(pair uint32, limit int) []order.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Trades().Recent(pair, limit)
}

// AccountView is a margin account with its derived health figures.
type AccountView struct {
	Owner      common.Address
	Collateral uint64
	Borrowed   uint64
	Reserved   uint64
	Interest   uint64
	State      margin.State
	// Ratio is debt over capacity to 6 places; empty when there is no capacity.
	Ratio     string
	Capacity  string
	Positions []margin.Position
	Nonce     uint64
}

// MarginAccount reports ok=false for owners that never deposited or borrowed.
func (a *App) MarginAccount(owner common.Address) (AccountView, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc := a.ledger.Account(owner)
	if acc == nil {
		return AccountView{Owner: owner, Nonce: a.nonces[owner]}, false
	}
	mult := a.control.Config().MarginMultiplier
	view := AccountView{
		Owner:      owner,
		Collateral: acc.Collateral,
		Borrowed:   acc.Borrowed,
		Reserved:   acc.Reserved,
		Interest:   acc.Interest,
		State:      acc.State,
		Capacity:   acc.Cap(mult).String(),
		Nonce:      a.nonces[owner],
	}
	if r, ok := margincall.Ratio(acc, mult); ok {
		view.Ratio = r.StringFixed(6)
	}
	for _, p := range acc.SortedPositions() {
		view.Positions = append(view.Positions, *p)
	}
	return view, true
}

// Nonce is the last nonce consumed by owner.
func (a *App) Nonce(owner common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[owner]
}

// Snapshot summarizes the ledger after a block for persistence.
type Snapshot struct {
	Height   int64          `json:"height"`
	Seq      uint64         `json:"seq"`
	Paused   bool           `json:"paused"`
	Assets   int            `json:"assets"`
	Pairs    int            `json:"pairs"`
	Orders   int            `json:"orders"`
	Open     int            `json:"open"`
	Trades   int            `json:"trades"`
	Accounts []AccountTotal `json:"accounts"`
}

type AccountTotal struct {
	Owner      common.Address `json:"owner"`
	Collateral uint64         `json:"collateral"`
	Borrowed   uint64         `json:"borrowed"`
	Interest   uint64         `json:"interest"`
	State      string         `json:"state"`
}

func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	assets, pairs := a.registry.Count()
	s := Snapshot{
		Height: a.height,
		Seq:    a.seq,
		Paused: a.control.Paused(),
		Assets: assets,
		Pairs:  pairs,
		Orders: a.engine.Orders().Len(),
		Open:   len(a.engine.Orders().Open()),
		Trades: a.engine.Trades().Len(),
	}
	for _, owner := range a.ledger.Owners() {
		acc := a.ledger.Account(owner)
		s.Accounts = append(s.Accounts, AccountTotal{
			Owner:      owner,
			Collateral: acc.Collateral,
			Borrowed:   acc.Borrowed,
			Interest:   acc.Interest,
			State:      acc.State.String(),
		})
	}
	return s
}

// TradesSince returns the trades with id greater than after, oldest first.
func (a *App) TradesSince(after uint64) []order.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Trades().Since(after)
}

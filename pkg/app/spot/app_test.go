package spot

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/custody"
	"github.com/uhyunpark/spotmargin/pkg/eventlog"
)

var (
	admin = common.HexToAddress("0x9999999999999999999999999999999999999999")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fixture struct {
	app     *App
	sink    *eventlog.Memory
	custody *custody.Recorder
}

// newFixture lists ETH (1) and USDC (2) and pair 1 = ETH/USDC with a 5x multiplier.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sink: eventlog.NewMemory(0), custody: &custody.Recorder{}}
	app, err := NewApp(Options{
		Config:    exchange.DefaultConfig(admin),
		Sink:      f.sink,
		Custodian: f.custody,
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	f.app = app
	mustOK(t)(app.AddAsset(admin, market.Asset{ID: 1, Symbol: "ETH", Decimals: 18}))
	mustOK(t)(app.AddAsset(admin, market.Asset{ID: 2, Symbol: "USDC", Decimals: 6}))
	res, err := app.AddPair(admin, market.Pair{Base: 1, Quote: 2})
	if err != nil || res.PairID != 1 {
		t.Fatalf("AddPair = %d, %v", res.PairID, err)
	}
	return f
}

func mustOK(t *testing.T) func(Result, error) Result {
	return func(res Result, err error) Result {
		t.Helper()
		if err != nil {
			t.Fatalf("operation failed: %v", err)
		}
		return res
	}
}

func (f *fixture) submit(t *testing.T, owner common.Address, side order.Side, kind order.Kind, price, qty uint64) Result {
	t.Helper()
	res, err := f.app.SubmitOrder(owner, 1, side, kind, price, qty)
	if err != nil {
		t.Fatalf("SubmitOrder(%s %s %dx%d): %v", kind, side, price, qty, err)
	}
	if err := f.app.Validate(); err != nil {
		t.Fatalf("invariants after submit: %v", err)
	}
	return res
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func hasType(evs []events.Event, typ events.Type) bool {
	for _, e := range evs {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestScenarioA_PartialFill(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, alice, order.Buy, order.Spot, 100, 10)
	res := f.submit(t, bob, order.Sell, order.Spot, 100, 4)

	if len(res.Trades) != 1 || res.Trades[0].Quantity != 4 || res.Trades[0].Price != 100 {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if res.Trades[0].Seq != res.Seq {
		t.Fatalf("trade seq %d, operation seq %d", res.Trades[0].Seq, res.Seq)
	}
	o, err := f.app.Order(buy.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.PartiallyFilled || o.Remaining != 6 {
		t.Fatalf("buy order = %s remaining %d", o.Status, o.Remaining)
	}
	want := []events.Type{events.OrderCreated, events.OrderPartiallyMatched, events.OrderFullyMatched}
	if got := eventTypes(res.Events); len(got) != len(want) || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for _, e := range res.Events {
		if e.Seq != res.Seq {
			t.Fatalf("event %s has seq %d, want %d", e.Type, e.Seq, res.Seq)
		}
	}
	if got := f.sink.Since(buy.Seq); len(got) != len(res.Events) {
		t.Fatalf("sink has %d events after seq %d, want %d", len(got), buy.Seq, len(res.Events))
	}

	book, err := f.app.Book(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Qty != 6 || len(book.Asks) != 0 {
		t.Fatalf("book = %+v", book)
	}
	if trades := f.app.Trades(1, 10); len(trades) != 1 {
		t.Fatalf("trade history = %+v", trades)
	}
}

func TestScenarioB_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 1000))
	before, _ := f.app.MarginAccount(alice)
	seq := f.app.Seq()

	_, err := f.app.SubmitOrder(alice, 1, order.Buy, order.Margin, 5001, 1)
	if !errors.Is(err, apperr.ErrMarginAmountAboveLimit) {
		t.Fatalf("expected ErrMarginAmountAboveLimit, got %v", err)
	}
	after, _ := f.app.MarginAccount(alice)
	if after.Borrowed != before.Borrowed || after.Reserved != 0 || after.Collateral != 1000 {
		t.Fatalf("ledger changed: %+v", after)
	}
	if f.app.Seq() != seq {
		t.Fatal("failed operation consumed a sequence number")
	}
	if after.Capacity != "5000" {
		t.Fatalf("capacity = %s", after.Capacity)
	}

	res := f.submit(t, alice, order.Buy, order.Margin, 4000, 1)
	if res.Order.Reserved != 4000 {
		t.Fatalf("reserved = %d", res.Order.Reserved)
	}
}

// Borrow jumps from 750 to 900 against a capacity of 1000: the account goes
// straight to Called. With no bids the forced close finds no liquidity and the
// account stays Called until a later mutation of it can liquidate.
func TestScenarioC_DirectCallThenLiquidation(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 200))

	f.submit(t, bob, order.Sell, order.Spot, 75, 10)
	res := f.submit(t, alice, order.Buy, order.Margin, 75, 10)
	if hasType(res.Events, events.MarginCallWarning) || hasType(res.Events, events.MarginCalled) {
		t.Fatalf("r=0.75 should stay healthy: %v", eventTypes(res.Events))
	}

	f.submit(t, bob, order.Sell, order.Spot, 15, 10)
	res = f.submit(t, alice, order.Buy, order.Margin, 15, 10)
	if hasType(res.Events, events.MarginCallWarning) {
		t.Fatalf("warning emitted on direct call: %v", eventTypes(res.Events))
	}
	if !hasType(res.Events, events.MarginCalled) {
		t.Fatalf("no MarginCalled: %v", eventTypes(res.Events))
	}
	acc, _ := f.app.MarginAccount(alice)
	if acc.State != margin.Called || acc.Borrowed != 900 || acc.Ratio != "0.900000" {
		t.Fatalf("account = %+v", acc)
	}
	if len(acc.Positions) != 1 || acc.Positions[0].Size != 20 {
		t.Fatalf("positions = %+v", acc.Positions)
	}

	// Liquidity arrives, but carol's order does not touch alice's account.
	f.submit(t, carol, order.Buy, order.Spot, 50, 20)
	if acc, _ := f.app.MarginAccount(alice); acc.State != margin.Called {
		t.Fatalf("state = %s", acc.State)
	}

	res = mustOK(t)(f.app.DepositMargin(alice, 1))
	if !hasType(res.Events, events.PositionClosed) || !hasType(res.Events, events.MarginLiquidated) {
		t.Fatalf("events = %v", eventTypes(res.Events))
	}
	acc, _ = f.app.MarginAccount(alice)
	if acc.State != margin.Liquidated || acc.Borrowed != 0 || acc.Collateral != 301 || len(acc.Positions) != 0 {
		t.Fatalf("after liquidation = %+v", acc)
	}
	ops := f.custody.Ops()
	if len(ops) != 1 || !ops[0].Mint || ops[0].Amount != 100 || ops[0].Owner != alice {
		t.Fatalf("custody ops = %+v", ops)
	}
	if err := f.app.Validate(); err != nil {
		t.Fatal(err)
	}

	res = mustOK(t)(f.app.DepositMargin(alice, 1))
	if !hasType(res.Events, events.MarginRestored) {
		t.Fatalf("cleared account not restored: %v", eventTypes(res.Events))
	}
}

// A deposit that cures a standing call restores the account without
// touching its position, and margin trading resumes.
func TestDepositCuresCall(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 200))
	f.submit(t, bob, order.Sell, order.Spot, 90, 10)
	f.submit(t, alice, order.Buy, order.Margin, 90, 10)
	if acc, _ := f.app.MarginAccount(alice); acc.State != margin.Called {
		t.Fatalf("state = %s", acc.State)
	}

	res := mustOK(t)(f.app.DepositMargin(alice, 300))
	want := []events.Type{events.MarginDeposited, events.MarginRestored}
	if got := eventTypes(res.Events); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	acc, _ := f.app.MarginAccount(alice)
	if acc.State != margin.Healthy || acc.Borrowed != 900 || len(acc.Positions) != 1 || acc.Ratio != "0.360000" {
		t.Fatalf("account = %+v", acc)
	}
	f.submit(t, alice, order.Buy, order.Margin, 10, 10)
}

func TestScenarioD_Pause(t *testing.T) {
	f := newFixture(t)
	res := mustOK(t)(f.app.Pause(admin))
	if got := eventTypes(res.Events); len(got) != 1 || got[0] != events.OperationPaused {
		t.Fatalf("events = %v", got)
	}
	if res := mustOK(t)(f.app.Pause(admin)); len(res.Events) != 0 {
		t.Fatalf("second pause emitted %v", eventTypes(res.Events))
	}

	_, err := f.app.SubmitOrder(alice, 1, order.Buy, order.Spot, 100, 1)
	if !errors.Is(err, apperr.ErrOperationPaused) {
		t.Fatalf("expected ErrOperationPaused, got %v", err)
	}
	if book, _ := f.app.Book(1, 0); len(book.Bids)+len(book.Asks) != 0 {
		t.Fatalf("book changed while paused: %+v", book)
	}
	for name, op := range map[string]func() (Result, error){
		"deposit":  func() (Result, error) { return f.app.DepositMargin(alice, 1) },
		"withdraw": func() (Result, error) { return f.app.WithdrawMargin(alice, 1) },
		"accrue":   f.app.AccrueInterest,
	} {
		if _, err := op(); !errors.Is(err, apperr.ErrOperationPaused) {
			t.Errorf("%s while paused: %v", name, err)
		}
	}
	if !f.app.Paused() {
		t.Fatal("Paused() = false")
	}

	if _, err := f.app.Unpause(alice); !errors.Is(err, apperr.ErrNotConfigOwner) {
		t.Fatalf("non-owner unpause: %v", err)
	}
	mustOK(t)(f.app.Unpause(admin))
	f.submit(t, alice, order.Buy, order.Spot, 100, 1)
}

func TestScenarioE_AssetInUse(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, alice, order.Buy, order.Spot, 100, 1)

	if _, err := f.app.RemoveAsset(admin, 1); !errors.Is(err, apperr.ErrAssetInUse) {
		t.Fatalf("expected ErrAssetInUse, got %v", err)
	}
	if _, err := f.app.RemovePair(admin, 1); !errors.Is(err, apperr.ErrPairInUse) {
		t.Fatalf("expected ErrPairInUse, got %v", err)
	}
	if got := len(f.app.Assets()); got != 2 {
		t.Fatalf("assets = %d", got)
	}

	mustOK(t)(f.app.CancelOrder(alice, res.Order.ID))
	if _, err := f.app.RemoveAsset(admin, 1); !errors.Is(err, apperr.ErrAssetInUse) {
		t.Fatalf("asset still listed in pair 1: %v", err)
	}
	mustOK(t)(f.app.RemovePair(admin, 1))
	mustOK(t)(f.app.RemoveAsset(admin, 1))
	if _, err := f.app.Pair(1); !errors.Is(err, apperr.ErrPairNotListed) {
		t.Fatalf("pair lookup: %v", err)
	}
	res2, err := f.app.AddPair(admin, market.Pair{Base: 2, Quote: 3})
	if !errors.Is(err, apperr.ErrNotListed) || res2.PairID != 0 {
		t.Fatalf("pair on unlisted asset: %d %v", res2.PairID, err)
	}
}

func TestAdminOperationsRequireOwner(t *testing.T) {
	f := newFixture(t)
	ops := map[string]func() (Result, error){
		"add asset":     func() (Result, error) { return f.app.AddAsset(alice, market.Asset{ID: 3, Symbol: "BTC"}) },
		"remove asset":  func() (Result, error) { return f.app.RemoveAsset(alice, 1) },
		"add pair":      func() (Result, error) { return f.app.AddPair(alice, market.Pair{Base: 2, Quote: 1}) },
		"remove pair":   func() (Result, error) { return f.app.RemovePair(alice, 1) },
		"update config": func() (Result, error) { return f.app.UpdateConfig(alice, exchange.DefaultConfig(alice)) },
		"pause":         func() (Result, error) { return f.app.Pause(alice) },
	}
	for name, op := range ops {
		if _, err := op(); !errors.Is(err, apperr.ErrNotConfigOwner) {
			t.Errorf("%s: expected ErrNotConfigOwner, got %v", name, err)
		}
	}
}

func TestRepeatCancelFailsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, alice, order.Sell, order.Spot, 100, 3)
	id := res.Order.ID

	if _, err := f.app.CancelOrder(bob, id); !errors.Is(err, apperr.ErrNotOrderOwner) {
		t.Fatalf("foreign cancel: %v", err)
	}
	res = mustOK(t)(f.app.CancelOrder(alice, id))
	if res.Order.Status != order.Cancelled {
		t.Fatalf("status = %s", res.Order.Status)
	}
	seq := f.app.Seq()
	if _, err := f.app.CancelOrder(alice, id); !errors.Is(err, apperr.ErrOrderNotCancellable) {
		t.Fatalf("second cancel: %v", err)
	}
	if f.app.Seq() != seq {
		t.Fatal("rejected cancel consumed a sequence number")
	}

	filled := f.submit(t, alice, order.Sell, order.Spot, 100, 2)
	f.submit(t, bob, order.Buy, order.Spot, 100, 2)
	if _, err := f.app.CancelOrder(alice, filled.Order.ID); !errors.Is(err, apperr.ErrOrderNotCancellable) {
		t.Fatalf("cancel filled: %v", err)
	}
	if _, err := f.app.CancelOrder(alice, 999); !errors.Is(err, apperr.ErrOrderNotFound) {
		t.Fatalf("cancel unknown: %v", err)
	}
}

func TestModifyOrder(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 100))
	res := f.submit(t, alice, order.Buy, order.Margin, 10, 40)

	res = mustOK(t)(f.app.ModifyOrder(alice, res.Order.ID, 25))
	if res.Order.Remaining != 25 || res.Order.Quantity != 25 || res.Order.Reserved != 250 {
		t.Fatalf("modified order = %+v", res.Order)
	}
	if acc, _ := f.app.MarginAccount(alice); acc.Borrowed != 250 || acc.Reserved != 250 {
		t.Fatalf("account = %+v", acc)
	}
	if _, err := f.app.ModifyOrder(alice, res.Order.ID, 30); !errors.Is(err, apperr.ErrVolumeAboveLimit) {
		t.Fatalf("increase: %v", err)
	}
	if _, err := f.app.ModifyOrder(alice, res.Order.ID, 0); !errors.Is(err, apperr.ErrVolumeBelowLimit) {
		t.Fatalf("zero: %v", err)
	}
}

func TestWithdrawAndRepay(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 1000))
	f.submit(t, bob, order.Sell, order.Spot, 100, 30)
	f.submit(t, alice, order.Buy, order.Margin, 100, 30)

	// Debt 3000 needs collateral of at least 600.
	if _, err := f.app.WithdrawMargin(alice, 401); !errors.Is(err, apperr.ErrDepositBelowLimit) {
		t.Fatalf("over-withdraw: %v", err)
	}
	mustOK(t)(f.app.WithdrawMargin(alice, 100))

	if _, err := f.app.RepayMargin(alice, 10); !errors.Is(err, apperr.ErrMarginAmountBelowLimit) {
		t.Fatalf("repay with nothing owed: %v", err)
	}
	res := mustOK(t)(f.app.AccrueInterest())
	if len(res.Events) != 1 || res.Events[0].Type != events.InterestAccrued || res.Events[0].Amount != 3 {
		t.Fatalf("accrual events = %+v", res.Events)
	}
	res = mustOK(t)(f.app.RepayMargin(alice, 10))
	if res.Amount != 3 {
		t.Fatalf("repaid %d, want 3", res.Amount)
	}
	acc, _ := f.app.MarginAccount(alice)
	if acc.Interest != 0 || acc.Collateral != 897 {
		t.Fatalf("account = %+v", acc)
	}
}

func TestUpdateConfigReevaluatesAccounts(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 1000))
	f.submit(t, bob, order.Sell, order.Spot, 100, 30)
	f.submit(t, alice, order.Buy, order.Margin, 100, 30)

	cfg := f.app.Config()
	cfg.MarginMultiplier = decimal.RequireFromString("3.5")
	res := mustOK(t)(f.app.UpdateConfig(admin, cfg))
	want := []events.Type{events.ConfigUpdated, events.MarginCallWarning}
	if got := eventTypes(res.Events); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if !f.app.Config().MarginMultiplier.Equal(decimal.RequireFromString("3.5")) {
		t.Fatal("config not applied")
	}

	bad := cfg
	bad.CompoundEvery = 0
	if _, err := f.app.UpdateConfig(admin, bad); !errors.Is(err, apperr.ErrInvalidConfig) {
		t.Fatalf("invalid config: %v", err)
	}
	if f.app.Config().CompoundEvery != cfg.CompoundEvery {
		t.Fatal("invalid config partially applied")
	}
}

func TestClosePosition(t *testing.T) {
	f := newFixture(t)
	mustOK(t)(f.app.DepositMargin(alice, 1000))
	f.submit(t, bob, order.Sell, order.Spot, 100, 10)
	f.submit(t, alice, order.Buy, order.Margin, 100, 10)

	if _, err := f.app.ClosePosition(alice, 1, order.Sell); !errors.Is(err, apperr.ErrNoPosition) {
		t.Fatalf("close missing side: %v", err)
	}
	f.submit(t, carol, order.Buy, order.Spot, 90, 10)
	res := mustOK(t)(f.app.ClosePosition(alice, 1, order.Buy))
	if res.Amount != 10 || len(res.Settlements) != 1 || res.Settlements[0].Loss != 100 {
		t.Fatalf("close result = %+v", res)
	}
	acc, _ := f.app.MarginAccount(alice)
	if acc.Collateral != 900 || acc.Borrowed != 0 || len(acc.Positions) != 0 {
		t.Fatalf("account = %+v", acc)
	}
	ops := f.custody.Ops()
	if len(ops) != 1 || ops[0].Mint || ops[0].Amount != 100 {
		t.Fatalf("custody ops = %+v", ops)
	}
}

// A margin order filled at a better price than its limit borrows only what it
// paid, so opening and closing at the same traded price costs no collateral.
func TestRoundTripAtTradedPriceKeepsCollateral(t *testing.T) {
	tests := []struct {
		name          string
		side          order.Side
		limit, traded uint64
	}{
		{"long filled below limit", order.Buy, 100, 90},
		{"short filled above limit", order.Sell, 90, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			mustOK(t)(f.app.DepositMargin(alice, 1000))
			f.submit(t, bob, tt.side.Opposite(), order.Spot, tt.traded, 10)
			res := f.submit(t, alice, tt.side, order.Margin, tt.limit, 10)
			if len(res.Trades) != 1 || res.Trades[0].Price != tt.traded {
				t.Fatalf("trades = %+v", res.Trades)
			}

			acc, _ := f.app.MarginAccount(alice)
			if acc.Borrowed != tt.traded*10 || acc.Reserved != 0 {
				t.Fatalf("after open: %+v", acc)
			}
			if len(acc.Positions) != 1 || acc.Positions[0].Borrowed != tt.traded*10 {
				t.Fatalf("positions = %+v", acc.Positions)
			}

			f.submit(t, carol, tt.side, order.Spot, tt.traded, 10)
			res = mustOK(t)(f.app.ClosePosition(alice, 1, tt.side))
			if len(res.Settlements) != 1 || res.Settlements[0].Profit != 0 || res.Settlements[0].Loss != 0 {
				t.Fatalf("settlements = %+v", res.Settlements)
			}
			acc, _ = f.app.MarginAccount(alice)
			if acc.Collateral != 1000 || acc.Borrowed != 0 || len(acc.Positions) != 0 {
				t.Fatalf("after close: %+v", acc)
			}
			if ops := f.custody.Ops(); len(ops) != 0 {
				t.Fatalf("custody ops = %+v", ops)
			}
		})
	}
}

func TestOrdersOf(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, alice, order.Buy, order.Spot, 90, 1)
	f.submit(t, alice, order.Buy, order.Spot, 91, 1)
	mustOK(t)(f.app.CancelOrder(alice, a.Order.ID))

	if got := f.app.OrdersOf(alice, false); len(got) != 2 {
		t.Fatalf("all orders = %d", len(got))
	}
	open := f.app.OrdersOf(alice, true)
	if len(open) != 1 || open[0].Price != 91 {
		t.Fatalf("open orders = %+v", open)
	}
	snap := f.app.Snapshot()
	if snap.Orders != 2 || snap.Open != 1 || snap.Pairs != 1 || snap.Assets != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

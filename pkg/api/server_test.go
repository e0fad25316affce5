package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/mempool"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/app/spot"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
)

var (
	admin = common.HexToAddress("0x9999999999999999999999999999999999999999")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type memJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *memJournal) Append(line string) {
	j.mu.Lock()
	j.lines = append(j.lines, line)
	j.mu.Unlock()
}

type fixture struct {
	app      *spot.App
	srv      *Server
	journal  *memJournal
	aliceKey *crypto.Signer
	alice    common.Address
}

// newFixture lists ETH/USDC as pair 1, rests a 100x2 ask and a 90x1 bid, and
// leaves alice with a 3 ETH margin long borrowed at 300.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	app, err := spot.NewApp(spot.Options{Config: exchange.DefaultConfig(admin)})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{app: app, journal: &memJournal{}, aliceKey: key, alice: key.Address()}
	f.srv = NewServer(app, NewHub(zap.NewNop().Sugar()), f.journal, zap.NewNop().Sugar())

	steps := []func() (spot.Result, error){
		func() (spot.Result, error) { return app.AddAsset(admin, market.Asset{ID: 1, Symbol: "ETH", Decimals: 18}) },
		func() (spot.Result, error) { return app.AddAsset(admin, market.Asset{ID: 2, Symbol: "USDC", Decimals: 6}) },
		func() (spot.Result, error) { return app.AddPair(admin, market.Pair{Base: 1, Quote: 2}) },
		func() (spot.Result, error) { return app.DepositMargin(f.alice, 1000) },
		func() (spot.Result, error) { return app.SubmitOrder(bob, 1, order.Sell, order.Spot, 100, 5) },
		func() (spot.Result, error) { return app.SubmitOrder(f.alice, 1, order.Buy, order.Margin, 100, 3) },
		func() (spot.Result, error) { return app.SubmitOrder(f.alice, 1, order.Buy, order.Spot, 90, 1) },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("setup step %d: %v", i, err)
		}
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestGetPairsResolvesSymbols(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/api/v1/pairs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	pairs := decode[[]PairInfo](t, rec)
	if len(pairs) != 1 || pairs[0].BaseSymbol != "ETH" || pairs[0].QuoteSymbol != "USDC" {
		t.Fatalf("pairs = %+v", pairs)
	}

	assets := decode[[]AssetInfo](t, f.do(t, "GET", "/api/v1/assets", nil))
	if len(assets) != 2 {
		t.Fatalf("assets = %+v", assets)
	}
}

func TestGetBook(t *testing.T) {
	f := newFixture(t)
	book := decode[OrderbookSnapshot](t, f.do(t, "GET", "/api/v1/pairs/1/book", nil))
	if len(book.Bids) != 1 || book.Bids[0].Price != 90 || book.Bids[0].Size != 1 {
		t.Fatalf("bids = %+v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Price != 100 || book.Asks[0].Size != 2 || book.Asks[0].Orders != 1 {
		t.Fatalf("asks = %+v", book.Asks)
	}
}

func TestGetTradesReportsTakerSide(t *testing.T) {
	f := newFixture(t)
	trades := decode[[]TradeInfo](t, f.do(t, "GET", "/api/v1/pairs/1/trades?limit=10", nil))
	if len(trades) != 1 {
		t.Fatalf("trades = %+v", trades)
	}
	if tr := trades[0]; tr.Side != "buy" || tr.Size != 3 || tr.Price != 100 || tr.SellOrder != 1 || tr.BuyOrder != 2 {
		t.Fatalf("trade = %+v", tr)
	}
}

func TestGetMarginAccount(t *testing.T) {
	f := newFixture(t)
	acc := decode[MarginAccountInfo](t, f.do(t, "GET", "/api/v1/accounts/"+f.alice.Hex()+"/margin", nil))
	if acc.Collateral != 1000 || acc.Borrowed != 300 || acc.State != "healthy" {
		t.Fatalf("account = %+v", acc)
	}
	if acc.Ratio != "0.060000" || acc.Capacity != "5000" {
		t.Fatalf("ratio = %s capacity = %s", acc.Ratio, acc.Capacity)
	}
	if len(acc.Positions) != 1 || acc.Positions[0].Side != "buy" || acc.Positions[0].Size != 3 {
		t.Fatalf("positions = %+v", acc.Positions)
	}

	empty := decode[MarginAccountInfo](t, f.do(t, "GET", "/api/v1/accounts/"+bob.Hex()+"/margin", nil))
	if empty.Collateral != 0 || empty.State != "healthy" || empty.Capacity != "0" || len(empty.Positions) != 0 {
		t.Fatalf("empty account = %+v", empty)
	}

	if rec := f.do(t, "GET", "/api/v1/accounts/alice/margin", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address status = %d", rec.Code)
	}
}

func TestGetOrders(t *testing.T) {
	f := newFixture(t)
	all := decode[[]OrderInfo](t, f.do(t, "GET", "/api/v1/accounts/"+f.alice.Hex()+"/orders", nil))
	if len(all) != 2 || all[0].Kind != "margin" || all[0].Status != "filled" || all[0].Filled != 3 {
		t.Fatalf("orders = %+v", all)
	}
	open := decode[[]OrderInfo](t, f.do(t, "GET", "/api/v1/accounts/"+f.alice.Hex()+"/orders?status=open", nil))
	if len(open) != 1 || open[0].ID != 3 {
		t.Fatalf("open orders = %+v", open)
	}

	o := decode[OrderInfo](t, f.do(t, "GET", "/api/v1/orders/1", nil))
	if o.Owner != bob.Hex() || o.Remaining != 2 || o.Status != "partially_filled" {
		t.Fatalf("order 1 = %+v", o)
	}
}

func TestNotFoundAndBadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/pairs/9", http.StatusNotFound},
		{"/api/v1/pairs/9/book", http.StatusNotFound},
		{"/api/v1/pairs/9/trades", http.StatusNotFound},
		{"/api/v1/orders/99", http.StatusNotFound},
		{"/api/v1/pairs/1/book?depth=x", http.StatusBadRequest},
		{"/api/v1/pairs/1/trades?limit=-1", http.StatusBadRequest},
		{"/health", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := f.do(t, "GET", tt.path, nil); rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
}

func signed(t *testing.T, key *crypto.Signer, typ transaction.TxType, nonce uint64, payload any) []byte {
	t.Helper()
	tx, err := transaction.New(typ, common.Address{}, nonce, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := transaction.NewVerifier(crypto.DefaultDomain()).Sign(key, tx); err != nil {
		t.Fatal(err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestSubmitTx(t *testing.T) {
	f := newFixture(t)

	raw := signed(t, f.aliceKey, transaction.TxDeposit, 1, transaction.AmountPayload{Amount: 50})
	rec := f.do(t, "POST", "/api/v1/tx", raw)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decode[SubmitTxResponse](t, rec)
	if resp.Status != "accepted" || resp.Type != "deposit" || resp.Nonce != 1 || resp.Owner != f.alice.Hex() {
		t.Fatalf("response = %+v", resp)
	}
	if f.app.PendingTxs() != 1 || len(f.journal.lines) != 1 || f.journal.lines[0] != string(raw) {
		t.Fatalf("pending = %d journal = %v", f.app.PendingTxs(), f.journal.lines)
	}

	forged := bytes.Replace(raw, []byte(`"amount":50`), []byte(`"amount":5000`), 1)
	tests := []struct {
		name  string
		body  []byte
		code  int
		group string
	}{
		{"garbage", []byte("O:GTC:BTC"), http.StatusBadRequest, ""},
		{"system tx", []byte(`{"type":"accrue_interest","nonce":0}`), http.StatusForbidden, ""},
		{"forged payload", forged, http.StatusUnauthorized, "authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/v1/tx", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec); got.Group != tt.group {
				t.Fatalf("group = %q, want %q", got.Group, tt.group)
			}
		})
	}
	if len(f.journal.lines) != 1 {
		t.Fatalf("rejected transactions journaled: %d", len(f.journal.lines))
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("pair 9: %w", apperr.ErrPairNotListed), http.StatusNotFound},
		{fmt.Errorf("asset 1: %w", apperr.ErrAlreadyListed), http.StatusConflict},
		{apperr.ErrVolumeBelowLimit, http.StatusBadRequest},
		{apperr.ErrNotConfigOwner, http.StatusUnauthorized},
		{apperr.ErrOperationPaused, http.StatusConflict},
		{apperr.ErrOrderNotFound, http.StatusNotFound},
		{apperr.ErrMarginAmountAboveLimit, http.StatusUnprocessableEntity},
		{apperr.ErrStorageOverflow, http.StatusServiceUnavailable},
		{mempool.ErrFull, http.StatusServiceUnavailable},
		{fmt.Errorf("accrue_interest: %w", spot.ErrSystemTx), http.StatusForbidden},
		{errors.New("unexpected end of JSON input"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

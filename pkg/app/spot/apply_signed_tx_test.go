package spot

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/abci"
	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/chain"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
	"github.com/uhyunpark/spotmargin/pkg/storage"
	"github.com/uhyunpark/spotmargin/pkg/util"
)

type wallet struct {
	key   *crypto.Signer
	nonce uint64
}

type signedFixture struct {
	verifier          *transaction.Verifier
	admin, alice, bob *wallet
}

func newSignedFixture(t *testing.T) *signedFixture {
	t.Helper()
	newWallet := func() *wallet {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		return &wallet{key: key}
	}
	return &signedFixture{
		verifier: transaction.NewVerifier(crypto.DefaultDomain()),
		admin:    newWallet(),
		alice:    newWallet(),
		bob:      newWallet(),
	}
}

func (s *signedFixture) newApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(Options{Config: exchange.DefaultConfig(s.admin.key.Address())})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}

// tx signs payload with the wallet's next nonce.
func (s *signedFixture) tx(t *testing.T, w *wallet, typ transaction.TxType, payload any) []byte {
	t.Helper()
	w.nonce++
	tx, err := transaction.New(typ, common.Address{}, w.nonce, payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.verifier.Sign(w.key, tx); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return raw
}

func (s *signedFixture) genesisTxs(t *testing.T) [][]byte {
	return [][]byte{
		s.tx(t, s.admin, transaction.TxAddAsset, transaction.AssetPayload{ID: 1, Symbol: "ETH", Decimals: 18}),
		s.tx(t, s.admin, transaction.TxAddAsset, transaction.AssetPayload{ID: 2, Symbol: "USDC", Decimals: 6}),
		s.tx(t, s.admin, transaction.TxAddPair, transaction.PairPayload{Base: 1, Quote: 2}),
		s.tx(t, s.alice, transaction.TxDeposit, transaction.AmountPayload{Amount: 1000}),
		s.tx(t, s.bob, transaction.TxOrder, transaction.OrderPayload{Pair: 1, Side: "sell", Kind: "spot", Price: 100, Quantity: 5}),
		s.tx(t, s.alice, transaction.TxOrder, transaction.OrderPayload{Pair: 1, Side: "buy", Kind: "margin", Price: 100, Quantity: 5}),
	}
}

func requireSuccess(t *testing.T, resp abci.ResponseFinalizeBlock) {
	t.Helper()
	for i, r := range resp.TxResults {
		if r.Code != 0 {
			t.Fatalf("tx %d failed: code=%d group=%s log=%s", i, r.Code, r.Group, r.Log)
		}
	}
}

func TestFinalizeBlockAppliesSignedTxs(t *testing.T) {
	s := newSignedFixture(t)
	app := s.newApp(t)

	resp := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 1700000000, Txs: s.genesisTxs(t)})
	requireSuccess(t, resp)
	if len(resp.TxResults) != 6 {
		t.Fatalf("results = %d", len(resp.TxResults))
	}

	acc, ok := app.MarginAccount(s.alice.key.Address())
	if !ok || len(acc.Positions) != 1 || acc.Positions[0].Size != 5 || acc.Borrowed != 500 {
		t.Fatalf("alice = %+v", acc)
	}
	if acc.Nonce != 2 || app.Nonce(s.bob.key.Address()) != 1 {
		t.Fatalf("nonces alice=%d bob=%d", acc.Nonce, app.Nonce(s.bob.key.Address()))
	}
	if app.Height() != 1 {
		t.Fatalf("height = %d", app.Height())
	}
	if err := app.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	s := newSignedFixture(t)
	block := abci.RequestFinalizeBlock{Height: 1, Timestamp: 1700000000, Txs: s.genesisTxs(t)}

	a, b := s.newApp(t), s.newApp(t)
	ha := a.FinalizeBlock(block).AppHash
	hb := b.FinalizeBlock(block).AppHash
	if ha != hb {
		t.Fatalf("app hashes differ: %s vs %s", ha, hb)
	}

	next := abci.RequestFinalizeBlock{Height: 2, Timestamp: 1700000001, Txs: [][]byte{abci.AccrueInterestTx}}
	ha, hb = a.FinalizeBlock(next).AppHash, b.FinalizeBlock(next).AppHash
	if ha != hb {
		t.Fatal("app hashes diverged after accrual")
	}
	// 500 * 0.001 floors to 0
	if acc, _ := a.MarginAccount(s.alice.key.Address()); acc.Interest != 0 {
		t.Fatalf("interest = %d", acc.Interest)
	}

	c := s.newApp(t)
	c.FinalizeBlock(block)
	if hc := c.FinalizeBlock(abci.RequestFinalizeBlock{Height: 2, Timestamp: 1700000002}).AppHash; hc == ha {
		t.Fatal("different blocks produced the same app hash")
	}
}

func TestNonceReplayAndConsumption(t *testing.T) {
	s := newSignedFixture(t)
	app := s.newApp(t)
	genesis := s.genesisTxs(t)
	requireSuccess(t, app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Txs: genesis}))

	replayed := genesis[3]
	withdraw := s.tx(t, s.alice, transaction.TxWithdraw, transaction.AmountPayload{Amount: 1 << 40})
	resp := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 2, Txs: [][]byte{replayed, withdraw}})

	if r := resp.TxResults[0]; r.Group != apperr.GroupAuthorization.String() || r.Code != uint32(apperr.GroupAuthorization)+1 {
		t.Fatalf("replay result = %+v", r)
	}
	if r := resp.TxResults[1]; r.Group != apperr.GroupValidation.String() {
		t.Fatalf("withdraw result = %+v", r)
	}
	if n := app.Nonce(s.alice.key.Address()); n != 3 {
		t.Fatalf("failed operation did not consume nonce: %d", n)
	}
	if acc, _ := app.MarginAccount(s.alice.key.Address()); acc.Collateral != 1000 {
		t.Fatalf("replayed deposit applied: %d", acc.Collateral)
	}
}

func TestSignedAdminRequiresOwner(t *testing.T) {
	s := newSignedFixture(t)
	app := s.newApp(t)
	raw := s.tx(t, s.alice, transaction.TxPause, nil)
	resp := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Txs: [][]byte{raw}})
	if resp.TxResults[0].Group != apperr.GroupAuthorization.String() || app.Paused() {
		t.Fatalf("result = %+v paused=%v", resp.TxResults[0], app.Paused())
	}

	cfg := ConfigPayload(app.Config())
	cfg.MarginMultiplier = "2"
	raw = s.tx(t, s.admin, transaction.TxUpdateConfig, cfg)
	requireSuccess(t, app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 2, Txs: [][]byte{raw}}))
	if got := app.Config().MarginMultiplier.String(); got != "2" {
		t.Fatalf("multiplier = %s", got)
	}

	cfg.InterestRate = "lots"
	raw = s.tx(t, s.admin, transaction.TxUpdateConfig, cfg)
	resp = app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 3, Txs: [][]byte{raw}})
	if resp.TxResults[0].Group != apperr.GroupValidation.String() {
		t.Fatalf("bad rate result = %+v", resp.TxResults[0])
	}
}

func TestPushTx(t *testing.T) {
	s := newSignedFixture(t)
	app := s.newApp(t)

	if err := app.PushTx(abci.AccrueInterestTx); !errors.Is(err, ErrSystemTx) {
		t.Fatalf("system tx accepted: %v", err)
	}
	if err := app.PushTx([]byte(`{"type":"deposit","payload":{"amount":1},"nonce":1,"owner":"0x1111111111111111111111111111111111111111"}`)); err == nil {
		t.Fatal("unsigned tx accepted")
	}
	forged := s.tx(t, s.alice, transaction.TxDeposit, transaction.AmountPayload{Amount: 5})
	tx, _ := transaction.ParseTransaction(forged)
	tx.Owner = s.bob.key.Address().Hex()
	forged, _ = tx.Serialize()
	if err := app.PushTx(forged); !errors.Is(err, apperr.ErrInvalidSignature) {
		t.Fatalf("forged owner: %v", err)
	}

	good := s.tx(t, s.alice, transaction.TxDeposit, transaction.AmountPayload{Amount: 5})
	if err := app.PushTx(good); err != nil {
		t.Fatalf("PushTx: %v", err)
	}
	if app.PendingTxs() != 1 {
		t.Fatalf("pending = %d", app.PendingTxs())
	}
	prop := app.PrepareProposal(abci.RequestPrepareProposal{Height: 1, MaxTxBytes: 1 << 20})
	if len(prop.Txs) != 1 || !app.ProcessProposal(abci.RequestProcessProposal{Height: 1, Txs: prop.Txs}).Accept {
		t.Fatalf("proposal = %d txs", len(prop.Txs))
	}
	if app.ProcessProposal(abci.RequestProcessProposal{Height: 1, Txs: [][]byte{[]byte("O:GTC:BTC")}}).Accept {
		t.Fatal("garbage proposal accepted")
	}
}

func TestProducerReplayRestoresState(t *testing.T) {
	s := newSignedFixture(t)
	store, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	log := zap.NewNop().Sugar()
	clock := util.NewManualClock(time.Unix(1700000000, 0))

	first := s.newApp(t)
	bridge := &abci.Bridge{App: first, InterestEvery: 2}
	producer := chain.NewProducer(store, bridge, clock, time.Second, log)
	for _, raw := range s.genesisTxs(t) {
		if err := first.PushTx(raw); err != nil {
			t.Fatalf("PushTx: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		if _, err := producer.ProduceBlock(); err != nil {
			t.Fatalf("ProduceBlock: %v", err)
		}
	}

	second := s.newApp(t)
	replayer := chain.NewProducer(store, &abci.Bridge{App: second, InterestEvery: 2}, clock, time.Second, log)
	h, err := replayer.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if h != 3 || replayer.Head().AppHash != producer.Head().AppHash {
		t.Fatalf("replayed to %d with %s, want 3 with %s", h, replayer.Head().AppHash, producer.Head().AppHash)
	}
	a, _ := first.MarginAccount(s.alice.key.Address())
	b, _ := second.MarginAccount(s.alice.key.Address())
	if a.Borrowed != b.Borrowed || a.Collateral != b.Collateral || len(b.Positions) != 1 {
		t.Fatalf("replayed account %+v, original %+v", b, a)
	}
}

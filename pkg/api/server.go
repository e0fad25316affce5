// Package api serves the ledger over REST and pushes its events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/mempool"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/app/spot"
	"github.com/uhyunpark/spotmargin/pkg/chain"
)

const (
	maxTxBody         = 64 << 10
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
)

// Ledger is the part of the application the API reads and submits to.
type Ledger interface {
	Config() exchange.Config
	Paused() bool
	Assets() []market.Asset
	Pairs() []market.Pair
	Pair(id uint32) (market.Pair, error)
	Order(id uint64) (order.Order, error)
	OrdersOf(owner common.Address, openOnly bool) []order.Order
	Book(pair uint32, depth int) (spot.BookView, error)
	Trades(pair uint32, limit int) []order.Trade
	MarginAccount(owner common.Address) (spot.AccountView, bool)
	Height() int64
	Seq() uint64

	PushTx(b []byte) error
	PendingTxs() int
}

var _ Ledger = (*spot.App)(nil)

// Server handles REST requests and WebSocket connections.
type Server struct {
	ledger  Ledger
	router  *mux.Router
	hub     *Hub
	journal chain.WAL
	log     *zap.SugaredLogger

	allowedOrigins []string
}

// NewServer wires routes. journal receives every accepted transaction, one
// JSON document per line; nil disables journaling.
func NewServer(ledger Ledger, hub *Hub, journal chain.WAL, log *zap.SugaredLogger) *Server {
	if journal == nil {
		journal = nopJournal{}
	}
	s := &Server{
		ledger:         ledger,
		router:         mux.NewRouter(),
		hub:            hub,
		journal:        journal,
		log:            log,
		allowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
	}
	s.setupRoutes()
	return s
}

type nopJournal struct{}

func (nopJournal) Append(string) {}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/pairs/{id:[0-9]+}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}/margin", s.handleGetMarginAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")

	// Every action is a signed transaction; see transaction.SignedTransaction.
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.ledger.Config()
	respondJSON(w, ConfigInfo{
		Owner:            cfg.Owner.Hex(),
		MinVolume:        cfg.MinVolume,
		MaxVolume:        cfg.MaxVolume,
		MarginMultiplier: cfg.MarginMultiplier.String(),
		InterestRate:     cfg.InterestRate.String(),
		CompoundEvery:    cfg.CompoundEvery,
		MaxDeposit:       cfg.MaxDeposit,
		Paused:           s.ledger.Paused(),
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      s.ledger.Height(),
		Seq:         s.ledger.Seq(),
		MempoolSize: s.ledger.PendingTxs(),
		Paused:      s.ledger.Paused(),
	})
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.ledger.Assets()
	out := make([]AssetInfo, len(assets))
	for i, a := range assets {
		out[i] = AssetInfo{ID: a.ID, Symbol: a.Symbol, Decimals: a.Decimals}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	symbols := s.assetSymbols()
	pairs := s.ledger.Pairs()
	out := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		out[i] = pairInfo(p, symbols)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	id, ok := pairID(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.Pair(id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, pairInfo(p, s.assetSymbols()))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pairID(w, r)
	if !ok {
		return
	}
	depth, ok := intQuery(w, r, "depth", 0, 0)
	if !ok {
		return
	}
	book, err := s.ledger.Book(id, depth)
	if err != nil {
		respondAppError(w, err)
		return
	}
	snap := OrderbookSnapshot{
		Pair:   id,
		Bids:   make([]PriceLevel, len(book.Bids)),
		Asks:   make([]PriceLevel, len(book.Asks)),
		Height: s.ledger.Height(),
	}
	for i, l := range book.Bids {
		snap.Bids[i] = PriceLevel{Price: l.Price, Size: l.Qty, Orders: l.Count}
	}
	for i, l := range book.Asks {
		snap.Asks[i] = PriceLevel{Price: l.Price, Size: l.Qty, Orders: l.Count}
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := pairID(w, r)
	if !ok {
		return
	}
	if _, err := s.ledger.Pair(id); err != nil {
		respondAppError(w, err)
		return
	}
	limit, ok := intQuery(w, r, "limit", defaultTradeLimit, maxTradeLimit)
	if !ok {
		return
	}
	trades := s.ledger.Trades(id, limit)
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.ledger.Order(id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetMarginAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	// Unknown owners read as an empty healthy account.
	view, _ := s.ledger.MarginAccount(addr)
	info := MarginAccountInfo{
		Address:    addr.Hex(),
		Collateral: view.Collateral,
		Borrowed:   view.Borrowed,
		Reserved:   view.Reserved,
		Interest:   view.Interest,
		State:      view.State.String(),
		Ratio:      view.Ratio,
		Capacity:   view.Capacity,
		Nonce:      view.Nonce,
		Positions:  make([]PositionInfo, len(view.Positions)),
	}
	if info.Capacity == "" {
		info.Capacity = "0"
	}
	for i, p := range view.Positions {
		info.Positions[i] = PositionInfo{Pair: p.Pair, Side: p.Side.String(), Size: p.Size, Borrowed: p.Borrowed}
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	openOnly := r.URL.Query().Get("status") == "open"
	orders := s.ledger.OrdersOf(addr, openOnly)
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "failed to read body", err.Error())
		return
	}
	if err := s.ledger.PushTx(body); err != nil {
		s.log.Debugw("tx_rejected", "error", err)
		respondAppError(w, err)
		return
	}
	s.journal.Append(string(body))

	// PushTx has already parsed and verified the envelope.
	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondAppError(w, err)
		return
	}
	s.log.Debugw("tx_accepted", "type", tx.Type, "owner", tx.Owner, "nonce", tx.Nonce, "bytes", len(body))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{
		Status: "accepted",
		Type:   string(tx.Type),
		Owner:  tx.Owner,
		Nonce:  tx.Nonce,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) assetSymbols() map[uint32]string {
	out := make(map[uint32]string)
	for _, a := range s.ledger.Assets() {
		out[a.ID] = a.Symbol
	}
	return out
}

func pairInfo(p market.Pair, symbols map[uint32]string) PairInfo {
	return PairInfo{
		ID:          p.ID,
		Base:        p.Base,
		Quote:       p.Quote,
		BaseSymbol:  symbols[p.Base],
		QuoteSymbol: symbols[p.Quote],
		MinVolume:   p.MinVolume,
		MaxVolume:   p.MaxVolume,
	}
}

func orderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Pair:      o.Pair,
		Side:      o.Side.String(),
		Kind:      o.Kind.String(),
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Executed(),
		Remaining: o.Remaining,
		Reserved:  o.Reserved,
		Status:    o.Status.String(),
	}
}

func tradeInfo(t order.Trade) TradeInfo {
	side := order.Sell
	if t.Taker == t.BuyOrder {
		side = order.Buy
	}
	return TradeInfo{
		ID:        t.ID,
		Seq:       t.Seq,
		Pair:      t.Pair,
		Price:     t.Price,
		Size:      t.Quantity,
		Side:      side.String(),
		BuyOrder:  t.BuyOrder,
		SellOrder: t.SellOrder,
	}
}

func pairID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair id", err.Error())
		return 0, false
	}
	return uint32(id), true
}

func address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// intQuery reads a non-negative integer parameter, clamped to max when max > 0.
func intQuery(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name, raw)
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}

// StatusOf maps a ledger error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, spot.ErrSystemTx):
		return http.StatusForbidden
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrAlreadyListed), errors.Is(err, apperr.ErrAssetInUse), errors.Is(err, apperr.ErrPairInUse):
		return http.StatusConflict
	}
	switch apperr.GroupOf(err) {
	case apperr.GroupRegistry:
		return http.StatusNotFound
	case apperr.GroupValidation:
		return http.StatusBadRequest
	case apperr.GroupAuthorization:
		return http.StatusUnauthorized
	case apperr.GroupState:
		if errors.Is(err, apperr.ErrOrderNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case apperr.GroupCapacity:
		return http.StatusUnprocessableEntity
	case apperr.GroupResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondAppError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	resp := ErrorResponse{Error: http.StatusText(status), Message: err.Error()}
	if g := apperr.GroupOf(err); g != apperr.GroupUnknown {
		resp.Group = g.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}

// Package spot is the ledger application: it owns the exchange state,
// serializes every operation and turns committed blocks into state changes.
package spot

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/abci"
	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/margincall"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/matching"
	"github.com/uhyunpark/spotmargin/pkg/app/core/mempool"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
	"github.com/uhyunpark/spotmargin/pkg/custody"
	"github.com/uhyunpark/spotmargin/pkg/eventlog"
)

// Options wires an App. Zero values get working defaults.
type Options struct {
	Config      exchange.Config
	Domain      crypto.EIP712Domain
	MempoolSize int

	Sink      eventlog.Sink
	Custodian custody.Custodian
	Logger    *zap.SugaredLogger
}

// App is the single writer of ledger state. Mutations take the write lock
// for their whole duration, including matching, liquidation and margin
// re-evaluation; queries take the read lock.
type App struct {
	mu sync.RWMutex

	registry *market.Registry
	control  *exchange.Control
	ledger   *margin.Ledger
	engine   *matching.Engine
	monitor  *margincall.Monitor

	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	nonces   map[common.Address]uint64

	// pubMu is taken before mu is released so results reach the sink in
	// commit order without holding the state lock during delivery.
	pubMu     sync.Mutex
	sink      eventlog.Sink
	custodian custody.Custodian
	log       *zap.SugaredLogger

	seq    uint64
	height int64
}

var _ abci.Application = (*App)(nil)

func NewApp(opts Options) (*App, error) {
	control, err := exchange.NewControl(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("exchange config: %w", err)
	}
	if opts.Domain.Name == "" {
		opts.Domain = crypto.DefaultDomain()
	}
	if opts.Sink == nil {
		opts.Sink = eventlog.Fanout{}
	}
	if opts.Custodian == nil {
		opts.Custodian = custody.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	registry := market.NewRegistry()
	ledger := margin.NewLedger()
	engine := matching.NewEngine(registry, control, ledger)
	return &App{
		registry:  registry,
		control:   control,
		ledger:    ledger,
		engine:    engine,
		monitor:   margincall.NewMonitor(ledger, engine),
		verifier:  transaction.NewVerifier(opts.Domain),
		mempool:   mempool.NewMempool(opts.MempoolSize),
		nonces:    make(map[common.Address]uint64),
		sink:      opts.Sink,
		custodian: opts.Custodian,
		log:       opts.Logger,
	}, nil
}

// Result is what one committed operation produced.
type Result struct {
	Seq         uint64
	Events      []events.Event
	Trades      []order.Trade
	Settlements []margin.Settlement

	// Set by the operations that create them.
	Order  *order.Order
	PairID uint32
	Amount uint64
}

// exec runs op under the write lock and publishes its result after the lock
// is released.
func (a *App) exec(op func() (Result, error)) (Result, error) {
	a.mu.Lock()
	res, err := op()
	a.pubMu.Lock()
	a.mu.Unlock()
	defer a.pubMu.Unlock()
	if err == nil {
		a.deliver(res)
	}
	return res, err
}

// deliver hands a committed result to the event sink and the custodian.
// Neither can undo the commit, so failures are logged.
func (a *App) deliver(res Result) {
	ctx := context.Background()
	if len(res.Events) > 0 {
		if err := a.sink.Publish(ctx, res.Events); err != nil {
			a.log.Warnw("event_publish_failed", "seq", res.Seq, "events", len(res.Events), "error", err)
		}
	}
	for _, s := range res.Settlements {
		if err := custody.Notify(ctx, a.custodian, res.Seq, s); err != nil {
			a.log.Errorw("custody_notify_failed", "seq", res.Seq, "owner", s.Owner.Hex(), "pair", s.Pair, "error", err)
		}
	}
}

// Seq is the sequence number of the last committed operation.
func (a *App) Seq() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.seq
}

// Height is the last finalized block height.
func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// Validate checks the cross-component invariants. Tests call it after every step.
func (a *App) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.engine.Orders().Validate(); err != nil {
		return err
	}
	if err := a.ledger.Validate(); err != nil {
		return err
	}
	for _, pair := range a.engine.BookPairs() {
		book := a.engine.Book(pair)
		if bidID, bid, ok := book.BestBid(); ok {
			if _, ask, ok := book.BestAsk(); ok && bid >= ask {
				return fmt.Errorf("pair %d book crossed: bid %d (order %d) >= ask %d", pair, bid, bidID, ask)
			}
		}
	}
	return nil
}

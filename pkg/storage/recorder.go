package storage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

// OrderSource resolves the current form of orders and trades for the recorder.
type OrderSource interface {
	Order(id uint64) (order.Order, error)
	TradesSince(after uint64) []order.Trade
}

// Recorder is an event sink that persists every order named by an event and
// every new trade.
//
// Publish only queues. Orders are resolved from the source later by Run or
// Flush, since the source may be the ledger that is publishing.
type Recorder struct {
	store *PebbleStore
	src   OrderSource

	mu      sync.Mutex
	pending []events.Event
	wake    chan struct{}

	flushMu   sync.Mutex
	lastTrade uint64
}

func NewRecorder(store *PebbleStore, src OrderSource) *Recorder {
	return &Recorder{store: store, src: src, wake: make(chan struct{}, 1)}
}

func (r *Recorder) Publish(_ context.Context, evs []events.Event) error {
	r.mu.Lock()
	r.pending = append(r.pending, evs...)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run flushes queued events as they arrive until ctx is done.
func (r *Recorder) Run(ctx context.Context, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				log.Warnw("recorder_flush_failed", "error", err)
			}
			return
		case <-r.wake:
			if err := r.Flush(); err != nil {
				log.Warnw("recorder_flush_failed", "error", err)
			}
		}
	}
}

// Flush persists everything queued so far. Must not be called while
// publishing.
func (r *Recorder) Flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	evs := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(evs) == 0 {
		return nil
	}

	seen := make(map[uint64]bool)
	var orders []*order.Order
	newTrades := false
	for _, e := range evs {
		if e.Trade != 0 {
			newTrades = true
		}
		if e.Order == 0 || seen[e.Order] {
			continue
		}
		seen[e.Order] = true
		o, err := r.src.Order(e.Order)
		if err != nil {
			return fmt.Errorf("resolve order %d: %w", e.Order, err)
		}
		orders = append(orders, &o)
	}
	if err := r.store.SaveOrders(orders); err != nil {
		return err
	}
	if !newTrades {
		return nil
	}
	trades := r.src.TradesSince(r.lastTrade)
	if err := r.store.SaveTrades(trades); err != nil {
		return err
	}
	if n := len(trades); n > 0 {
		r.lastTrade = trades[n-1].ID
	}
	return nil
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/chain"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) SaveBlock(b chain.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		panic(fmt.Errorf("encode block: %w", err))
	}
	if err := s.db.Set(blockKey(b.Height), val, pebble.Sync); err != nil {
		return fmt.Errorf("save block %d: %w", b.Height, err)
	}
	return nil
}

func (s *PebbleStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(h))
	if errors.Is(err, pebble.ErrNotFound) {
		return chain.Block{}, false, nil
	}
	if err != nil {
		return chain.Block{}, false, fmt.Errorf("get block %d: %w", h, err)
	}
	defer closer.Close()
	var out chain.Block
	if err := decodeGob(val, &out); err != nil {
		return chain.Block{}, false, fmt.Errorf("decode block %d: %w", h, err)
	}
	return out, true, nil
}

func (s *PebbleStore) SetHead(h chain.Height) error {
	if err := s.db.Set([]byte(keyHead), heightKey(h), pebble.Sync); err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	return nil
}

func (s *PebbleStore) Head() (chain.Height, bool, error) {
	val, closer, err := s.db.Get([]byte(keyHead))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get head: %w", err)
	}
	defer closer.Close()
	return decodeHeight(val), true, nil
}

var _ chain.BlockStore = (*PebbleStore)(nil)

// SaveOrders writes the current form of each order in one batch.
func (s *PebbleStore) SaveOrders(orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

// LoadOrder returns nil when the order was never persisted.
func (s *PebbleStore) LoadOrder(id uint64) (*order.Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	defer closer.Close()
	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %d: %w", id, err)
	}
	return &o, nil
}

func (s *PebbleStore) SaveTrades(trades []order.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, t := range trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", t.ID, err)
		}
		if err := batch.Set(tradeKey(t.Pair, t.ID), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

// RecentTrades returns up to limit trades of pair, newest first.
func (s *PebbleStore) RecentTrades(pair uint32, limit int) ([]order.Trade, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []order.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t order.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

// SaveSnapshot stores v as the ledger snapshot taken after block h.
func (s *PebbleStore) SaveSnapshot(h chain.Height, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Set(snapshotKey(h), data, pebble.NoSync)
}

// LoadSnapshot decodes the snapshot of block h into v.
func (s *PebbleStore) LoadSnapshot(h chain.Height, v any) (bool, error) {
	data, closer, err := s.db.Get(snapshotKey(h))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get snapshot %d: %w", h, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal snapshot %d: %w", h, err)
	}
	return true, nil
}

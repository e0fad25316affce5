package spot

import (
	"bytes"
	"encoding/binary"
	"hash"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/chain"
)

// stateHash is a keccak256 digest of the whole ledger state, written in a
// fixed order so independent executors of the same blocks agree on it.
//
//  1. height, timestamp, operation sequence, pause flag
//  2. exchange config
//  3. assets and pairs by id
//  4. every order by id, then the trade count
//  5. margin accounts by owner, positions by (pair, side)
//  6. nonces by owner
func (a *App) stateHash(height, timestamp int64) chain.Hash {
	w := hashWriter{h: sha3.NewLegacyKeccak256()}

	w.u64(uint64(height))
	w.u64(uint64(timestamp))
	w.u64(a.seq)
	w.flag(a.control.Paused())

	cfg := a.control.Config()
	w.bytes(cfg.Owner[:])
	w.u64(cfg.MinVolume)
	w.u64(cfg.MaxVolume)
	w.str(cfg.MarginMultiplier.String())
	w.str(cfg.InterestRate.String())
	w.u64(cfg.CompoundEvery)
	w.u64(cfg.MaxDeposit)

	for _, asset := range a.registry.Assets() {
		w.u64(uint64(asset.ID))
		w.str(asset.Symbol)
		w.u64(uint64(asset.Decimals))
	}
	for _, p := range a.registry.Pairs() {
		w.u64(uint64(p.ID))
		w.u64(uint64(p.Base))
		w.u64(uint64(p.Quote))
		w.u64(p.MinVolume)
		w.u64(p.MaxVolume)
	}
	w.u64(uint64(a.registry.NextPairID()))

	orders := a.engine.Orders()
	for id := uint64(1); id <= orders.LastID(); id++ {
		o, err := orders.Get(id)
		if err != nil {
			continue
		}
		w.u64(o.ID)
		w.bytes(o.Owner[:])
		w.u64(uint64(o.Pair))
		w.u64(uint64(o.Side))
		w.u64(uint64(o.Kind))
		w.u64(o.Price)
		w.u64(o.Quantity)
		w.u64(o.Remaining)
		w.u64(uint64(o.Status))
		w.u64(o.Reserved)
	}
	w.u64(uint64(a.engine.Trades().Len()))

	w.u64(a.ledger.Accruals())
	for _, owner := range a.ledger.Owners() {
		writeAccount(&w, a.ledger.Account(owner))
	}

	owners := make([]common.Address, 0, len(a.nonces))
	for owner := range a.nonces {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })
	for _, owner := range owners {
		w.bytes(owner[:])
		w.u64(a.nonces[owner])
	}

	var out chain.Hash
	copy(out[:], w.h.Sum(nil))
	return out
}

func writeAccount(w *hashWriter, acc *margin.Account) {
	w.bytes(acc.Owner[:])
	w.u64(acc.Collateral)
	w.u64(acc.Borrowed)
	w.u64(acc.Reserved)
	w.u64(acc.Interest)
	w.u64(uint64(acc.State))
	w.u64(uint64(len(acc.Positions)))
	for _, p := range acc.SortedPositions() {
		w.u64(uint64(p.Pair))
		w.u64(uint64(p.Side))
		w.u64(p.Size)
		w.u64(p.Borrowed)
	}
}

type hashWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *hashWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	w.h.Write(w.buf[:])
}

func (w *hashWriter) bytes(b []byte) { w.h.Write(b) }

// str is length-prefixed so adjacent strings cannot collide.
func (w *hashWriter) str(s string) {
	w.u64(uint64(len(s)))
	w.h.Write([]byte(s))
}

func (w *hashWriter) flag(b bool) {
	if b {
		w.u64(1)
		return
	}
	w.u64(0)
}

// StateHash returns the hash of the current state at the last finalized height.
func (a *App) StateHash(timestamp int64) chain.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stateHash(a.height, timestamp)
}

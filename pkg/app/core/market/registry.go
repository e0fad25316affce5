package market

import (
	"fmt"
	"sort"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// References answers whether ledger state still points at a pair.
// The order table, trade history and margin ledger together implement it.
type References interface {
	PairReferenced(pairID uint32) bool
}

// Registry is the authoritative list of assets and pairs.
// Every other component resolves ids through it before acting.
// Not safe for concurrent use; the ledger application serializes access.
type Registry struct {
	assets   map[uint32]Asset
	pairs    map[uint32]Pair
	pairKeys map[[2]uint32]uint32 // (base, quote) -> pair id
	nextPair uint32
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		assets:   make(map[uint32]Asset),
		pairs:    make(map[uint32]Pair),
		pairKeys: make(map[[2]uint32]uint32),
		nextPair: 1,
	}
}

// AddAsset lists a new asset
// Returns ErrAlreadyListed if the id is taken
func (r *Registry) AddAsset(a Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if _, exists := r.assets[a.ID]; exists {
		return fmt.Errorf("asset %d: %w", a.ID, apperr.ErrAlreadyListed)
	}
	r.assets[a.ID] = a
	return nil
}

// RemoveAsset delists an asset that nothing references.
// A listed pair on the asset, or ledger references to such a pair, keep it in use.
func (r *Registry) RemoveAsset(id uint32, refs References) error {
	if _, exists := r.assets[id]; !exists {
		return fmt.Errorf("asset %d: %w", id, apperr.ErrNotListed)
	}
	for _, p := range r.sortedPairs() {
		if p.Base != id && p.Quote != id {
			continue
		}
		if refs != nil && refs.PairReferenced(p.ID) {
			return fmt.Errorf("asset %d referenced through pair %d: %w", id, p.ID, apperr.ErrAssetInUse)
		}
		return fmt.Errorf("asset %d listed in pair %d: %w", id, p.ID, apperr.ErrAssetInUse)
	}
	delete(r.assets, id)
	return nil
}

// AddPair lists (base, quote) and returns the new pair with its assigned id.
func (r *Registry) AddPair(p Pair) (Pair, error) {
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	if _, ok := r.assets[p.Base]; !ok {
		return Pair{}, fmt.Errorf("base asset %d: %w", p.Base, apperr.ErrNotListed)
	}
	if _, ok := r.assets[p.Quote]; !ok {
		return Pair{}, fmt.Errorf("quote asset %d: %w", p.Quote, apperr.ErrNotListed)
	}
	if id, exists := r.pairKeys[p.key()]; exists {
		return Pair{}, fmt.Errorf("pair %d/%d already listed as %d: %w", p.Base, p.Quote, id, apperr.ErrAlreadyListed)
	}
	if r.nextPair == 0 {
		return Pair{}, fmt.Errorf("pair ids exhausted: %w", apperr.ErrStorageOverflow)
	}
	p.ID = r.nextPair
	r.nextPair++
	r.pairs[p.ID] = p
	r.pairKeys[p.key()] = p.ID
	return p, nil
}

// RemovePair delists a pair unless open orders, trades or margin positions reference it.
func (r *Registry) RemovePair(id uint32, refs References) error {
	p, exists := r.pairs[id]
	if !exists {
		return fmt.Errorf("pair %d: %w", id, apperr.ErrPairNotListed)
	}
	if refs != nil && refs.PairReferenced(id) {
		return fmt.Errorf("pair %d: %w", id, apperr.ErrPairInUse)
	}
	delete(r.pairs, id)
	delete(r.pairKeys, p.key())
	return nil
}

// Asset resolves an asset id
func (r *Registry) Asset(id uint32) (Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("asset %d: %w", id, apperr.ErrNotListed)
	}
	return a, nil
}

// Pair resolves a pair id
func (r *Registry) Pair(id uint32) (Pair, error) {
	p, ok := r.pairs[id]
	if !ok {
		return Pair{}, fmt.Errorf("pair %d: %w", id, apperr.ErrPairNotListed)
	}
	return p, nil
}

// Assets returns all listed assets ordered by id
func (r *Registry) Assets() []Asset {
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pairs returns all listed pairs ordered by id
func (r *Registry) Pairs() []Pair { return r.sortedPairs() }

func (r *Registry) sortedPairs() []Pair {
	out := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextPairID is the id the next listed pair will receive.
func (r *Registry) NextPairID() uint32 { return r.nextPair }

func (r *Registry) Count() (assets, pairs int) { return len(r.assets), len(r.pairs) }

package market

import (
	"fmt"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// Asset is a tradable asset. Immutable once listed.
type Asset struct {
	ID       uint32 `json:"id"`
	Symbol   string `json:"symbol"`   // "BTC"
	Decimals uint8  `json:"decimals"` // display precision of one unit
}

// Validate checks the asset is well formed before listing
func (a Asset) Validate() error {
	if a.ID == 0 {
		return fmt.Errorf("asset id must be non-zero: %w", apperr.ErrInvalidConfig)
	}
	if a.Symbol == "" {
		return fmt.Errorf("asset %d: symbol required: %w", a.ID, apperr.ErrInvalidConfig)
	}
	return nil
}

// Pair is a (base, quote) trading pair.
// Zero volume overrides inherit the exchange bounds.
type Pair struct {
	ID        uint32 `json:"id"`
	Base      uint32 `json:"base"`
	Quote     uint32 `json:"quote"`
	MinVolume uint64 `json:"minVolume"`
	MaxVolume uint64 `json:"maxVolume"`
}

func (p Pair) key() [2]uint32 { return [2]uint32{p.Base, p.Quote} }

// Validate checks the overrides and that base differs from quote.
func (p Pair) Validate() error {
	if p.Base == p.Quote {
		return fmt.Errorf("pair base and quote are both %d: %w", p.Base, apperr.ErrInvalidConfig)
	}
	if p.MaxVolume != 0 && p.MaxVolume < p.MinVolume {
		return fmt.Errorf("pair max volume %d below min %d: %w", p.MaxVolume, p.MinVolume, apperr.ErrInvalidConfig)
	}
	return nil
}

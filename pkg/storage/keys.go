package storage

import (
	"encoding/binary"

	"github.com/uhyunpark/spotmargin/pkg/chain"
)

// Key schema:
//
//	blk:<8-byte height>              → chain.Block (gob)
//	meta:head                        → 8-byte height of the last applied block
//	ord:<8-byte order id>            → order.Order (JSON)
//	trade:<4-byte pair>:<8-byte id>  → order.Trade (JSON)
//	snap:<8-byte height>             → ledger snapshot (JSON)
const (
	prefixBlock    = "blk:"
	prefixOrder    = "ord:"
	prefixTrade    = "trade:"
	prefixSnapshot = "snap:"
	keyHead        = "meta:head"
)

func u64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func u32(v uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], v)
	return k[:]
}

func withPrefix(prefix string, parts ...[]byte) []byte {
	k := []byte(prefix)
	for i, p := range parts {
		if i > 0 {
			k = append(k, ':')
		}
		k = append(k, p...)
	}
	return k
}

func blockKey(h chain.Height) []byte    { return withPrefix(prefixBlock, heightKey(h)) }
func snapshotKey(h chain.Height) []byte { return withPrefix(prefixSnapshot, heightKey(h)) }
func orderKey(id uint64) []byte         { return withPrefix(prefixOrder, u64(id)) }

func tradeKey(pair uint32, id uint64) []byte {
	return withPrefix(prefixTrade, u32(pair), u64(id))
}

func tradePrefix(pair uint32) []byte {
	return append(withPrefix(prefixTrade, u32(pair)), ':')
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}

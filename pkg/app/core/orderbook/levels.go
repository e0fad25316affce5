package orderbook

import "github.com/huandu/skiplist"

// level is the FIFO of order ids resting at one price.
type level struct {
	price uint64
	ids   []uint64
}

// remove drops id from the queue keeping the order of the rest.
func (l *level) remove(id uint64) bool {
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			return true
		}
	}
	return false
}

// bidOrder sorts price levels high to low.
type bidOrder struct{}

func (bidOrder) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(uint64), rhs.(uint64)
	switch {
	case l > r:
		return -1
	case l < r:
		return 1
	}
	return 0
}

func (bidOrder) CalcScore(key interface{}) float64 { return -float64(key.(uint64)) }

// askOrder sorts price levels low to high.
type askOrder struct{}

func (askOrder) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(uint64), rhs.(uint64)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func (askOrder) CalcScore(key interface{}) float64 { return float64(key.(uint64)) }

var (
	_ skiplist.Comparable = bidOrder{}
	_ skiplist.Comparable = askOrder{}
)

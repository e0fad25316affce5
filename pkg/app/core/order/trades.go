package order

// TradeLog is the append-only trade history.
type TradeLog struct {
	trades []Trade
	seq    *Sequencer
	byPair map[uint32][]int // pair -> indexes into trades
}

func NewTradeLog() *TradeLog {
	return &TradeLog{
		seq:    NewSequencer(0),
		byPair: make(map[uint32][]int),
	}
}

// Append assigns the next trade id and records t.
func (l *TradeLog) Append(t Trade) Trade {
	t.ID = l.seq.Next()
	l.byPair[t.Pair] = append(l.byPair[t.Pair], len(l.trades))
	l.trades = append(l.trades, t)
	return t
}

// HasPair reports whether any trade was recorded on pair.
func (l *TradeLog) HasPair(pair uint32) bool { return len(l.byPair[pair]) > 0 }

// Recent returns up to limit of the newest trades on pair, newest first.
func (l *TradeLog) Recent(pair uint32, limit int) []Trade {
	idx := l.byPair[pair]
	if limit <= 0 || limit > len(idx) {
		limit = len(idx)
	}
	out := make([]Trade, 0, limit)
	for i := len(idx) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.trades[idx[i]])
	}
	return out
}

// Since returns the trades with id greater than after, oldest first.
func (l *TradeLog) Since(after uint64) []Trade {
	if after >= uint64(len(l.trades)) {
		return nil
	}
	out := make([]Trade, len(l.trades)-int(after))
	copy(out, l.trades[after:])
	return out
}

func (l *TradeLog) Len() int { return len(l.trades) }

// TotalQuantity sums executed quantity on pair.
func (l *TradeLog) TotalQuantity(pair uint32) uint64 {
	var sum uint64
	for _, i := range l.byPair[pair] {
		sum += l.trades[i].Quantity
	}
	return sum
}

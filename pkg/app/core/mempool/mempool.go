package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
)

// Bucket is the proposal priority class of a transaction.
type Bucket int

const (
	// BucketPriority holds admin actions and collateral movements, so a block
	// applies config, listings and deposits before the orders that depend on them.
	BucketPriority Bucket = iota
	BucketCancel
	BucketOrder
)

// ErrFull is returned when the pool is at capacity.
var ErrFull = errors.New("mempool full")

// Classify buckets a raw transaction by its envelope type.
// Anything unparseable lands in BucketOrder and fails at apply time.
func Classify(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketOrder
	}
	var env struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return BucketOrder
	}
	switch {
	case env.Type.IsAdmin():
		return BucketPriority
	case env.Type == transaction.TxDeposit, env.Type == transaction.TxWithdraw, env.Type == transaction.TxRepay:
		return BucketPriority
	case env.Type == transaction.TxCancel, env.Type == transaction.TxModify:
		return BucketCancel
	default:
		return BucketOrder
	}
}

// Mempool keeps one FIFO queue per bucket and drains them in bucket order.
type Mempool struct {
	mu      sync.Mutex
	queues  [3][][]byte
	maxSize int // 0 means unbounded
}

func NewMempool(maxSize int) *Mempool {
	return &Mempool{maxSize: maxSize}
}

// PushRaw classifies and enqueues a copy of b.
func (m *Mempool) PushRaw(b []byte) error {
	cp := append([]byte(nil), b...)
	bucket := Classify(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSize > 0 && m.len() >= m.maxSize {
		return ErrFull
	}
	m.queues[bucket] = append(m.queues[bucket], cp)
	return nil
}

// SelectForProposal removes and returns up to maxBytes of transactions,
// priority first, then cancels, then orders. A transaction that does not fit
// stops its bucket so FIFO order within the bucket is kept.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for i := range m.queues {
		q := m.queues[i]
		n := 0
		for n < len(q) {
			size := int64(len(q[n]))
			if maxBytes > 0 && used+size > maxBytes {
				break
			}
			out = append(out, q[n])
			used += size
			n++
		}
		m.queues[i] = q[n:]
	}
	return out
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.len()
}

func (m *Mempool) len() int {
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

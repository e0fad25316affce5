package abci

import (
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/chain"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // unix seconds
	Txs       [][]byte
}

// TxResult is the outcome of one transaction in a block.
type TxResult struct {
	Code  uint32 // 0 on success
	Log   string
	Group string // error group name on failure
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   chain.Hash
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

const defaultMaxTxBytes = 1 << 24

// Bridge adapts an Application to the block producer.
type Bridge struct {
	App Application

	// InterestEvery injects an accrue_interest system transaction into every
	// InterestEvery-th block. 0 disables accrual.
	InterestEvery uint64
	MaxTxBytes    int64
}

var _ chain.Executor = (*Bridge)(nil)

// AccrueInterestTx is the system transaction the bridge injects.
var AccrueInterestTx = []byte(`{"type":"` + string(transaction.TxAccrueInterest) + `","nonce":0}`)

func (b *Bridge) PreparePayload(next chain.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxTxBytes
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})

	txs := resp.Txs
	if b.InterestEvery > 0 && uint64(next)%b.InterestEvery == 0 {
		txs = append(txs, AccrueInterestTx)
	}
	return joinPayload(txs)
}

func (b *Bridge) OnCommit(committed chain.Block) chain.Hash {
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       SplitPayload(committed.Payload),
	})
	return resp.AppHash
}

// joinPayload concatenates txs with a 0x00 delimiter. JSON transactions never
// contain a raw NUL byte.
func joinPayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

// SplitPayload is the inverse of joinPayload; empty segments are dropped.
func SplitPayload(p []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range p {
		if c != 0x00 {
			continue
		}
		if i > start {
			out = append(out, append([]byte(nil), p[start:i]...))
		}
		start = i + 1
	}
	if start < len(p) {
		out = append(out, append([]byte(nil), p[start:]...))
	}
	return out
}

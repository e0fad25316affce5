package spot

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/spotmargin/pkg/abci"
	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
)

// ErrSystemTx rejects attempts to submit producer-only transactions.
var ErrSystemTx = errors.New("system transactions cannot be submitted")

// PushTx admits a transaction to the mempool after checking its structure
// and signature. Nonces are checked when the block applies it.
func (a *App) PushTx(b []byte) error {
	tx, err := transaction.ParseTransaction(b)
	if err != nil {
		return err
	}
	if tx.Type.IsSystem() {
		return fmt.Errorf("%s: %w", tx.Type, ErrSystemTx)
	}
	if _, err := a.verifier.Verify(tx); err != nil {
		return err
	}
	return a.mempool.PushRaw(b)
}

// PendingTxs is the mempool size.
func (a *App) PendingTxs() int { return a.mempool.Len() }

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts a block whose transactions all parse. Failures of
// individual operations are results, not grounds to reject the block.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := transaction.ParseTransaction(raw); err != nil {
			a.log.Warnw("proposal_rejected", "height", req.Height, "error", err)
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies the block's transactions in order and returns one
// result per transaction plus the resulting state hash.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	results := make([]abci.TxResult, len(req.Txs))
	committed := make([]Result, 0, len(req.Txs))
	failed := 0
	for i, raw := range req.Txs {
		res, err := a.applyTx(raw)
		if err != nil {
			failed++
			results[i] = txResult(err)
			a.log.Debugw("tx_failed", "height", req.Height, "index", i, "error", err)
			continue
		}
		committed = append(committed, res)
	}
	a.height = req.Height
	appHash := a.stateHash(req.Height, req.Timestamp)

	a.pubMu.Lock()
	a.mu.Unlock()
	for _, res := range committed {
		a.deliver(res)
	}
	a.pubMu.Unlock()

	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"failed", failed,
			"app_hash", appHash.String(),
		)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: appHash}
}

// txResult codes are the error group plus one, so 0 stays success.
func txResult(err error) abci.TxResult {
	g := apperr.GroupOf(err)
	return abci.TxResult{Code: uint32(g) + 1, Log: err.Error(), Group: g.String()}
}

package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
	"github.com/uhyunpark/spotmargin/pkg/app/core/market"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
)

// applyTx parses, authenticates and applies one transaction from a block.
// The caller holds the write lock.
//
// A verified transaction consumes its nonce even when the operation itself
// fails, so a rejected order cannot be replayed into a later block.
func (a *App) applyTx(raw []byte) (Result, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return Result{}, err
	}
	if tx.Type.IsSystem() {
		return a.applySystemTx(tx)
	}

	owner, err := a.verifier.Verify(tx)
	if err != nil {
		return Result{}, err
	}
	if last := a.nonces[owner]; tx.Nonce <= last {
		return Result{}, fmt.Errorf("nonce %d not above %d for %s: %w", tx.Nonce, last, owner.Hex(), apperr.ErrNonceMismatch)
	}
	a.nonces[owner] = tx.Nonce

	return a.dispatch(owner, tx)
}

func (a *App) applySystemTx(tx *transaction.SignedTransaction) (Result, error) {
	switch tx.Type {
	case transaction.TxAccrueInterest:
		return a.accrueInterest()
	default:
		return Result{}, fmt.Errorf("unsupported system transaction %s", tx.Type)
	}
}

func (a *App) dispatch(caller common.Address, tx *transaction.SignedTransaction) (Result, error) {
	switch tx.Type {
	case transaction.TxAddAsset:
		var p transaction.AssetPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidConfig)
		}
		return a.addAsset(caller, market.Asset{ID: p.ID, Symbol: p.Symbol, Decimals: p.Decimals})

	case transaction.TxRemoveAsset:
		var p transaction.RefPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidConfig)
		}
		return a.removeAsset(caller, p.ID)

	case transaction.TxAddPair:
		var p transaction.PairPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidConfig)
		}
		return a.addPair(caller, market.Pair{Base: p.Base, Quote: p.Quote, MinVolume: p.MinVolume, MaxVolume: p.MaxVolume})

	case transaction.TxRemovePair:
		var p transaction.RefPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidConfig)
		}
		return a.removePair(caller, p.ID)

	case transaction.TxOrder:
		var p transaction.OrderPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidOrder)
		}
		side, ok := order.ParseSide(p.Side)
		if !ok {
			return Result{}, fmt.Errorf("side %q: %w", p.Side, apperr.ErrInvalidOrder)
		}
		kind, ok := order.ParseKind(p.Kind)
		if !ok {
			return Result{}, fmt.Errorf("kind %q: %w", p.Kind, apperr.ErrInvalidOrder)
		}
		return a.submitOrder(caller, p.Pair, side, kind, p.Price, p.Quantity)

	case transaction.TxCancel:
		var p transaction.CancelPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidOrder)
		}
		return a.cancelOrder(caller, p.OrderID)

	case transaction.TxModify:
		var p transaction.ModifyPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidOrder)
		}
		return a.modifyOrder(caller, p.OrderID, p.Remaining)

	case transaction.TxClosePosition:
		var p transaction.ClosePayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidOrder)
		}
		side, ok := order.ParseSide(p.Side)
		if !ok {
			return Result{}, fmt.Errorf("side %q: %w", p.Side, apperr.ErrInvalidOrder)
		}
		return a.closePosition(caller, p.Pair, side)

	case transaction.TxDeposit, transaction.TxWithdraw, transaction.TxRepay:
		var p transaction.AmountPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrDepositBelowLimit)
		}
		switch tx.Type {
		case transaction.TxDeposit:
			return a.depositMargin(caller, p.Amount)
		case transaction.TxWithdraw:
			return a.withdrawMargin(caller, p.Amount)
		default:
			return a.repayMargin(caller, p.Amount)
		}

	case transaction.TxUpdateConfig:
		var p transaction.ConfigPayload
		if err := tx.Decode(&p); err != nil {
			return Result{}, invalid(err, apperr.ErrInvalidConfig)
		}
		cfg, err := ConfigFromPayload(p)
		if err != nil {
			return Result{}, err
		}
		return a.updateConfig(caller, cfg)

	case transaction.TxPause:
		return a.pause(caller)

	case transaction.TxUnpause:
		return a.unpause(caller)

	default:
		return Result{}, fmt.Errorf("unsupported transaction type: %s", tx.Type)
	}
}

// ConfigFromPayload converts the wire form of a configuration.
func ConfigFromPayload(p transaction.ConfigPayload) (exchange.Config, error) {
	if !common.IsHexAddress(p.Owner) {
		return exchange.Config{}, fmt.Errorf("owner %q: %w", p.Owner, apperr.ErrInvalidConfig)
	}
	mult, err := decimal.NewFromString(p.MarginMultiplier)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("margin multiplier %q: %w", p.MarginMultiplier, apperr.ErrInvalidConfig)
	}
	rate, err := decimal.NewFromString(p.InterestRate)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("interest rate %q: %w", p.InterestRate, apperr.ErrInvalidConfig)
	}
	return exchange.Config{
		Owner:            common.HexToAddress(p.Owner),
		MinVolume:        p.MinVolume,
		MaxVolume:        p.MaxVolume,
		MarginMultiplier: mult,
		InterestRate:     rate,
		CompoundEvery:    p.CompoundEvery,
		MaxDeposit:       p.MaxDeposit,
	}, nil
}

// ConfigPayload is the inverse of ConfigFromPayload.
func ConfigPayload(cfg exchange.Config) transaction.ConfigPayload {
	return transaction.ConfigPayload{
		Owner:            cfg.Owner.Hex(),
		MinVolume:        cfg.MinVolume,
		MaxVolume:        cfg.MaxVolume,
		MarginMultiplier: cfg.MarginMultiplier.String(),
		InterestRate:     cfg.InterestRate.String(),
		CompoundEvery:    cfg.CompoundEvery,
		MaxDeposit:       cfg.MaxDeposit,
	}
}

func invalid(err error, kind error) error {
	return fmt.Errorf("%v: %w", err, kind)
}

// Package custody notifies the asset custody bridge of ledger settlements.
// The ledger only credits and debits its own books; the custodian mints the
// underlying asset for realized profit and burns it for realized loss.
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
)

// Custodian is the custody/bridge collaborator.
type Custodian interface {
	Mint(ctx context.Context, owner common.Address, amount uint64, ref string) error
	Burn(ctx context.Context, owner common.Address, amount uint64, ref string) error
}

// Ref identifies a settlement in custody notifications.
func Ref(seq uint64, s margin.Settlement) string {
	return fmt.Sprintf("settle:%d:%d:%s", seq, s.Pair, s.Side)
}

// Notify forwards one settlement. Profit mints, loss burns; a settlement at
// exactly the borrowed value needs no notification.
func Notify(ctx context.Context, c Custodian, seq uint64, s margin.Settlement) error {
	ref := Ref(seq, s)
	if s.Profit > 0 {
		if err := c.Mint(ctx, s.Owner, s.Profit, ref); err != nil {
			return fmt.Errorf("mint %d for %s: %w", s.Profit, s.Owner.Hex(), err)
		}
	}
	if s.Loss > 0 {
		if err := c.Burn(ctx, s.Owner, s.Loss, ref); err != nil {
			return fmt.Errorf("burn %d for %s: %w", s.Loss, s.Owner.Hex(), err)
		}
	}
	return nil
}

// LogCustodian records notifications in the node log. It stands in for the
// bridge on devnets.
type LogCustodian struct {
	log *zap.SugaredLogger
}

func NewLogCustodian(log *zap.SugaredLogger) *LogCustodian {
	return &LogCustodian{log: log}
}

func (c *LogCustodian) Mint(_ context.Context, owner common.Address, amount uint64, ref string) error {
	c.log.Infow("custody_mint", "owner", owner.Hex(), "amount", amount, "ref", ref)
	return nil
}

func (c *LogCustodian) Burn(_ context.Context, owner common.Address, amount uint64, ref string) error {
	c.log.Infow("custody_burn", "owner", owner.Hex(), "amount", amount, "ref", ref)
	return nil
}

// Op is one recorded notification.
type Op struct {
	Mint   bool
	Owner  common.Address
	Amount uint64
	Ref    string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	ops []Op
}

func (r *Recorder) Mint(_ context.Context, owner common.Address, amount uint64, ref string) error {
	r.add(Op{Mint: true, Owner: owner, Amount: amount, Ref: ref})
	return nil
}

func (r *Recorder) Burn(_ context.Context, owner common.Address, amount uint64, ref string) error {
	r.add(Op{Owner: owner, Amount: amount, Ref: ref})
	return nil
}

func (r *Recorder) add(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

// Ops returns a copy of the recorded notifications.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Mint(context.Context, common.Address, uint64, string) error { return nil }
func (Nop) Burn(context.Context, common.Address, uint64, string) error { return nil }

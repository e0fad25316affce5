package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/util"
)

// Producer is the single block producer of the ledger. Each block is made
// durable before it is applied, so a restart can always replay to the same state.
type Producer struct {
	store    BlockStore
	exec     Executor
	clock    util.Clock
	interval time.Duration
	log      *zap.SugaredLogger

	head Block

	// OnBlock runs after a block is committed.
	OnBlock func(Block)
}

func NewProducer(store BlockStore, exec Executor, clock util.Clock, interval time.Duration, log *zap.SugaredLogger) *Producer {
	return &Producer{
		store:    store,
		exec:     exec,
		clock:    clock,
		interval: interval,
		log:      log,
		head:     GenesisBlock(),
	}
}

// Head returns the last committed block.
func (p *Producer) Head() Block { return p.head }

// Replay re-applies every stored block in height order and checks each
// recorded AppHash. A block stored without an AppHash was persisted but not
// committed before a crash; it is applied and committed now.
func (p *Producer) Replay() (Height, error) {
	parent := GenesisBlock()
	for h := Height(1); ; h++ {
		b, ok, err := p.store.GetBlock(h)
		if err != nil {
			return parent.Height, fmt.Errorf("load block %d: %w", h, err)
		}
		if !ok {
			break
		}
		if b.Parent != HashOfBlock(parent) {
			return parent.Height, fmt.Errorf("block %d does not extend block %d", h, parent.Height)
		}
		got := p.exec.OnCommit(b)
		switch {
		case b.AppHash == (Hash{}):
			b.AppHash = got
			if err := p.commit(b); err != nil {
				return parent.Height, err
			}
		case b.AppHash != got:
			return parent.Height, fmt.Errorf("app hash mismatch at height %d: stored %s, replayed %s", h, b.AppHash, got)
		}
		parent = b
	}
	p.head = parent
	if parent.Height > 0 {
		p.log.Infow("replay_complete", "height", parent.Height, "app_hash", parent.AppHash.String())
	}
	return parent.Height, nil
}

// ProduceBlock builds the next block from the executor, persists it, applies
// it and records the resulting AppHash.
func (p *Producer) ProduceBlock() (Block, error) {
	next := p.head.Height + 1
	b := Block{
		Height:  next,
		Parent:  HashOfBlock(p.head),
		Time:    p.clock.Now().UTC(),
		Payload: p.exec.PreparePayload(next),
	}
	if err := p.store.SaveBlock(b); err != nil {
		return Block{}, fmt.Errorf("persist block %d: %w", next, err)
	}
	b.AppHash = p.exec.OnCommit(b)
	if err := p.commit(b); err != nil {
		return Block{}, err
	}
	p.head = b
	if p.OnBlock != nil {
		p.OnBlock(b)
	}
	return b, nil
}

func (p *Producer) commit(b Block) error {
	if err := p.store.SaveBlock(b); err != nil {
		return fmt.Errorf("persist block %d: %w", b.Height, err)
	}
	if err := p.store.SetHead(b.Height); err != nil {
		return fmt.Errorf("set head %d: %w", b.Height, err)
	}
	return nil
}

// Run produces a block every interval until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.interval):
			if _, err := p.ProduceBlock(); err != nil {
				return err
			}
		}
	}
}

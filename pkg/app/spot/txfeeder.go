package spot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/crypto"
)

// TxPusher admits raw transactions; *App implements it.
type TxPusher interface {
	PushTx(b []byte) error
}

// FeederConfig controls devnet load generation.
type FeederConfig struct {
	BatchSize   int
	Interval    time.Duration
	NumAccounts int
	Pairs       []uint32
	MidPrice    uint64
	Seed        int64
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
		Pairs:       []uint32{1},
		MidPrice:    2000,
		Seed:        1,
	}
}

// StartTxFeeder pushes a batch of generated transactions every interval
// until ctx is done or the returned cancel is called.
func StartTxFeeder(ctx context.Context, pusher TxPusher, domain crypto.EIP712Domain, cfg FeederConfig, log *zap.SugaredLogger) (context.CancelFunc, error) {
	gen, err := NewTxGenerator(domain, cfg.NumAccounts, cfg.Pairs, cfg.MidPrice, cfg.Seed)
	if err != nil {
		return nil, err
	}
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		lastReport := start
		var total, rejected int

		log.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval, "accounts", cfg.NumAccounts)
		for {
			select {
			case <-feedCtx.Done():
				log.Infow("txfeeder_stopped", "total", total, "rejected", rejected, "elapsed", time.Since(start).Round(time.Second))
				return

			case <-ticker.C:
				batch, err := gen.GenerateBatch(cfg.BatchSize)
				if err != nil {
					log.Warnw("txfeeder_sign_failed", "err", err)
				}
				for _, tx := range batch {
					if err := pusher.PushTx(tx); err != nil {
						rejected++
					}
				}
				total += len(batch)

				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					elapsed := time.Since(start).Seconds()
					log.Infow("txfeeder_stats", "total", total, "rejected", rejected, "tx_per_sec", float64(total)/elapsed)
				}
			}
		}
	}()
	return cancel, nil
}

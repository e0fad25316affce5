package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/params"
	"github.com/uhyunpark/spotmargin/pkg/abci"
	"github.com/uhyunpark/spotmargin/pkg/api"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
	"github.com/uhyunpark/spotmargin/pkg/app/spot"
	"github.com/uhyunpark/spotmargin/pkg/chain"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
	"github.com/uhyunpark/spotmargin/pkg/custody"
	"github.com/uhyunpark/spotmargin/pkg/eventlog"
	"github.com/uhyunpark/spotmargin/pkg/storage"
	"github.com/uhyunpark/spotmargin/pkg/util"
)

// Blocks between persisted ledger snapshots.
const snapshotEvery = 100

// appSource lets the recorder read from the app it is a sink of.
type appSource struct{ app *spot.App }

func (s *appSource) Order(id uint64) (order.Order, error) { return s.app.Order(id) }
func (s *appSource) TradesSince(after uint64) []order.Trade {
	return s.app.TradesSince(after)
}

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	exCfg, err := cfg.ExchangeConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var (
		blocks chain.BlockStore = storage.NewInMemoryBlockStore()
		store  *storage.PebbleStore
	)
	if cfg.Node.DataDir != "" {
		store, err = storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "ledger"))
		if err != nil {
			return err
		}
		defer store.Close()
		blocks = store
	} else {
		sugar.Warn("no data dir configured, blocks are kept in memory only")
	}

	// ---- Event sinks ----
	hub := api.NewHub(sugar)
	go hub.Run(ctx)
	sinks := eventlog.Fanout{hub}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka := eventlog.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		sinks = append(sinks, kafka)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	src := &appSource{}
	var recorder *storage.Recorder
	if store != nil {
		recorder = storage.NewRecorder(store, src)
		sinks = append(sinks, recorder)
	}

	// ---- App ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	app, err := spot.NewApp(spot.Options{
		Config:      exCfg,
		Domain:      domain,
		MempoolSize: cfg.Node.MempoolSize,
		Sink:        sinks,
		Custodian:   custody.NewLogCustodian(sugar),
		Logger:      sugar,
	})
	if err != nil {
		return err
	}
	src.app = app
	if recorder != nil {
		go recorder.Run(ctx, sugar)
	}

	// ---- Block production ----
	bridge := &abci.Bridge{
		App:           app,
		InterestEvery: cfg.Node.InterestEveryBlocks,
		MaxTxBytes:    cfg.Node.MaxTxBytes,
	}
	producer := chain.NewProducer(blocks, bridge, util.RealClock{}, cfg.Node.BlockInterval, sugar)
	height, err := producer.Replay()
	if err != nil {
		return err
	}
	if store != nil {
		producer.OnBlock = func(b chain.Block) {
			if b.Height%snapshotEvery != 0 {
				return
			}
			if err := store.SaveSnapshot(b.Height, app.Snapshot()); err != nil {
				sugar.Warnw("snapshot_failed", "height", b.Height, "err", err)
			}
		}
	}

	sugar.Infow("node_starting",
		"height", height,
		"owner", exCfg.Owner.Hex(),
		"block_interval_ms", cfg.Node.BlockInterval.Milliseconds(),
		"interest_every_blocks", cfg.Node.InterestEveryBlocks,
		"chain_id", cfg.Node.ChainID,
	)

	// ---- Devnet load (optional) ----
	if cfg.Node.TxGenAccounts > 0 {
		feed := spot.DefaultFeederConfig()
		feed.NumAccounts = cfg.Node.TxGenAccounts
		cancelFeeder, err := spot.StartTxFeeder(ctx, app, domain, feed, sugar)
		if err != nil {
			return err
		}
		defer cancelFeeder()
	}

	// ---- API ----
	var journal chain.WAL
	if cfg.API.WALPath != "" {
		wal, err := storage.NewFileWAL(cfg.API.WALPath)
		if err != nil {
			return err
		}
		defer wal.Close()
		journal = wal
	}
	server := api.NewServer(app, hub, journal, sugar)
	go func() {
		if err := server.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	return producer.Run(ctx)
}

package params

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotmargin/pkg/app/core/exchange"
)

// DevnetOwner is the first well-known devnet account. Override it with
// SPOT_EXCHANGE_OWNER anywhere else.
const DevnetOwner = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// Exchange seeds the exchange config at genesis. After that the owner
// changes it with update_config transactions.
type Exchange struct {
	Owner            string          `envconfig:"OWNER"`
	MinVolume        uint64          `envconfig:"MIN_VOLUME"`
	MaxVolume        uint64          `envconfig:"MAX_VOLUME"`
	MarginMultiplier decimal.Decimal `envconfig:"MARGIN_MULTIPLIER"`
	InterestRate     decimal.Decimal `envconfig:"INTEREST_RATE"`
	CompoundEvery    uint64          `envconfig:"COMPOUND_EVERY"`
	MaxDeposit       uint64          `envconfig:"MAX_DEPOSIT"`
}

type Node struct {
	// BlockInterval paces block production.
	BlockInterval time.Duration `envconfig:"BLOCK_INTERVAL"`
	// InterestEveryBlocks injects an accrue_interest transaction every N blocks. 0 disables it.
	InterestEveryBlocks uint64 `envconfig:"INTEREST_EVERY_BLOCKS"`
	MaxTxBytes          int64  `envconfig:"MAX_TX_BYTES"`
	MempoolSize         int    `envconfig:"MEMPOOL_SIZE"`
	// DataDir holds the pebble database. Empty keeps blocks in memory.
	DataDir string `envconfig:"DATA_DIR"`
	ChainID int64  `envconfig:"CHAIN_ID"`
	// TxGenAccounts > 0 runs the devnet transaction feeder with that many traders.
	TxGenAccounts int `envconfig:"TXGEN_ACCOUNTS"`
}

type API struct {
	Addr    string `envconfig:"ADDR"`
	WALPath string `envconfig:"WAL_PATH"`
}

type Log struct {
	Level string `envconfig:"LEVEL"`
	File  string `envconfig:"FILE"`
}

// Kafka is optional; no brokers means events are not exported.
type Kafka struct {
	Brokers []string `envconfig:"BROKERS"`
	Topic   string   `envconfig:"TOPIC"`
}

type Config struct {
	Exchange Exchange `envconfig:"EXCHANGE"`
	Node     Node     `envconfig:"NODE"`
	API      API      `envconfig:"API"`
	Log      Log      `envconfig:"LOG"`
	Kafka    Kafka    `envconfig:"KAFKA"`
}

func Default() Config {
	ex := exchange.DefaultConfig(common.HexToAddress(DevnetOwner))
	return Config{
		Exchange: Exchange{
			Owner:            DevnetOwner,
			MinVolume:        ex.MinVolume,
			MaxVolume:        ex.MaxVolume,
			MarginMultiplier: ex.MarginMultiplier,
			InterestRate:     ex.InterestRate,
			CompoundEvery:    ex.CompoundEvery,
			MaxDeposit:       ex.MaxDeposit,
		},
		Node: Node{
			BlockInterval:       200 * time.Millisecond,
			InterestEveryBlocks: 300,
			MaxTxBytes:          1 << 20,
			MempoolSize:         100_000,
			ChainID:             1337,
		},
		API: API{
			Addr: ":8080",
		},
		Log: Log{
			Level: "info",
		},
		Kafka: Kafka{
			Topic: "spot-events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if err := envconfig.Process("SPOT", &cfg); err != nil {
		return Config{}, fmt.Errorf("load env config: %w", err)
	}
	return cfg, nil
}

// ExchangeConfig converts the genesis settings into a validated exchange config.
func (c Config) ExchangeConfig() (exchange.Config, error) {
	if !common.IsHexAddress(c.Exchange.Owner) {
		return exchange.Config{}, fmt.Errorf("exchange owner %q is not an address", c.Exchange.Owner)
	}
	out := exchange.Config{
		Owner:            common.HexToAddress(c.Exchange.Owner),
		MinVolume:        c.Exchange.MinVolume,
		MaxVolume:        c.Exchange.MaxVolume,
		MarginMultiplier: c.Exchange.MarginMultiplier,
		InterestRate:     c.Exchange.InterestRate,
		CompoundEvery:    c.Exchange.CompoundEvery,
		MaxDeposit:       c.Exchange.MaxDeposit,
	}
	if err := out.Validate(); err != nil {
		return exchange.Config{}, err
	}
	return out, nil
}

package bidhaus

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/bidhaus/bidhaus/bidhaus/auction"
	"github.com/bidhaus/bidhaus/bidhaus/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	DB      database.DBConfig `toml:"db"`
	Auction AuctionConfig     `toml:"auction"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type AuctionConfig struct {
	// IncrementTiers maps price bands to bid steps. An up_to of 0 marks
	// the open-ended top tier. Empty means the built-in defaults.
	IncrementTiers []auction.IncrementTier `toml:"increment_tiers"`

	CurrencyUnit       int64 `toml:"currency_unit"`
	AntiSnipeWindowSec int64 `toml:"anti_snipe_window_sec"`
	MaxBidAttempts     int   `toml:"max_bid_attempts"`

	SweepIntervalSec int `toml:"sweep_interval_sec"`
	SweepBatchLimit  int `toml:"sweep_batch_limit"`

	EventBuffer int `toml:"event_buffer"`

	BidsPerSecond float64 `toml:"bids_per_second"`
	BidBurst      int     `toml:"bid_burst"`
}

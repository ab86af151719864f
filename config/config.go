// Package config loads the server configuration from an optional YAML file
// and CLOB_-prefixed environment variables, with defaults matching the
// original deployment (10+10 shards, BTC/USDT seed symbols).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Currency struct {
	ID   int32  `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type Symbol struct {
	ID    int32  `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Base  int32  `mapstructure:"base"`
	Quote int32  `mapstructure:"quote"`
}

type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	SequencerShards  int           `mapstructure:"sequencer_shards"`
	MatcherShards    int           `mapstructure:"matcher_shards"`
	CommandBuffer    int           `mapstructure:"command_buffer"`
	SettlementBuffer int           `mapstructure:"settlement_buffer"`
	MatcherBuffer    int           `mapstructure:"matcher_buffer"`
	ReplyTimeout     time.Duration `mapstructure:"reply_timeout"`
	Currencies       []Currency    `mapstructure:"currencies"`
	Symbols          []Symbol      `mapstructure:"symbols"`
	Kafka            Kafka         `mapstructure:"kafka"`
}

// Load reads the configuration. path may be empty, in which case clobd.yaml
// is picked up from the working directory when present.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", "0.0.0.0:50051")
	v.SetDefault("sequencer_shards", 10)
	v.SetDefault("matcher_shards", 10)
	v.SetDefault("command_buffer", 4096)
	v.SetDefault("settlement_buffer", 16384)
	v.SetDefault("matcher_buffer", 4096)
	v.SetDefault("reply_timeout", "5s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "clob.book-events")

	v.SetEnvPrefix("CLOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("clobd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Currencies) == 0 && len(cfg.Symbols) == 0 {
		cfg.Currencies = []Currency{
			{ID: 1, Name: "BTC"},
			{ID: 2, Name: "USDT"},
		}
		cfg.Symbols = []Symbol{
			{ID: 1, Name: "BTC-USDT", Base: 1, Quote: 2},
		}
	}

	if cfg.SequencerShards <= 0 {
		return nil, fmt.Errorf("sequencer_shards must be positive, got %d", cfg.SequencerShards)
	}
	if cfg.MatcherShards <= 0 {
		return nil, fmt.Errorf("matcher_shards must be positive, got %d", cfg.MatcherShards)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka enabled without brokers")
	}

	return cfg, nil
}

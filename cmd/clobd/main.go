package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	clob "github.com/lightning-exchange/clob"
	"github.com/lightning-exchange/clob/api"
	"github.com/lightning-exchange/clob/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	clob.SetLogger(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	currencies := make([]clob.Currency, 0, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies = append(currencies, clob.Currency{ID: c.ID, Name: c.Name})
	}
	symbols := make([]clob.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, clob.Symbol{ID: s.ID, Name: s.Name, Base: s.Base, Quote: s.Quote})
	}

	table, err := clob.NewSymbolTable(currencies, symbols)
	if err != nil {
		logger.Error("invalid symbol table", "error", err)
		os.Exit(1)
	}

	feed := clob.NewMarketFeed(table)
	publishers := []clob.Publisher{feed}

	var kafkaPub *clob.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPub = clob.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kafkaPub)
		logger.Info("kafka publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	engine := clob.NewEngine(table, clob.NewMultiPublisher(publishers...), clob.Options{
		SequencerShards:  cfg.SequencerShards,
		MatcherShards:    cfg.MatcherShards,
		CommandBuffer:    cfg.CommandBuffer,
		SettlementBuffer: cfg.SettlementBuffer,
		MatcherBuffer:    cfg.MatcherBuffer,
		ReplyTimeout:     cfg.ReplyTimeout,
	})
	engine.Start()

	logger.Info("engine started",
		"sequencer_shards", cfg.SequencerShards,
		"matcher_shards", cfg.MatcherShards,
		"symbols", len(cfg.Symbols))

	server := api.NewServer(engine, feed)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- server.Run(cfg.ListenAddr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		logger.Error("engine shutdown incomplete", "error", err)
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Error("kafka close failed", "error", err)
		}
	}
}

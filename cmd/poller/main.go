package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/logger"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/neKamita/telegram-star-manager/internal/service"
	"github.com/segmentio/kafka-go"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, "poller")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, _, err := repo.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// the poller never touches the cache
	repository := repo.NewRepository(gdb, nil, kw, log)
	relay := service.NewOutboxRelay(repository, cfg.Outbox.BatchSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	relay.Run(ctx, cfg.Outbox.PollInterval)
}

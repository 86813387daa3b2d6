package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"commonwealth/internal/config"
	"commonwealth/internal/db"
	"commonwealth/internal/relay"
	"commonwealth/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("commonwealth-relay"))
	if err != nil {
		logger.Fatal("nats connect", zap.Error(err))
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("jetstream context", zap.Error(err))
	}
	if err := relay.EnsureStream(js, cfg.NATSStream, cfg.NATSSubjectPrefix); err != nil {
		logger.Fatal("ensure stream", zap.Error(err))
	}

	r := relay.New(logger, repository.NewPgDatabase(pool), js, relay.Config{
		SubjectPrefix: cfg.NATSSubjectPrefix,
		BatchSize:     cfg.RelayBatchSize,
		Interval:      cfg.RelayInterval,
	})
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", zap.Error(err))
	}
}

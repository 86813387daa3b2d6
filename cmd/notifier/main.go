package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"commonwealth/internal/config"
	"commonwealth/internal/domain"
	"commonwealth/internal/email"
	"commonwealth/internal/relay"
	"commonwealth/internal/worker"
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

	sender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		smtpSender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			sender = smtpSender
		}
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("commonwealth-notifier"))
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

	sub, err := worker.Start(ctx, logger, worker.Config{
		StreamName:    cfg.NATSStream,
		Subject:       relay.Subject(cfg.NATSSubjectPrefix, domain.EventAddressOwnershipTransferred),
		DurableName:   "transfer-notifier",
		MaxConcurrent: cfg.NotifierWorkers,
		Handler:       worker.NewTransferNotifier(logger, sender),
		JetStream:     js,
	})
	if err != nil {
		logger.Fatal("start subscriber", zap.Error(err))
	}

	<-ctx.Done()
	sub.Stop()
}

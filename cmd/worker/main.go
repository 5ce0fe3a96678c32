package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/joripage/bess-exchange/config"
	nats_wrapper "github.com/joripage/bess-exchange/pkg/infra/nats"
	postgres_wrapper "github.com/joripage/bess-exchange/pkg/infra/postgres"
	"github.com/joripage/bess-exchange/pkg/logging"
	"github.com/joripage/bess-exchange/pkg/worker"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	logger := logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.ServiceName+"-worker")
	log := logger.Zap()
	defer func() { _ = logger.Sync() }()

	if !cfg.Nats.Enabled() || cfg.ExchangeDB == nil {
		log.Fatal("worker needs nats and exchange_db config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, js, err := nats_wrapper.InitJetStream(cfg.Nats)
	if err != nil {
		log.Fatal("init jetstream", zap.Error(err))
	}
	defer nc.Drain()

	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.ExchangeDB)
	if err != nil {
		log.Fatal("init db", zap.Error(err))
	}

	w := worker.NewWorker(worker.Config{
		Batch:        cfg.Worker.Batch,
		FetchWait:    time.Duration(cfg.Worker.FetchWaitMs) * time.Millisecond,
		StoreTimeout: cfg.StoreTimeout(),
	}, worker.NewSQLJournal(db), log)

	if err := w.StartConsumer(ctx, js, cfg.Worker.Subject, cfg.Nats.Durable); err != nil {
		log.Fatal("consumer", zap.Error(err))
	}
	log.Info("worker stopped")
}

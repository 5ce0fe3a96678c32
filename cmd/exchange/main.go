package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/joripage/bess-exchange/config"
	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/api"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/fixgateway"
	"github.com/joripage/bess-exchange/pkg/infra"
	nats_wrapper "github.com/joripage/bess-exchange/pkg/infra/nats"
	redis_wrapper "github.com/joripage/bess-exchange/pkg/infra/redis"
	kafkawrapper "github.com/joripage/bess-exchange/pkg/kafka_wrapper"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/logging"
	"github.com/joripage/bess-exchange/pkg/metrics"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	logger := logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.ServiceName)
	log := logger.Zap()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            cfg.Profiling.Tags,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatal("pyroscope start failed", zap.Error(err))
		}
		defer func() { _ = profiler.Stop() }()
	}

	m := metrics.New()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			log.Fatal("init redis", zap.Error(err))
		}
		defer redisClient.Close()
	}
	needRedis := func(what string) {
		if redisClient == nil {
			log.Fatal("redis backend selected without redis config", zap.String("store", what))
		}
	}

	// ledger
	var l ledger.Ledger = ledger.NewMemory()
	if cfg.Storage.Ledger == config.BackendPostgres {
		if cfg.ExchangeDB == nil {
			log.Fatal("postgres ledger selected without exchange_db config")
		}
		db, err := infra.GetMigrateTool().ConnectAndMigrate(cfg.ExchangeDB, cfg.MigrationSource)
		if err != nil {
			log.Fatal("init exchange db", zap.Error(err))
		}
		l = ledger.NewSQL(db)
	}

	// telemetry
	var tel telemetry.Store = telemetry.NewMemory(cfg.Telemetry)
	if cfg.Storage.Telemetry == config.BackendRedis {
		needRedis("telemetry")
		tel = telemetry.NewRedis(redisClient, cfg.Telemetry)
	}

	// admission
	policyStore := policy.NewStore(cfg.Policy.Path, cfg.Policy.CheckInterval(), log)
	policyStore.OnChange(func(p *policy.Policy) {
		log.Info("policy changed", zap.String("version", p.Version))
	})
	var counter admission.Counter = admission.NewMemoryCounter(nil)
	if cfg.Storage.Counter == config.BackendRedis {
		needRedis("counter")
		counter = admission.NewRedisCounter(redisClient)
	}
	ctrl := admission.NewController(cfg.Admission, counter, tel, policyStore, log,
		admission.WithRejectHook(m.OrderRejected))

	// price feed
	var stream pricefeed.TickStream
	if cfg.Storage.Ticks == config.BackendRedis {
		needRedis("ticks")
		stream = pricefeed.NewRedisStream(redisClient, cfg.PriceFeed.StreamCap)
	}
	var history pricefeed.HistoryStore
	if cfg.PriceHistory.Path != "" || cfg.PriceHistory.InMemory {
		path, fs := cfg.PriceHistory.Path, vfs.Default
		if cfg.PriceHistory.InMemory {
			path, fs = "price-history", vfs.NewMem()
		}
		h, err := pricefeed.NewPebbleHistory(path, fs)
		if err != nil {
			log.Fatal("open price history", zap.Error(err))
		}
		defer h.Close()
		history = h
	}
	feed := pricefeed.NewAggregator(cfg.PriceFeed, stream, history, log)

	// signing + distribution
	keys, err := signing.LoadKeyRing(cfg.Signing, log)
	if err != nil {
		log.Fatal("load signing keys", zap.Error(err))
	}
	dist := distributor.New(cfg.WS, signing.NewSigner(keys), m, log)
	if cfg.Kafka.Enabled() {
		producer := kafkawrapper.NewProducer(cfg.Kafka)
		defer producer.Close()
		dist.AddSink(distributor.NewKafkaSink(producer))
	}
	if cfg.Nats.Enabled() {
		nc, js, err := nats_wrapper.InitJetStream(cfg.Nats)
		if err != nil {
			log.Fatal("init jetstream", zap.Error(err))
		}
		defer nc.Drain()
		dist.AddSink(distributor.NewNatsSink(js, cfg.Nats.SubjectPrefix))
	}

	svc := exchange.NewService(cfg.Exchange, exchange.Deps{
		Ledger:      l,
		Admission:   ctrl,
		Telemetry:   tel,
		Distributor: dist,
		PriceFeed:   feed,
		Metrics:     m,
	}, log)

	if cfg.Fix.Enabled {
		svc.RegisterGateway(fixgateway.NewFixGateway(cfg.Fix, svc, log))
	}

	go dist.Run(ctx)
	if cfg.Policy.Watch {
		go func() {
			if err := policyStore.Run(ctx); err != nil {
				log.Warn("policy watcher stopped", zap.Error(err))
			}
		}()
	}
	if history != nil {
		go feed.RunPruner(ctx, cfg.PriceHistory.PruneInterval())
	}

	if err := svc.Start(ctx); err != nil {
		log.Fatal("start exchange", zap.Error(err))
	}

	server := api.NewServer(cfg.HTTP, api.Deps{
		Exchange:    svc,
		Distributor: dist,
		Policy:      policyStore,
		Keys:        keys,
		PriceFeed:   feed,
		Metrics:     m,
	}, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	log.Info("exchange started", zap.String("addr", cfg.HTTP.Addr))
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	svc.Stop()
	log.Info("exited cleanly")
}

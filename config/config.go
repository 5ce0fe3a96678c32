package config

import (
	"os"
	"time"

	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/api"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/fixgateway"
	nats_wrapper "github.com/joripage/bess-exchange/pkg/infra/nats"
	postgres_wrapper "github.com/joripage/bess-exchange/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/bess-exchange/pkg/infra/redis"
	kafkawrapper "github.com/joripage/bess-exchange/pkg/kafka_wrapper"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	HTTP    api.Config         `yaml:"http"`
	WS      distributor.Config `yaml:"ws"`
	Storage StorageConfig      `yaml:"storage"`

	ExchangeDB      *postgres_wrapper.PostgresConfig `yaml:"exchange_db"`
	MigrationSource string                           `yaml:"migration_source"`
	Redis           *redis_wrapper.RedisConfig       `yaml:"redis"`

	Exchange     exchange.Config    `yaml:"exchange"`
	Admission    admission.Config   `yaml:"admission"`
	Telemetry    telemetry.Reading  `yaml:"telemetry"`
	Policy       PolicyConfig       `yaml:"policy"`
	PriceFeed    pricefeed.Config   `yaml:"price_feed"`
	PriceHistory PriceHistoryConfig `yaml:"price_history"`
	Signing      signing.Config     `yaml:"signing"`

	Kafka  kafkawrapper.ProducerConfig `yaml:"kafka"`
	Nats   *nats_wrapper.NatsConfig    `yaml:"nats"`
	Worker WorkerConfig                `yaml:"worker"`
	Fix    fixgateway.Config           `yaml:"fix"`

	Profiling ProfilingConfig `yaml:"profiling"`

	StoreTimeoutMs int64 `yaml:"store_timeout_ms"`
}

// StorageConfig picks a backend per store: memory, redis or postgres.
type StorageConfig struct {
	Ledger    string `yaml:"ledger"`
	Counter   string `yaml:"counter"`
	Telemetry string `yaml:"telemetry"`
	Ticks     string `yaml:"ticks"`
}

type PolicyConfig struct {
	Path                 string `yaml:"path"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	Watch                bool   `yaml:"watch"`
}

func (c PolicyConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

type PriceHistoryConfig struct {
	// Path of the pebble directory; empty disables history.
	Path                 string `yaml:"path"`
	InMemory             bool   `yaml:"in_memory"`
	PruneIntervalMinutes int    `yaml:"prune_interval_minutes"`
}

func (c PriceHistoryConfig) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMinutes) * time.Minute
}

type WorkerConfig struct {
	Subject     string `yaml:"subject"`
	Batch       int    `yaml:"batch"`
	FetchWaitMs int64  `yaml:"fetch_wait_ms"`
}

type ProfilingConfig struct {
	Enabled         bool              `yaml:"enabled"`
	ApplicationName string            `yaml:"application_name"`
	ServerAddress   string            `yaml:"server_address"`
	Tags            map[string]string `yaml:"tags"`
}

func (c *AppConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMs) * time.Millisecond
}

// defaultConfig is the base the yaml document is decoded over, so absent keys
// keep these values.
func defaultConfig() *AppConfig {
	return &AppConfig{
		ServiceName: "bess-exchange",
		LogLevel:    "info",
		HTTP:        api.Config{Addr: ":9000"},
		Storage: StorageConfig{
			Ledger:    BackendMemory,
			Counter:   BackendMemory,
			Telemetry: BackendMemory,
			Ticks:     BackendMemory,
		},
		MigrationSource: "file://migration/sql",
		Admission:       admission.DefaultConfig(),
		Telemetry:       telemetry.Reading{SocPercent: 100, TemperatureC: 25},
		Policy:          PolicyConfig{Path: "policy.yaml", CheckIntervalSeconds: 2, Watch: true},
		PriceHistory:    PriceHistoryConfig{PruneIntervalMinutes: 60},
		StoreTimeoutMs:  2000,
	}
}

func (c *AppConfig) normalize() {
	if c.Policy.CheckIntervalSeconds <= 0 {
		c.Policy.CheckIntervalSeconds = 2
	}
	if c.PriceHistory.PruneIntervalMinutes <= 0 {
		c.PriceHistory.PruneIntervalMinutes = 60
	}
	if c.Nats != nil {
		if c.Worker.Subject == "" {
			c.Worker.Subject = c.Nats.Subjects()
		}
		if c.Nats.Durable == "" {
			c.Nats.Durable = "event_journal"
		}
	}
	if c.StoreTimeoutMs <= 0 {
		c.StoreTimeoutMs = 2000
	}
	c.Exchange.StoreTimeout = c.StoreTimeout()
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := defaultConfig()

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	cfg.normalize()

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

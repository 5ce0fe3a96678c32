package main

import (
	"encoding/json"
	"flag"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/joripage/bess-exchange/config"
	"github.com/joripage/bess-exchange/pkg/infra"
	"github.com/joripage/bess-exchange/pkg/logging"
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
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.ServiceName+"-migrate")

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	if cfg.ExchangeDB == nil {
		zap.S().Fatal("exchange_db is not configured")
	}

	mgTool := infra.GetMigrateTool()
	if err := mgTool.Migrate(cfg.MigrationSource, cfg.ExchangeDB.MigrationConnURL); err != nil {
		zap.S().Fatalf("migrate: %v", err)
	}
}

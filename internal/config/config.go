package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr      string        `env:"HTTP_ADDR"       envDefault:":8080"`
	DBPath        string        `env:"DB_PATH"         envDefault:"db.sqlite"`
	BlobDir       string        `env:"BLOB_DIR"        envDefault:"blobs"`
	BlobBaseURL   string        `env:"BLOB_BASE_URL"   envDefault:"/images"`
	Domain        string        `env:"DOMAIN"          envDefault:"localhost"`
	FetcherHelp   string        `env:"FETCHER_HELP_URL"`
	SyncSpec      string        `env:"SYNC_CRON_SPEC"  envDefault:"*/30 * * * *"`
	SyncSpreadMin time.Duration `env:"SYNC_SPREAD_MIN" envDefault:"20m"`
	SyncSpreadMax time.Duration `env:"SYNC_SPREAD_MAX" envDefault:"30m"`
	SyncWorkers   int           `env:"SYNC_WORKERS"    envDefault:"8"`
}

func LoadConfig() Config {
	var cfg Config
	env.Must(cfg, env.Parse(&cfg))
	return cfg
}

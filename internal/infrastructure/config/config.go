package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ModeOnce = "once"
	ModeLoop = "loop"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	TransportHTTP = "http"
	TransportWS   = "ws"
)

type Config struct {
	App struct {
		Mode          string `toml:"mode"`
		Schedule      string `toml:"schedule"`
		RunTimeoutSec int    `toml:"run_timeout_sec"`
		PrintEveryMin int    `toml:"print_every_min"`
		Color         bool   `toml:"color"`
	} `toml:"app"`

	Log struct {
		Level string `toml:"level"`
		JSON  bool   `toml:"json"`
	} `toml:"log"`

	State struct {
		Backend string `toml:"backend"`
		Dir     string `toml:"dir"`
		Prefix  string `toml:"prefix"`
	} `toml:"state"`

	Engine struct {
		FetchTimeoutSec int `toml:"fetch_timeout_sec"`
		CloseTimeoutSec int `toml:"close_timeout_sec"`
		StaleAfterMin   int `toml:"stale_after_min"`
		// MaxFetchFailures applies to records that carry no ceiling of their own.
		MaxFetchFailures int `toml:"max_fetch_failures"`
	} `toml:"engine"`

	Hyperliquid struct {
		InfoURL   string `toml:"info_url"`
		WsURL     string `toml:"ws_url"`
		Transport string `toml:"transport"`
		Dex       string `toml:"dex"`
	} `toml:"hyperliquid"`

	Closer struct {
		Command string   `toml:"command"`
		Args    []string `toml:"args"`
	} `toml:"closer"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Redis struct {
		Enabled        bool   `toml:"enabled"`
		Addr           string `toml:"addr"`
		Password       string `toml:"password"`
		DB             int    `toml:"db"`
		Prefix         string `toml:"prefix"`
		TTLSeconds     int    `toml:"ttl_seconds"`
		LockTTLSeconds int    `toml:"lock_ttl_seconds"`
		EventStream    string `toml:"event_stream"`
		EventChannel   string `toml:"event_channel"`
	} `toml:"redis"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	S3 struct {
		Enabled      bool   `toml:"enabled"`
		Bucket       string `toml:"bucket"`
		Region       string `toml:"region"`
		Endpoint     string `toml:"endpoint"`
		AccessKey    string `toml:"access_key"`
		SecretKey    string `toml:"secret_key"`
		Prefix       string `toml:"prefix"`
		UsePathStyle bool   `toml:"use_path_style"`
	} `toml:"s3"`

	Metrics struct {
		Enabled   bool   `toml:"enabled"`
		Namespace string `toml:"namespace"`
	} `toml:"metrics"`

	HTTP struct {
		Enabled        bool     `toml:"enabled"`
		Addr           string   `toml:"addr"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"http"`
}

// Load decodes path (skipped when empty), loads .env if present, applies
// XDSL_* overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Mode == "" {
		cfg.App.Mode = ModeOnce
	}
	if cfg.App.Schedule == "" {
		cfg.App.Schedule = "@every 30s"
	}
	if cfg.App.RunTimeoutSec <= 0 {
		cfg.App.RunTimeoutSec = 120
	}
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendFile
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "state"
	}
	if cfg.State.Prefix == "" {
		cfg.State.Prefix = "dsl-"
	}

	if cfg.Engine.FetchTimeoutSec <= 0 {
		cfg.Engine.FetchTimeoutSec = 15
	}
	if cfg.Engine.CloseTimeoutSec <= 0 {
		cfg.Engine.CloseTimeoutSec = 30
	}
	if cfg.Engine.StaleAfterMin <= 0 {
		cfg.Engine.StaleAfterMin = 10
	}
	if cfg.Engine.MaxFetchFailures <= 0 {
		cfg.Engine.MaxFetchFailures = 10
	}

	if cfg.Hyperliquid.InfoURL == "" {
		cfg.Hyperliquid.InfoURL = "https://api.hyperliquid.xyz/info"
	}
	if cfg.Hyperliquid.WsURL == "" {
		cfg.Hyperliquid.WsURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Hyperliquid.Transport == "" {
		cfg.Hyperliquid.Transport = TransportHTTP
	}
	if cfg.Hyperliquid.Dex == "" {
		cfg.Hyperliquid.Dex = "xyz"
	}

	if cfg.Closer.Command == "" {
		cfg.Closer.Command = "mcporter"
	}
	if len(cfg.Closer.Args) == 0 {
		cfg.Closer.Args = []string{"call", "senpi", "close_position"}
	}

	if cfg.State.Backend == BackendSQLite {
		cfg.SQLite.Enabled = true
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/xdsl.db"
	}
	if cfg.State.Backend == BackendRedis {
		cfg.Redis.Enabled = true
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "xdsl:"
	}
	if cfg.Redis.LockTTLSeconds <= 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
	if cfg.Redis.EventStream == "" {
		cfg.Redis.EventStream = "xdsl:events"
	}

	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "closed/"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "xdsl"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8089"
	}
}

func validate(cfg *Config) error {
	cfg.App.Mode = strings.ToLower(strings.TrimSpace(cfg.App.Mode))
	if cfg.App.Mode != ModeOnce && cfg.App.Mode != ModeLoop {
		return fmt.Errorf("app.mode %q: want once or loop", cfg.App.Mode)
	}

	cfg.State.Backend = strings.ToLower(strings.TrimSpace(cfg.State.Backend))
	switch cfg.State.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("state.backend %q unsupported", cfg.State.Backend)
	}

	cfg.Hyperliquid.Transport = strings.ToLower(strings.TrimSpace(cfg.Hyperliquid.Transport))
	if cfg.Hyperliquid.Transport != TransportHTTP && cfg.Hyperliquid.Transport != TransportWS {
		return fmt.Errorf("hyperliquid.transport %q: want http or ws", cfg.Hyperliquid.Transport)
	}

	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	if cfg.S3.Enabled && strings.TrimSpace(cfg.S3.Bucket) == "" {
		return errors.New("s3.bucket empty but enabled")
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return errors.New("http.addr empty but enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.App.Mode, "XDSL_MODE")
	setStr(&cfg.App.Schedule, "XDSL_SCHEDULE")
	setStr(&cfg.Log.Level, "XDSL_LOG_LEVEL")
	setBool(&cfg.Log.JSON, "XDSL_LOG_JSON")

	setStr(&cfg.State.Backend, "XDSL_STATE_BACKEND")
	setStr(&cfg.State.Dir, "XDSL_STATE_DIR")
	setStr(&cfg.State.Prefix, "XDSL_STATE_PREFIX")
	setInt(&cfg.Engine.MaxFetchFailures, "XDSL_MAX_FETCH_FAILURES")

	setStr(&cfg.Hyperliquid.InfoURL, "XDSL_HL_INFO_URL")
	setStr(&cfg.Hyperliquid.Transport, "XDSL_HL_TRANSPORT")
	setStr(&cfg.Closer.Command, "XDSL_CLOSER_COMMAND")

	setStr(&cfg.SQLite.Path, "XDSL_SQLITE_PATH")
	setStr(&cfg.Redis.Addr, "XDSL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XDSL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XDSL_REDIS_DB")
	setStr(&cfg.Postgres.DSN, "XDSL_POSTGRES_DSN")

	setStr(&cfg.S3.Bucket, "XDSL_S3_BUCKET")
	setStr(&cfg.S3.Endpoint, "XDSL_S3_ENDPOINT")
	setStr(&cfg.S3.AccessKey, "XDSL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "XDSL_S3_SECRET_KEY")

	setBool(&cfg.HTTP.Enabled, "XDSL_HTTP_ENABLED")
	setStr(&cfg.HTTP.Addr, "XDSL_HTTP_ADDR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

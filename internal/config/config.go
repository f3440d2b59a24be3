package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreDriver string

const (
	DriverMongo  StoreDriver = "mongo"
	DriverSQLite StoreDriver = "sqlite"
	DriverMemory StoreDriver = "memory"
)

type TraceExporter string

const (
	TraceNone   TraceExporter = "none"
	TraceStdout TraceExporter = "stdout"
	TraceOTLP   TraceExporter = "otlp"
)

type Config struct {
	Port           int
	RequestTimeout time.Duration
	LogLevel       slog.Level

	StoreDriver StoreDriver

	MongoURI            string
	MongoDatabase       string
	MongoCollection     string
	MongoConnectTimeout time.Duration

	SQLitePath string

	// RedisURL enables the get-by-id cache when non-empty.
	RedisURL string
	CacheTTL time.Duration

	TraceExporter TraceExporter
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an env lookup func.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		LogLevel:        parseLevel(get("LOG_LEVEL", "info")),
		StoreDriver:     StoreDriver(strings.ToLower(get("STORE_DRIVER", string(DriverMongo)))),
		MongoURI:        get("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:   get("MONGODB_DATABASE", "Todo"),
		MongoCollection: get("MONGODB_COLLECTION", "tasks"),
		SQLitePath:      get("SQLITE_PATH", "data/tasks.db"),
		RedisURL:        get("REDIS_URL", ""),
		TraceExporter:   TraceExporter(strings.ToLower(get("OTEL_TRACES_EXPORTER", string(TraceNone)))),
	}

	port, err := strconv.Atoi(get("PORT", "5000"))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %q", get("PORT", ""))
	}
	cfg.Port = port

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", "15s", &cfg.RequestTimeout},
		{"MONGODB_CONNECT_TIMEOUT", "10s", &cfg.MongoConnectTimeout},
		{"CACHE_TTL", "5m", &cfg.CacheTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(get(d.key, d.def))
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q", d.key, get(d.key, d.def))
		}
		*d.dst = v
	}

	switch cfg.StoreDriver {
	case DriverMongo, DriverSQLite, DriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.TraceExporter {
	case TraceNone, TraceStdout, TraceOTLP:
	default:
		return Config{}, fmt.Errorf("unknown OTEL_TRACES_EXPORTER %q", cfg.TraceExporter)
	}

	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

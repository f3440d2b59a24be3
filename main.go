package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/s1natex/todo-api/internal/config"
	"github.com/s1natex/todo-api/internal/middleware"
	"github.com/s1natex/todo-api/internal/tasks"
	"github.com/s1natex/todo-api/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger) // for third-party packages that use slog

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.TraceExporter, "todo-api")
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// The store must be reachable before anything is served.
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeRepo(cctx); err != nil {
			logger.Warn("store_close", slog.String("error", err.Error()))
		}
	}()
	logger.Info("store_connected", slog.String("driver", string(cfg.StoreDriver)))

	if cfg.RedisURL != "" {
		rc, err := newRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		repo = tasks.NewCachedRepo(repo, rc, cfg.CacheTTL)
	}
	repo = tasks.NewTracedRepo(repo, string(cfg.StoreDriver))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(repo, logger, cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listen", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// openRepository connects the configured store and returns it with its
// closer.
func openRepository(ctx context.Context, cfg config.Config) (tasks.Repository, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		cctx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout)
		defer cancel()
		repo, err := tasks.ConnectMongo(cctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil

	case config.DriverSQLite:
		dsn, err := tasks.SQLiteFileDSN(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo, err := tasks.NewSQLiteRepo(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.ApplyMigrations(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, func(context.Context) error { return repo.Close() }, nil

	case config.DriverMemory:
		return tasks.NewInMemoryRepo(), func(context.Context) error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// newRedisClient parses url and pings once. An unreachable Redis is only
// logged: cache reads fall back to the store.
func newRedisClient(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		logger.Warn("redis_unreachable", slog.String("addr", opts.Addr), slog.String("error", err.Error()))
	}
	return rc, nil
}

// newRouter wires the liveness, health and metrics endpoints, task routes,
// and middleware stack
func newRouter(repo tasks.Repository, logger *slog.Logger, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	// ---- Middleware stack (order matters a bit) ----
	// RequestID first so downstream can include it (logger, errors, etc.)
	r.Use(chimw.RequestID)

	// Panic recovery: never crash the server; returns 500 on panics
	r.Use(chimw.Recoverer)

	// Timeouts: the request context is cancelled after this duration and
	// store calls see the deadline
	r.Use(chimw.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Trace-Id"},
		AllowCredentials: false,
		MaxAge:           300, // 5 minutes
	}))

	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RequestLogger(logger))

	// ---- Routes ----

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		tasks.WriteJSON(w, http.StatusOK, tasks.Envelope{
			Status:  true,
			Message: fmt.Sprintf("Server is running at %s!", now.Format("15:04:05")),
			Data:    map[string]string{"time": now.Format(time.RFC3339)},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			logger.Warn("health_check_failed", slog.String("error", err.Error()))
			tasks.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		tasks.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	tasks.RegisterRoutes(r, repo, logger)

	return r
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

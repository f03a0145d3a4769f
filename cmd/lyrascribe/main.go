// Command lyrascribe runs the LyraScribe transcription service: the HTTP
// gateway and the job queue workers in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lyrascribe/lyrascribe/internal/bus"
	"github.com/lyrascribe/lyrascribe/internal/config"
	"github.com/lyrascribe/lyrascribe/internal/fetch"
	"github.com/lyrascribe/lyrascribe/internal/gateway"
	"github.com/lyrascribe/lyrascribe/internal/health"
	"github.com/lyrascribe/lyrascribe/internal/joblog"
	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/observe"
	"github.com/lyrascribe/lyrascribe/internal/queue"
	"github.com/lyrascribe/lyrascribe/internal/vad"
	"github.com/lyrascribe/lyrascribe/internal/worker"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech/gemini"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Environment from .env, if present.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lyrascribe: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lyrascribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"worker_concurrency", cfg.Pipeline.WorkerConcurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lyrascribe",
	})
	if err != nil {
		slog.Error("initialising telemetry failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Job log store ─────────────────────────────────────────────────────────
	var (
		store    joblog.Store
		checkers []health.Checker
	)
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("connecting to database failed", "err", err)
			return 1
		}
		defer pool.Close()

		pg := joblog.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migrating job log schema failed", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pool.Ping})
	} else {
		slog.Warn("database.url is empty; job rows are kept in memory only")
		store = joblog.NewMemStore()
	}

	// ── Broker: event bus + job queue ─────────────────────────────────────────
	redisOpt, err := redis.ParseURL(cfg.Broker.URL)
	if err != nil {
		slog.Error("parsing broker url failed", "err", err)
		return 1
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()
	checkers = append(checkers, health.Checker{
		Name:  "broker",
		Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	eventBus := bus.NewRedisBus(redisClient, logger)
	go func() {
		if err := eventBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event bus consumer stopped", "err", err)
		}
	}()

	queueClient, err := queue.NewClient(cfg.Broker.URL)
	if err != nil {
		slog.Error("connecting job queue failed", "err", err)
		return 1
	}
	defer queueClient.Close()

	// ── Pipeline collaborators ────────────────────────────────────────────────
	scratch, err := media.NewScratch(cfg.Pipeline.ScratchDir)
	if err != nil {
		slog.Error("preparing scratch storage failed", "err", err)
		return 1
	}

	registry := speech.NewRegistry()
	registry.Register("google", func(c speech.Config) (speech.Adapter, error) {
		return gemini.New(c)
	})
	registry.Register("openai", func(c speech.Config) (speech.Adapter, error) {
		return openai.New(c)
	})

	vadEngine := vad.NewEngine()
	book := cfg.Book()

	w := worker.New(store, eventBus, registry, vadEngine, book, scratch,
		worker.WithLogger(logger),
		worker.WithMetrics(metrics),
		worker.WithSplitThreshold(cfg.Pipeline.SplitThresholdSeconds),
		worker.WithMinSilence(cfg.Pipeline.MinSilenceSeconds),
	)

	queueServer, err := queue.NewServer(cfg.Broker.URL, cfg.Pipeline.WorkerConcurrency, w.Process, logger)
	if err != nil {
		slog.Error("building queue server failed", "err", err)
		return 1
	}
	go func() {
		if err := queueServer.Run(); err != nil {
			slog.Error("queue server stopped", "err", err)
			stop()
		}
	}()

	// ── Gateway ───────────────────────────────────────────────────────────────
	fetchOpts := []fetch.Option{fetch.WithLogger(logger), fetch.WithMetrics(metrics)}
	if cfg.Pipeline.FetchMaxBytes > 0 {
		fetchOpts = append(fetchOpts, fetch.WithMaxBytes(cfg.Pipeline.FetchMaxBytes))
	}
	fetcher := fetch.New(cfg.Pipeline.FetchPoolSize, fetchOpts...)

	gw := gateway.New(store, eventBus, queueClient, scratch, book, registry,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithFetcher(fetcher),
		gateway.WithVAD(vadEngine),
		gateway.WithHealthCheckers(checkers...),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("gateway listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway stopped", "err", err)
			stop()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down",
		"providers", registry.Names())

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown error", "err", err)
	}
	// Waits for in-flight jobs before returning.
	queueServer.Shutdown()

	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Lotkeeper mirrors remote auction listings into a local database.
//
// It periodically walks a target's listing pages, fetches details for lots
// whose fingerprints changed, and serves the synced state plus a live event
// stream over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/bidwatch/lotkeeper/internal/api"
	"github.com/bidwatch/lotkeeper/internal/events"
	"github.com/bidwatch/lotkeeper/internal/fetch"
	"github.com/bidwatch/lotkeeper/internal/migrations"
	"github.com/bidwatch/lotkeeper/internal/sqlite"
	lksync "github.com/bidwatch/lotkeeper/internal/sync"
	"github.com/bidwatch/lotkeeper/logger"
)

type config struct {
	Database string `env:"DATABASE, required"`
	Port     int    `env:"PORT, default=4444"`

	// Hosts the fetcher may talk to. Empty allows any host.
	AllowedHosts []string `env:"ALLOWED_HOSTS"`

	FetchConcurrency int64         `env:"FETCH_CONCURRENCY, default=4"`
	PerHostDelay     time.Duration `env:"PER_HOST_DELAY, default=500ms"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT, default=10s"`
	FetchMaxAttempts int           `env:"FETCH_MAX_ATTEMPTS, default=4"`

	CorsHeader string `env:"CORS_HEADER, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(logger.NewContextHandler(handler)))

	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "database", cfg.Database)

	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	var (
		repo = sqlite.New(dbx)
		bus  = events.NewBus()

		fetcher = fetch.New(fetch.Config{
			AllowedHosts:   cfg.AllowedHosts,
			Concurrency:    cfg.FetchConcurrency,
			PerHostDelay:   cfg.PerHostDelay,
			RequestTimeout: cfg.RequestTimeout,
			MaxAttempts:    cfg.FetchMaxAttempts,
		})
		orch   = lksync.NewOrchestrator(fetcher, repo, bus, int(cfg.FetchConcurrency))
		runner = lksync.NewRunner(orch, bus)

		srvr = api.NewServer(ctx, api.ServerConfig{
			Port:       cfg.Port,
			CorsHeader: cfg.CorsHeader,
		}, repo, orch, runner, bus)
	)

	var g run.Group
	g.Add(func() error {
		slog.Info("listening", "addr", srvr.Addr)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

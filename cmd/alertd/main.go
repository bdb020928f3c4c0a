package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/gifmada/alertd/internal/directory"
	"github.com/gifmada/alertd/internal/engine"
	"github.com/gifmada/alertd/internal/notify"
	"github.com/gifmada/alertd/internal/server"
	"github.com/gifmada/alertd/internal/telemetry"
	"github.com/gifmada/alertd/pkg/config"
	"github.com/gifmada/alertd/pkg/logging"
	"github.com/gifmada/alertd/pkg/state/statemanager"
)

func main() {
	os.Exit(run())
}

// run wires the service and blocks until it stops. Deferred cleanup runs
// before main exits with the returned code.
func run() int {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logger.Error("Invalid command line", slog.Any("error", err))
		return 2
	}

	selectors := engine.NewRegistry(logger)
	selectors.RegisterCore()
	logger.Info("Recipient selectors initialized.")

	cfg, err := config.Load(logger, flags, selectors.Build)
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		return 1
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meterProvider, scrape, err := telemetry.NewPrometheusProvider()
	if err != nil {
		logger.Error("Failed to set up metrics", slog.Any("error", err))
		return 1
	}
	otel.SetMeterProvider(meterProvider)
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down metrics", slog.Any("error", err))
		}
	}()

	var dir directory.Directory
	if cfg.Database.URL != "" {
		pg, err := directory.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConns, directory.WithLogger(logger))
		if err != nil {
			logger.Error("Failed to connect to the user directory", slog.Any("error", err))
			return 1
		}
		defer pg.Close()
		dir = pg
	} else {
		logger.Warn("No database configured, using the static directory", slog.Int("users", len(cfg.Directory.Users)))
		dir = directory.NewStaticFromConfig(cfg.Directory)
	}

	app, err := server.NewApp(logger, cfg, server.Deps{
		Registry:       statemanager.NewInMemoryManager(logger),
		Directory:      dir,
		Notifier:       notify.FromConfig(logger, cfg.Notify.SMTP),
		Metrics:        telemetry.New(),
		MetricsHandler: scrape,
	})
	if err != nil {
		logger.Error("Failed to build application", slog.Any("error", err))
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		return 1
	}
	logger.Info("Application shut down successfully.")
	return 0
}

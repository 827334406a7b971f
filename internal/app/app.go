package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/db"
	"github.com/reelscout/backend/internal/handlers"
	"github.com/reelscout/backend/internal/httpserver"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
	"github.com/reelscout/backend/internal/middleware"
)

// Run bootstraps the ReelScout backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, worker, migrate, or analyze")
	}

	switch args[0] {
	case "serve":
		return serve(ctx, true)
	case "worker":
		return serve(ctx, false)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "analyze":
		return runAnalyze(ctx, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setup() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

// serve runs the queue workers and the refresh scheduler and, when withHTTP
// is set, the HTTP API, until the context ends or a signal arrives.
func serve(ctx context.Context, withHTTP bool) error {
	cfg, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	comps, cleanup, err := buildComponents(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(context.Background()); err != nil {
			logger.Error("release dependencies", "error", err)
		}
	}()

	w, err := startWorkers(comps, cfg, logger)
	if err != nil {
		return err
	}

	var srv *httpserver.Server
	srvErr := make(chan error, 1)
	if withHTTP {
		mux := http.NewServeMux()
		handlers.RegisterRoutes(mux, comps.handlerDependencies(cfg))
		handler := middleware.RequestLogger(logger, comps.metrics)(mux)

		srv = httpserver.New(cfg.AppPort, handler, httpserver.Options{
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
		})

		logger.Info("starting http server", "port", cfg.AppPort)
		go func() {
			srvErr <- srv.Start()
		}()
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if err := w.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown workers: %w", err))
	}
	return runErr
}

// runAnalyze processes one video URL and writes the result as JSON.
func runAnalyze(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected video url")
	}

	cfg, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	processor, err := newProcessor(ctx, cfg, metrics.New())
	if err != nil {
		return err
	}

	ctx = logging.WithLogger(ctx, logger)
	result, err := processor.ProcessVideo(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

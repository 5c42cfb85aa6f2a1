// Package app wires configuration, logging, the analysis service and the
// HTTP server into one runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"costwatch/internal/anomaly"
	"costwatch/internal/config"
	apperrors "costwatch/internal/errors"
	"costwatch/internal/infrastructure"
	"costwatch/internal/ingest"
	"costwatch/internal/metrics"
	"costwatch/internal/report"
	"costwatch/internal/services"
	transport "costwatch/internal/transport/http"
)

const (
	// AppName identifies the service in logs.
	AppName = "costwatch"
	// Version is the release tag, overridable at build time with -ldflags.
	Version = "dev"
)

// Application holds every long-lived component of the web service.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Service *services.AnalysisService
	Server  *http.Server
}

// NewApplication loads configuration and builds the full component graph.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, apperrors.NewConfigError("failed to load config", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	overlay, err := cfg.RuleOverlay()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule overlay: %w", err)
	}
	pipeline, err := anomaly.NewPipeline(cfg.PipelineOptions(), overlay, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	m := metrics.New()
	svc := services.NewAnalysisService(ingest.NewReader(logger), pipeline, m, logger)
	router := transport.NewRouter(cfg, svc, report.NewWriter(logger), m, Version, logger)

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Service: svc,
		Server: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    cfg.Server.IdleTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}
	return app, nil
}

// Run starts the server and blocks until an interrupt or a server failure,
// then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.InfoContext(ctx, "starting application",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("log_level", a.Config.Logging.Level))

	errCh := make(chan error, 1)
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}

// Stop shuts the server down within the configured timeout.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("log file close error: %w", err)
	}
	a.Logger.Info("application stopped")
	return nil
}

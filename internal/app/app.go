// Package app wires the engine's components together and manages process
// lifecycle: New/Start/Stop/Run.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/internal/config"
	"github.com/navshield/sentineltrace/internal/httpapi"
	"github.com/navshield/sentineltrace/pkg/classifier"
	"github.com/navshield/sentineltrace/pkg/monitor"
	"github.com/navshield/sentineltrace/pkg/service"
	"github.com/navshield/sentineltrace/pkg/similarity"
	"github.com/navshield/sentineltrace/pkg/source"
	"github.com/navshield/sentineltrace/pkg/store"
)

// App coordinates the store, session service, and HTTP API across the
// process lifetime.
type App struct {
	config *config.Config
	logger *logrus.Logger

	store      *store.Store
	service    *service.Service
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SensorFactory is injected so the caller can supply a real kernel sensor
// or a fake one in tests.
type SensorFactory func() (source.Sensor, error)

// New loads configuration, opens the store, and wires the session service.
// httpAddr is empty to disable the HTTP API entirely.
func New(configFile string, httpAddr string, sensorFactory SensorFactory, logger *logrus.Logger) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	engine, err := similarity.New(similarity.Config{
		Weights: similarity.Weights{
			Histogram:        cfg.Weights.Histogram,
			CriticalPresence: cfg.Weights.CriticalPresence,
			Temporal:         cfg.Weights.Temporal,
			Context:          cfg.Weights.Context,
		},
		MinimumThreshold: cfg.MinimumSimilarityThreshold,
		HighConfidence:   cfg.HighConfidenceThreshold,
		MediumConfidence: cfg.MediumConfidenceThreshold,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: construct similarity engine: %w", err)
	}

	classify := classifier.New(cfg.HighConfidenceThreshold, cfg.MediumConfidenceThreshold, cfg.MinimumSimilarityThreshold)

	ctx, cancel := context.WithCancel(context.Background())

	svc := service.New(st, service.SensorFactory(sensorFactory), engine, classify, monitorConfigFromAppConfig(cfg), nil, logger)

	a := &App{config: &cfg, logger: logger, store: st, service: svc, ctx: ctx, cancel: cancel}

	if httpAddr != "" {
		router := httpapi.NewRouter(svc, logger)
		a.httpServer = &http.Server{Addr: httpAddr, Handler: router}
	}

	return a, nil
}

// Start begins serving the HTTP API, if configured.
func (a *App) Start() error {
	a.logger.Info("starting sentineltrace")

	if a.httpServer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.WithField("addr", a.httpServer.Addr).Info("starting HTTP API")
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.WithError(err).Error("HTTP API server error")
			}
		}()
	}

	a.logger.Info("sentineltrace started")
	return nil
}

// Stop gracefully shuts down the HTTP server, stops any active session, and
// closes the store. Errors from individual steps are logged but do not
// prevent the others from running.
func (a *App) Stop() error {
	a.logger.Info("stopping sentineltrace")
	a.cancel()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("failed to shut down HTTP API cleanly")
		}
	}

	a.service.Dispose()

	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Error("failed to close store")
	}

	a.wg.Wait()
	a.logger.Info("sentineltrace stopped")
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM, then stops cleanly.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	a.logger.Info("shutdown signal received")
	return a.Stop()
}

// Service exposes the wired session service façade, used by the CLI's
// subcommands for one-shot operations.
func (a *App) Service() *service.Service { return a.service }

func monitorConfigFromAppConfig(cfg config.Config) monitor.Config {
	return monitor.Config{
		AnalysisInterval:  time.Duration(cfg.AnalysisIntervalSeconds) * time.Second,
		DefaultTimeWindow: time.Duration(cfg.DefaultTimeWindowMinutes) * time.Minute,
		SignatureCacheTTL: 5 * time.Minute,
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/duplicates"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/handlers"
	"github.com/esprusso/photo-library/internal/indexer"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/media"
	"github.com/esprusso/photo-library/internal/memory"
	"github.com/esprusso/photo-library/internal/metrics"
	"github.com/esprusso/photo-library/internal/middleware"
	"github.com/esprusso/photo-library/internal/startup"
	"github.com/esprusso/photo-library/internal/tagger"
	"github.com/esprusso/photo-library/internal/tasks"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout          = 30 * time.Second
	metricsCollectorInterval = time.Minute
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background job runner",
		Long: `Run the HTTP API, the background job runner and, when enabled, the
Prometheus metrics listener. Configuration comes from the environment and an
optional .env file; --db overrides DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := startup.LoadConfig()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if flags.dbURL != "" {
				config.DatabaseURL = flags.dbURL
			}
			return serve(config)
		},
	}
}

// app holds the components wired by serve.
type app struct {
	db      *database.Database
	runner  *jobs.Runner
	handler http.Handler
	metrics http.Handler
}

func newApp(ctx context.Context, config *startup.Config) (*app, error) {
	dbStart := time.Now()
	db, err := database.Open(ctx, config.DatabaseURL, config.DatabaseOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	startup.LogDatabaseInit(db, time.Since(dbStart))

	paths, err := config.PathMapper()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load path mappings: %w", err)
	}

	var thumbs *media.ThumbnailGenerator
	if config.ThumbnailsEnabled {
		thumbs = media.NewThumbnailGenerator(config.ThumbnailDir, config.ThumbnailSize)
	}
	downloads := ""
	if config.ExportsEnabled {
		downloads = config.DownloadsDir
	}

	scanner := indexer.NewScanner(db, config.LibraryPaths, config.ExcludeRaw,
		indexer.WithThumbnails(thumbs),
		indexer.WithPathMapper(paths))
	dups := duplicates.NewService(db,
		duplicates.WithPathMapper(paths),
		duplicates.WithThumbnails(thumbs),
		duplicates.WithMediaDir(config.MediaDir))

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start(ctx)

	runnerConfig := config.RunnerConfig()
	runnerConfig.Gate = monitor
	runner := jobs.NewRunner(jobs.NewLedger(db, config.StallWindow), runnerConfig)
	tasks.Register(runner, tasks.Deps{
		DB:           db,
		Scanner:      scanner,
		Thumbnails:   thumbs,
		Tagger:       tagger.New(),
		Paths:        paths,
		DownloadsDir: downloads,
	})
	startup.LogRunnerInit(runnerConfig, runner.Types())

	h := handlers.New(db, runner, dups, config)
	router := h.Router()
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(
		middleware.Logger(loggingConfig)(router))

	return &app{db: db, runner: runner, handler: handler, metrics: h.MetricsHandler()}, nil
}

func serve(config *startup.Config) error {
	startTime := time.Now()

	memory.ConfigureFromEnv()
	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.db.Close()

	collector := metrics.NewCollector(a.db, metricsCollectorInterval)
	collector.Start()
	defer collector.Stop()

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	var metricsSrv *http.Server
	if config.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics)
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := a.runner.Start(gctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	startup.LogRunnerStarted()
	g.Go(func() error {
		a.runner.Wait()
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		reason := "error"
		select {
		case sig := <-sigChan:
			reason = sig.String()
		case <-gctx.Done():
		}
		shutdown(reason, cancel, srv, metricsSrv)
		return nil
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	err = g.Wait()
	startup.LogShutdownComplete()
	return err
}

// shutdown stops the HTTP listeners first so no new jobs are accepted, then
// cancels the runner context.
func shutdown(reason string, stopRunner context.CancelFunc, srv, metricsSrv *http.Server) {
	startup.LogShutdownInitiated(reason)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Stopping job runner")
	stopRunner()
	startup.LogShutdownStepComplete("Job runner stopped")
}

// Package main wires together the fetch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/api"
	"github.com/jbeaumont/fetchd/internal/browser"
	"github.com/jbeaumont/fetchd/internal/challenge"
	"github.com/jbeaumont/fetchd/internal/clock/system"
	"github.com/jbeaumont/fetchd/internal/config"
	"github.com/jbeaumont/fetchd/internal/fetch"
	"github.com/jbeaumont/fetchd/internal/fetcher/light"
	"github.com/jbeaumont/fetchd/internal/id/uuid"
	"github.com/jbeaumont/fetchd/internal/logging"
	"github.com/jbeaumont/fetchd/internal/orchestrator"
	"github.com/jbeaumont/fetchd/internal/progress"
	"github.com/jbeaumont/fetchd/internal/progress/sinks"
	"github.com/jbeaumont/fetchd/internal/session"
	"github.com/jbeaumont/fetchd/internal/solver"
	memoryStorage "github.com/jbeaumont/fetchd/internal/storage/memory"
	"github.com/jbeaumont/fetchd/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("progress metrics init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{
		Logger: logger.Named("progress"),
	}, promSink, sinks.NewLogSink(logger.Named("progress")))

	clock := system.New()
	idGen := uuid.New()
	jobStore := memoryStorage.NewJobStore(clock)
	detector := challenge.NewKeywordDetector(nil)

	solverClient := solver.New(solver.Config{
		BaseURL:        cfg.Solver.URL,
		DefaultTimeout: cfg.SolverTimeout(),
	}, logger.Named("solver"))

	lightFetcher := light.New(light.Config{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.NavTimeout(),
	})
	sessions := session.New(session.Config{
		MaxStale:     cfg.SessionMaxStale(),
		SolveTimeout: cfg.SolverTimeout(),
	}, solverClient, lightFetcher, clock, logger.Named("session"))

	engine := browser.New(browser.Config{
		UserAgent:         cfg.Browser.UserAgent,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: cfg.NavTimeout(),
	}, logger.Named("browser"))
	defer func() {
		_ = engine.Close()
	}()

	fetchers := map[fetch.Engine]fetch.PageFetcher{
		fetch.EngineBrowser: browser.NewPageFetcher(engine),
		fetch.EngineSession: session.NewPageFetcher(sessions),
	}
	fetchWorker := worker.New(worker.Config{
		NavigationTimeout: cfg.NavTimeout(),
		SettleExtra:       cfg.SettleExtra(),
		ProxyPerAttempt:   cfg.Fetch.ProxyPerAttempt,
		HostQPS:           cfg.Fetch.HostQPS,
	}, jobStore, fetchers, detector, hub, clock, logger.Named("worker"))

	jobs := orchestrator.New(orchestrator.Limits{
		MaxURLs:            cfg.Fetch.MaxURLs,
		MaxConcurrency:     cfg.Fetch.MaxConcurrency,
		DefaultConcurrency: cfg.Fetch.DefaultConcurrency,
		DefaultRetries:     cfg.Fetch.DefaultRetries,
		MaxWait:            cfg.MaxWait(),
	}, jobStore, fetchWorker, hub, clock, idGen, logger.Named("orchestrator"))

	apiServer := api.NewServer(jobs, sessions, solverClient, registry, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go runSessionSweeper(ctx, sessions, cfg.SessionCleanupInterval(), logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	jobs.Wait()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// runSessionSweeper periodically evicts stale session entries so the cache
// does not grow without bound between reads.
func runSessionSweeper(ctx context.Context, sessions *session.Cache, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := sessions.Cleanup(); removed > 0 {
				logger.Debug("session sweep", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

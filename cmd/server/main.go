// Command server starts the optimization job service: HTTP API, in-process
// worker pool, job store eviction loop and sandbox executor.
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

	httpserver "github.com/kThendral/OptimizeHub-sub000/internal/adapter/httpserver"
	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/queue/memqueue"
	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/store/memstore"
	"github.com/kThendral/OptimizeHub-sub000/internal/algorithm"
	"github.com/kThendral/OptimizeHub-sub000/internal/app"
	"github.com/kThendral/OptimizeHub-sub000/internal/config"
	"github.com/kThendral/OptimizeHub-sub000/internal/sandbox"
	"github.com/kThendral/OptimizeHub-sub000/internal/usecase"
	"github.com/kThendral/OptimizeHub-sub000/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: job store, queue, sandbox.
	store := memstore.New(cfg.ResultRetention, cfg.SubscriberBuffer)
	defer store.Close()
	queue := memqueue.New(cfg.QueueCapacity)

	exec, err := sandbox.NewExecutor(sandbox.Options{
		Image:        cfg.SandboxImage,
		MemoryBytes:  cfg.SandboxMemoryBytes,
		CPUShares:    cfg.SandboxCPUShares,
		ScratchBytes: cfg.SandboxScratchBytes,
		Timeout:      cfg.SandboxTimeout,
	})
	if err != nil {
		slog.Error("docker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = exec.Close() }()

	// Background loops own a context released on shutdown; workers drain
	// dequeued jobs before exiting.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if cfg.ResultRetention > 0 {
		go store.RunEviction(bgCtx, cfg.EvictInterval)
		slog.Info("eviction loop started",
			slog.Duration("retention", cfg.ResultRetention),
			slog.Duration("interval", cfg.EvictInterval))
	}

	runner := &algorithm.Runner{Sandbox: exec}
	pool := worker.New(store, queue, runner, cfg.PoolSize(), cfg.JobHardTimeout, cfg.SoftTimeout(), cfg.RetryPolicy())
	pool.Start(bgCtx)

	// Usecases and HTTP surface.
	submitSvc := usecase.NewSubmitService(store, queue)
	resultSvc := usecase.NewResultService(store)
	customSvc := usecase.NewCustomService(exec)
	srv := httpserver.NewServer(cfg, submitSvc, resultSvc, customSvc, exec.Ping)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Stop accepting work, then let in-flight jobs reach a terminal state.
	bgCancel()
	pool.Wait()
	slog.Info("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/docextract/internal/adapters/http"
	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(os.Stdout, "worker", cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "worker", Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	opsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           httpadapter.NewWorkerHandler(app.Admission, app.Breakers, app.WorkerMetrics.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker_ops_listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSAcceptedSubject, "file_concurrency", cfg.FileConcurrency)
		return app.Queue.SubscribeSessionAccepted(gctx, app.ProcessUC.ProcessByID)
	})
	g.Go(func() error {
		return app.Queue.SubscribeSessionAbort(gctx, func(_ context.Context, sessionID string) error {
			if app.ProcessUC.Cancel(sessionID) {
				logger.Info("session_abort_received", "session_id", sessionID)
			}
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
		os.Exit(1)
	}
}

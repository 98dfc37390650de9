package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/worker"
)

type WorkerManager struct {
	id          string
	logger      *slog.Logger
	eventBus    eventbus.EventBus
	dispatcher  *dispatch.Dispatcher
	pool        *worker.Pool
	metrics     *metrics.Metrics
	metricsAddr string
}

func NewWorkerManager(
	id string,
	eventBus eventbus.EventBus,
	dispatcher *dispatch.Dispatcher,
	pool *worker.Pool,
	m *metrics.Metrics,
	metricsAddr string,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "stepflow-worker", "worker_id", id),
		eventBus:    eventBus,
		dispatcher:  dispatcher,
		pool:        pool,
		metrics:     m,
		metricsAddr: metricsAddr,
	}
}

// Start consumes dispatch and execution jobs until ctx is cancelled, then waits for the
// executions already accepted.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.DispatchRequestedEvent, w.dispatcher.Handler())
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ExecutionRequestedEvent, w.pool.HandleExecutionRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	requeued, err := w.dispatcher.RequeuePending(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to requeue pending executions", "error", err)
	} else if requeued > 0 {
		w.logger.InfoContext(ctx, "Requeued pending executions", "count", requeued)
	}

	server := w.serveMetrics(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.Info("Shutting down worker, waiting for running executions", "running", w.pool.Busy())

	w.pool.Wait()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}

	w.logger.Info("Worker stopped")

	return nil
}

func (w *WorkerManager) serveMetrics(ctx context.Context) *http.Server {
	if w.metricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", w.metrics.Handler())

	server := &http.Server{
		Addr:              w.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
		}
	}()

	return server
}

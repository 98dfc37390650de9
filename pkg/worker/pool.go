// Package worker runs queued executions with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/workflow"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 5

// Executor is the part of workflow.Executor the pool drives.
type Executor interface {
	Execute(ctx context.Context, executionID string) error
	Abort(ctx context.Context, executionID string, reason string) error
}

// Pool accepts execution jobs from the queue and runs a bounded number of them at once. Accepting
// a job blocks while the pool is full, which holds back the consumer.
type Pool struct {
	executor Executor
	sem      *semaphore.Weighted
	inflight atomic.Int64
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewPool(executor Executor, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Pool{
		executor: executor,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger.With("module", "worker_pool"),
	}
}

// HandleExecutionRequested is the event bus handler for execution jobs. The job is
// acknowledged once a slot is free; the run itself outlives ctx so that shutdown lets it
// finish.
func (p *Pool) HandleExecutionRequested(ctx context.Context, event any) error {
	req, ok := event.(*events.ExecutionRequested)
	if !ok {
		p.logger.ErrorContext(ctx, "Unexpected event on execution topic", "event", fmt.Sprintf("%T", event))

		return nil
	}

	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		return fmt.Errorf("no worker slot for execution %s: %w", req.ExecutionID, err)
	}

	p.wg.Add(1)
	p.inflight.Add(1)

	go p.run(context.WithoutCancel(ctx), req.ExecutionID)

	return nil
}

func (p *Pool) run(ctx context.Context, executionID string) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer p.inflight.Add(-1)

	logger := p.logger.With("execution_id", executionID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Execution panicked", "panic", r)

			err := p.executor.Abort(ctx, executionID, fmt.Sprintf("Worker panic: %v", r))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to record panicked execution", "error", err)
			}
		}
	}()

	err := p.executor.Execute(ctx, executionID)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Execution completed")
	case errors.Is(err, workflow.ErrExecutionFinished), errors.Is(err, workflow.ErrExecutionClaimed):
		logger.InfoContext(ctx, "Skipping execution job", "reason", err)
	case errors.Is(err, workflow.ErrExecutionFailed):
		logger.WarnContext(ctx, "Execution failed", "error", err)
	default:
		logger.ErrorContext(ctx, "Execution could not run", "error", err)
	}
}

// Wait blocks until every accepted run has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Busy reports how many runs are in flight.
func (p *Pool) Busy() int64 {
	return p.inflight.Load()
}

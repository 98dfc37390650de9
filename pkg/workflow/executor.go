// Package workflow runs published workflow versions and publishes new ones.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/retry"
	"github.com/mohae/deepcopy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor walks the steps of an execution's bound version in position order.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	sink        broadcast.Sink
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Executor)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(
	persistence persistence.Persistence,
	registry *registry.Registry,
	sink broadcast.Sink,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	if sink == nil {
		sink = broadcast.Discard{}
	}

	e := &Executor{
		persistence: persistence,
		registry:    registry,
		sink:        sink,
		logger:      logger.With("module", "workflow_executor"),
		tracer:      otelhelper.Tracer("stepflow/workflow"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// run is the state of one Execute call.
type run struct {
	execution *models.Execution
	workflow  *models.Workflow
	version   *models.WorkflowVersion
	context   *models.ExecutionContext
	startedAt time.Time
	retries   int
	logger    *slog.Logger
	// store is used for bookkeeping; it outlives the workflow timeout.
	store context.Context
}

// Execute runs a pending execution to a terminal state. Re-running a terminal execution returns
// ErrExecutionFinished without side effects.
func (e *Executor) Execute(ctx context.Context, executionID string) error {
	logger := e.logger.With("execution_id", executionID)
	executions := e.persistence.ExecutionRepository()

	execution, err := executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.Status.IsTerminal() {
		logger.InfoContext(ctx, "execution already finished, skipping", "status", execution.Status)

		return ErrExecutionFinished
	}

	startedAt := e.now()

	claimed, err := executions.ClaimExecution(ctx, executionID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to claim execution %s: %w", executionID, err)
	}

	if !claimed {
		logger.InfoContext(ctx, "execution claimed by another worker or cancelled, skipping")

		return ErrExecutionClaimed
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.VersionIDKey, execution.WorkflowVersionID),
	)
	defer span.End()

	r := &run{
		execution: execution,
		startedAt: startedAt,
		logger:    logger.With("workflow_id", execution.WorkflowID),
		store:     context.WithoutCancel(ctx),
	}

	err = e.execute(ctx, r)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Executor) execute(ctx context.Context, r *run) error {
	var err error

	r.version, err = e.persistence.VersionRepository().GetVersion(ctx, r.execution.WorkflowVersionID)
	if err != nil {
		return e.fail(r, fmt.Sprintf("Failed to load workflow version: %v", err))
	}

	r.workflow, err = e.persistence.WorkflowRepository().GetByID(ctx, r.execution.WorkflowID)
	if err != nil {
		return e.fail(r, fmt.Sprintf("Failed to load workflow: %v", err))
	}

	steps := r.version.OrderedSteps()
	if len(steps) == 0 {
		return e.fail(r, ErrNoSteps.Error())
	}

	settings := r.workflow.Settings.WithDefaults()
	policy := retry.FromSettings(settings)

	if settings.TimeoutMs > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(settings.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	r.context = models.NewExecutionContext(r.execution.ID, r.execution.WorkflowID, r.version.ID, r.execution.Input)
	r.context.Metadata[models.MetadataOwnerID] = r.workflow.Owner

	if r.execution.TriggerID != "" {
		r.context.Metadata["triggerId"] = r.execution.TriggerID
	}

	e.emit(r, events.Started, map[string]any{
		"workflowVersionId": r.version.ID,
		"version":           r.version.Version,
		"stepCount":         len(steps),
	})
	e.log(r, models.LogLevelInfo, fmt.Sprintf("Execution started (version %d, %d steps)", r.version.Version, len(steps)), nil)

	for _, step := range steps {
		if e.cancelled(r) {
			e.log(r, models.LogLevelWarn, fmt.Sprintf("Execution cancelled before step %s", step.ID), nil)
			e.metrics.ExecutionFinished(string(models.ExecutionStatusCancelled))

			return nil
		}

		if err := ctx.Err(); err != nil {
			return e.fail(r, interruptedMessage(err, settings.TimeoutMs, ""))
		}

		output, err := e.runStep(ctx, r, step, policy)
		if err != nil {
			if ctx.Err() != nil {
				return e.fail(r, interruptedMessage(ctx.Err(), settings.TimeoutMs, err.Error()))
			}

			return e.fail(r, err.Error())
		}

		r.context.SetVariable(step.Name, output)
	}

	return e.complete(r)
}

func interruptedMessage(cause error, timeoutMs int64, detail string) string {
	message := fmt.Sprintf("Execution interrupted: %v", cause)
	if errors.Is(cause, context.DeadlineExceeded) && timeoutMs > 0 {
		message = fmt.Sprintf("Execution timed out after %dms", timeoutMs)
	}

	if detail != "" {
		message += ": " + detail
	}

	return message
}

// runStep records and runs one step under the retry policy. The returned error carries the
// step's failure message.
func (e *Executor) runStep(ctx context.Context, r *run, step *models.StepDefinition, policy retry.Policy) (any, error) {
	logger := r.logger.With("step_id", step.ID, "step_type", step.Type)
	started := e.now()

	record := &models.ExecutionStep{
		ExecutionID: r.execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Status:      models.ExecutionStatusRunning,
		Input:       step.Config,
		StartedAt:   started,
	}

	if err := e.persistence.ExecutionRepository().CreateExecutionStep(r.store, record); err != nil {
		logger.ErrorContext(ctx, "failed to record step start", "error", err)
	}

	e.emit(r, events.StepStarted, map[string]any{
		"stepId":   step.ID,
		"stepName": step.Name,
		"stepType": step.Type,
	})

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	result, attempts := e.invoke(ctx, r, step, policy, logger)
	r.retries += max(attempts-1, 0)

	span.SetAttributes(attribute.Int(otelhelper.AttemptsKey, attempts))

	completed := e.now()
	duration := completed.Sub(started)
	durationMs := duration.Milliseconds()
	update := models.ExecutionStepUpdate{
		Metadata:    result.Metadata,
		Attempts:    &attempts,
		CompletedAt: &completed,
		DurationMs:  &durationMs,
	}

	if result.Success {
		status := models.ExecutionStatusCompleted
		update.Status = &status
		update.Output = result.Output

		e.updateStep(r, record.ID, update, logger)
		e.metrics.StepFinished(string(step.Type), "success", duration)
		e.emit(r, events.StepCompleted, map[string]any{
			"stepId":     step.ID,
			"stepName":   step.Name,
			"output":     result.Output,
			"attempts":   attempts,
			"durationMs": durationMs,
		})
		e.log(r, models.LogLevelInfo, fmt.Sprintf("Step %s completed in %dms", step.Name, durationMs),
			map[string]any{"stepId": step.ID, "attempts": attempts})

		return result.Output, nil
	}

	status := models.ExecutionStatusFailed
	update.Status = &status
	update.Error = &result.Error

	e.updateStep(r, record.ID, update, logger)
	e.metrics.StepFinished(string(step.Type), "failure", duration)
	otelhelper.SetError(span, errors.New(result.Error))
	e.emit(r, events.StepFailed, map[string]any{
		"stepId":     step.ID,
		"stepName":   step.Name,
		"error":      result.Error,
		"attempts":   attempts,
		"durationMs": durationMs,
	})
	e.log(r, models.LogLevelError, fmt.Sprintf("Step %s failed: %s", step.Name, result.Error),
		map[string]any{"stepId": step.ID, "attempts": attempts})

	return nil, errors.New(result.Error)
}

// invoke builds the typed config and runs the step. Configuration errors are not retried.
func (e *Executor) invoke(
	ctx context.Context,
	r *run,
	step *models.StepDefinition,
	policy retry.Policy,
	logger *slog.Logger,
) (models.StepResult, int) {
	config, err := e.registry.BuildConfig(step)
	if err != nil {
		return models.NonRetryable(err.Error(), map[string]any{"configuration": true}), 1
	}

	runner, err := e.registry.Runner(step.Type)
	if err != nil {
		return models.NonRetryable(err.Error(), nil), 1
	}

	return policy.Run(ctx, func(ctx context.Context) models.StepResult {
		return runner.Run(ctx, config, r.context)
	}, func(attempt, maxAttempts int, previous models.StepResult) {
		logger.InfoContext(ctx, "retrying step", "attempt", attempt, "max_attempts", maxAttempts, "error", previous.Error)
		e.metrics.StepRetried(string(step.Type))
		e.log(r, models.LogLevelInfo, fmt.Sprintf("Retrying step %s (attempt %d/%d)", step.Name, attempt, maxAttempts),
			map[string]any{"stepId": step.ID, "previousError": previous.Error})
	})
}

func (e *Executor) complete(r *run) error {
	output, _ := deepcopy.Copy(r.context.Variables).(map[string]any)
	completedAt := e.now()
	durationMs := completedAt.Sub(r.startedAt).Milliseconds()

	finished, err := e.persistence.ExecutionRepository().FinishExecution(r.store, r.execution.ID, models.ExecutionFinish{
		Status:      models.ExecutionStatusCompleted,
		Output:      output,
		CompletedAt: completedAt,
		DurationMs:  durationMs,
		RetryCount:  r.retries,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", r.execution.ID, err)
	}

	if !finished {
		r.logger.InfoContext(r.store, "execution was cancelled while running, keeping cancelled status")

		return nil
	}

	e.metrics.ExecutionFinished(string(models.ExecutionStatusCompleted))
	e.emit(r, events.Completed, map[string]any{
		"output":     output,
		"durationMs": durationMs,
		"retryCount": r.retries,
	})
	e.log(r, models.LogLevelInfo, fmt.Sprintf("Execution completed in %dms", durationMs), nil)

	return nil
}

// fail finalizes the run as failed and returns ErrExecutionFailed wrapping message.
func (e *Executor) fail(r *run, message string) error {
	completedAt := e.now()
	durationMs := completedAt.Sub(r.startedAt).Milliseconds()

	var output map[string]any
	if r.context != nil {
		output, _ = deepcopy.Copy(r.context.Variables).(map[string]any)
	}

	finished, err := e.persistence.ExecutionRepository().FinishExecution(r.store, r.execution.ID, models.ExecutionFinish{
		Status:      models.ExecutionStatusFailed,
		Output:      output,
		Error:       message,
		CompletedAt: completedAt,
		DurationMs:  durationMs,
		RetryCount:  r.retries,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", r.execution.ID, err)
	}

	if !finished {
		r.logger.InfoContext(r.store, "execution was cancelled while running, keeping cancelled status")

		return nil
	}

	e.metrics.ExecutionFinished(string(models.ExecutionStatusFailed))
	e.emit(r, events.Failed, map[string]any{
		"error":      message,
		"durationMs": durationMs,
		"retryCount": r.retries,
	})
	e.log(r, models.LogLevelError, "Execution failed: "+message, nil)

	return fmt.Errorf("%w: %s", ErrExecutionFailed, message)
}

// Abort fails a running execution from outside the run loop, e.g. after a worker recovered from
// a panic. It is a no-op for executions that are not running.
func (e *Executor) Abort(ctx context.Context, executionID string, reason string) error {
	execution, err := e.persistence.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	startedAt := execution.CreatedAt
	if execution.StartedAt != nil {
		startedAt = *execution.StartedAt
	}

	r := &run{
		execution: execution,
		startedAt: startedAt,
		retries:   execution.RetryCount,
		logger:    e.logger.With("execution_id", executionID, "workflow_id", execution.WorkflowID),
		store:     context.WithoutCancel(ctx),
	}

	err = e.fail(r, reason)
	if errors.Is(err, ErrExecutionFailed) {
		return nil
	}

	return err
}

// cancelled re-reads the stored status; cancellation takes effect between steps.
func (e *Executor) cancelled(r *run) bool {
	current, err := e.persistence.ExecutionRepository().GetExecution(r.store, r.execution.ID)
	if err != nil {
		r.logger.WarnContext(r.store, "failed to check cancellation", "error", err)

		return false
	}

	return current.Status == models.ExecutionStatusCancelled
}

func (e *Executor) updateStep(r *run, id string, update models.ExecutionStepUpdate, logger *slog.Logger) {
	if err := e.persistence.ExecutionRepository().UpdateExecutionStep(r.store, id, update); err != nil {
		logger.ErrorContext(r.store, "failed to record step result", "error", err)
	}
}

func (e *Executor) emit(r *run, event events.Lifecycle, fields map[string]any) {
	payload := broadcast.Payload(r.execution.ID, fields)
	payload["workflowId"] = r.execution.WorkflowID

	if err := e.sink.Emit(r.store, r.execution.ID, event, payload); err != nil {
		r.logger.WarnContext(r.store, "failed to broadcast event", "event", event, "error", err)
	}
}

// log writes to the process log and to the execution's persisted log stream.
func (e *Executor) log(r *run, level models.LogLevel, message string, metadata map[string]any) {
	switch level {
	case models.LogLevelError:
		r.logger.ErrorContext(r.store, message)
	case models.LogLevelWarn:
		r.logger.WarnContext(r.store, message)
	case models.LogLevelDebug:
		r.logger.DebugContext(r.store, message)
	case models.LogLevelInfo:
		r.logger.InfoContext(r.store, message)
	}

	err := e.persistence.ExecutionRepository().AddLog(r.store, &models.ExecutionLog{
		ExecutionID: r.execution.ID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   e.now(),
	})
	if err != nil {
		r.logger.ErrorContext(r.store, "failed to persist execution log", "error", err)
	}
}

// Package dispatch turns trigger firings into pending executions and queues them for workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrNoActiveVersion = persistence.ErrNoActiveVersion
	ErrTriggerDisabled = errors.New("trigger is disabled")
	ErrTriggerType     = errors.New("trigger type does not accept this request")
	ErrInvalidInput    = errors.New("input does not match the trigger schema")
	ErrInvalidSchema   = errors.New("invalid input schema")
)

// executionNamespace derives execution ids from dispatch job ids, so a redelivered job resolves
// to the execution it already created.
var executionNamespace = uuid.MustParse("5f0c7a43-1d8e-4b52-9a0e-0d6f3b1c2e71")

// Request describes a workflow run to start.
type Request struct {
	WorkflowID string
	TriggerID  string
	Input      map[string]any
	Metadata   map[string]any
}

type Dispatcher struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewDispatcher(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "dispatch"),
		metrics:     m,
	}
}

// Dispatch enqueues a dispatch job and returns its id.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	if req.WorkflowID == "" {
		return "", fmt.Errorf("dispatch: %w", persistence.ErrWorkflowNotFound)
	}

	event := events.DispatchRequested{
		BaseEvent: events.NewBaseEvent(events.DispatchRequestedEvent, req.WorkflowID),
		TriggerID: req.TriggerID,
		Input:     req.Input,
	}
	event.Metadata = req.Metadata

	if event.Input == nil {
		event.Input = map[string]any{}
	}

	err := d.publisher.Publish(ctx, req.WorkflowID, event)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}

	d.logger.InfoContext(ctx, "Dispatch job enqueued",
		"dispatch_id", event.ID,
		"workflow_id", req.WorkflowID,
		"trigger_id", req.TriggerID,
	)

	return event.ID, nil
}

// HandleDispatch creates a pending execution bound to the workflow's active version and
// enqueues it for a worker. Redelivering the same job enqueues the existing execution again.
func (d *Dispatcher) HandleDispatch(ctx context.Context, req *events.DispatchRequested) (*models.Execution, error) {
	executionID := ExecutionIDFor(req.ID)
	executions := d.persistence.ExecutionRepository()

	execution, err := executions.GetExecution(ctx, executionID)

	switch {
	case err == nil:
		d.logger.InfoContext(ctx, "Dispatch job already handled", "execution_id", executionID)
	case errors.Is(err, persistence.ErrExecutionNotFound):
		execution, err = d.createExecution(ctx, executionID, req)
		if errors.Is(err, persistence.ErrExecutionExists) {
			// A concurrent delivery of the same job created it first.
			execution, err = executions.GetExecution(ctx, executionID)
		}

		if err != nil {
			return nil, err
		}
	default:
		d.metrics.Dispatched("error")

		return nil, fmt.Errorf("failed to look up execution %s: %w", executionID, err)
	}

	if execution.Status != models.ExecutionStatusPending {
		d.metrics.Dispatched("duplicate")

		return execution, nil
	}

	err = d.enqueue(ctx, execution)
	if err != nil {
		d.metrics.Dispatched("error")

		return nil, err
	}

	d.metrics.Dispatched("created")

	return execution, nil
}

func (d *Dispatcher) createExecution(ctx context.Context, executionID string, req *events.DispatchRequested) (*models.Execution, error) {
	version, err := d.persistence.VersionRepository().GetActiveVersion(ctx, req.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrNoActiveVersion) || errors.Is(err, persistence.ErrWorkflowNotFound) {
			d.metrics.Dispatched("no_active_version")
		} else {
			d.metrics.Dispatched("error")
		}

		return nil, fmt.Errorf("workflow %s: %w", req.WorkflowID, err)
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	metadata := map[string]any{"dispatchId": req.ID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	execution := &models.Execution{
		ID:                executionID,
		WorkflowID:        version.WorkflowID,
		WorkflowVersionID: version.ID,
		TriggerID:         req.TriggerID,
		Status:            models.ExecutionStatusPending,
		Input:             input,
		Metadata:          metadata,
		CreatedAt:         time.Now().UTC(),
	}

	err = d.persistence.ExecutionRepository().CreateExecution(ctx, execution)
	if errors.Is(err, persistence.ErrExecutionExists) {
		return nil, err
	}

	if err != nil {
		d.metrics.Dispatched("error")

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	d.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"workflow_version_id", execution.WorkflowVersionID,
		"version", version.Version,
	)

	return execution, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, execution *models.Execution) error {
	event := events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
	}

	err := d.publisher.Publish(ctx, execution.ID, event)
	if err != nil {
		return fmt.Errorf("failed to enqueue execution %s: %w", execution.ID, err)
	}

	return nil
}

// Handler adapts HandleDispatch to the event bus. Jobs that can never succeed are logged and
// acknowledged; anything else is returned so the broker redelivers it.
func (d *Dispatcher) Handler() eventbus.EventHandler {
	return eventbus.Typed(d.logger, func(ctx context.Context, req *events.DispatchRequested) error {
		_, err := d.HandleDispatch(ctx, req)
		if err == nil {
			return nil
		}

		if errors.Is(err, persistence.ErrNoActiveVersion) || errors.Is(err, persistence.ErrWorkflowNotFound) {
			d.logger.WarnContext(ctx, "Dropping dispatch job", "dispatch_id", req.ID, "workflow_id", req.WorkflowID, "error", err)

			return nil
		}

		d.logger.ErrorContext(ctx, "Dispatch job failed", "dispatch_id", req.ID, "error", err)

		return err
	})
}

// RequeuePending enqueues every pending execution again. Workers call it on start so
// executions accepted by a previous process that died before running them are not lost.
func (d *Dispatcher) RequeuePending(ctx context.Context) (int, error) {
	executions, err := d.persistence.ExecutionRepository().ListExecutions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}

	count := 0

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusPending {
			continue
		}

		err = d.enqueue(ctx, execution)
		if err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// Webhook validates a webhook payload against the trigger and dispatches its workflow.
func (d *Dispatcher) Webhook(ctx context.Context, triggerID string, payload map[string]any) (string, error) {
	trigger, err := d.persistence.TriggerRepository().GetTrigger(ctx, triggerID)
	if err != nil {
		return "", err
	}

	if trigger.Type != models.TriggerTypeWebhook {
		return "", fmt.Errorf("trigger %s is %s: %w", trigger.ID, trigger.Type, ErrTriggerType)
	}

	if !trigger.Enabled {
		return "", fmt.Errorf("trigger %s: %w", trigger.ID, ErrTriggerDisabled)
	}

	err = ValidateInput(trigger.InputSchema, payload)
	if err != nil {
		return "", err
	}

	return d.Dispatch(ctx, Request{
		WorkflowID: trigger.WorkflowID,
		TriggerID:  trigger.ID,
		Input:      payload,
		Metadata:   map[string]any{"source": string(models.TriggerTypeWebhook)},
	})
}

// Schedule dispatches the workflow of a schedule trigger that fired at firedAt.
func (d *Dispatcher) Schedule(ctx context.Context, trigger *models.Trigger, firedAt time.Time) (string, error) {
	if !trigger.Enabled {
		return "", fmt.Errorf("trigger %s: %w", trigger.ID, ErrTriggerDisabled)
	}

	return d.Dispatch(ctx, Request{
		WorkflowID: trigger.WorkflowID,
		TriggerID:  trigger.ID,
		Input:      map[string]any{"scheduledAt": firedAt.UTC().Format(time.RFC3339)},
		Metadata:   map[string]any{"source": string(models.TriggerTypeSchedule)},
	})
}

// ValidateInput checks payload against a JSON schema. An empty schema accepts anything.
func ValidateInput(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if !result.Valid() {
		problems := make([]error, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, errors.New(desc.String()))
		}

		return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(problems...))
	}

	return nil
}

// CheckSchema reports whether schema compiles as a JSON schema.
func CheckSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	return nil
}

// ExecutionIDFor returns the id of the execution a dispatch job creates. Callers can poll or
// stream it before a dispatcher has handled the job.
func ExecutionIDFor(dispatchID string) string {
	return uuid.NewSHA1(executionNamespace, []byte(dispatchID)).String()
}

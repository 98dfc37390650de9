package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Trigger manages trigger bindings and accepts webhook deliveries.
type Trigger struct {
	persistence persistence.Persistence
	dispatcher  *dispatch.Dispatcher
	validate    *validator.Validate
}

func NewTrigger(persistence persistence.Persistence, dispatcher *dispatch.Dispatcher) *Trigger {
	return &Trigger{
		persistence: persistence,
		dispatcher:  dispatcher,
		validate:    validator.New(),
	}
}

// Create stores a new trigger for an existing workflow. Schedule triggers get their first
// due time computed from now.
func (s *Trigger) Create(ctx context.Context, trigger *models.Trigger) (*models.Trigger, error) {
	err := s.validate.Struct(trigger)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_TRIGGER", err.Error(), ErrInvalidRequest)
	}

	_, err = s.persistence.WorkflowRepository().GetByID(ctx, trigger.WorkflowID)
	if err != nil {
		return nil, err
	}

	err = dispatch.CheckSchema(trigger.InputSchema)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_INPUT_SCHEMA", err.Error(), ErrInvalidRequest)
	}

	now := time.Now().UTC()
	trigger.ID = uuid.NewString()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	err = trigger.UpdateNextDueAt(now)
	if err != nil {
		return nil, err
	}

	err = s.persistence.TriggerRepository().SaveTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	return trigger, nil
}

func (s *Trigger) Get(ctx context.Context, id string) (*models.Trigger, error) {
	return s.persistence.TriggerRepository().GetTrigger(ctx, id)
}

func (s *Trigger) List(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	return s.persistence.TriggerRepository().ListTriggers(ctx, triggerType)
}

// Webhook dispatches the trigger's workflow with payload as input and returns the id the
// execution will have.
func (s *Trigger) Webhook(ctx context.Context, triggerID string, payload map[string]any) (string, error) {
	dispatchID, err := s.dispatcher.Webhook(ctx, triggerID, payload)
	if err != nil {
		return "", err
	}

	return dispatch.ExecutionIDFor(dispatchID), nil
}

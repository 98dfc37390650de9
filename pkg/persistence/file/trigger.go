package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

type TriggerRepository struct {
	docs jsonDir
}

func NewTriggerRepository(root string) *TriggerRepository {
	return &TriggerRepository{docs: newJSONDir(root, "triggers")}
}

func (tr *TriggerRepository) SaveTrigger(_ context.Context, trigger *models.Trigger) error {
	tr.docs.mu.Lock()
	defer tr.docs.mu.Unlock()

	if trigger.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate trigger ID: %w", err)
		}

		trigger.ID = id.String()
	}

	now := time.Now().UTC()
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	return tr.docs.write(trigger.ID, trigger)
}

func (tr *TriggerRepository) GetTrigger(_ context.Context, id string) (*models.Trigger, error) {
	tr.docs.mu.RLock()
	defer tr.docs.mu.RUnlock()

	var trigger models.Trigger

	found, err := tr.docs.read(id, &trigger)
	if err != nil {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	return &trigger, nil
}

func (tr *TriggerRepository) ListTriggers(_ context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	tr.docs.mu.RLock()
	defer tr.docs.mu.RUnlock()

	triggers, err := readAll(tr.docs, func(trigger *models.Trigger) bool {
		return triggerType == "" || trigger.Type == triggerType
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	sort.SliceStable(triggers, func(i, j int) bool {
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})

	return triggers, nil
}

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/mohae/deepcopy"
)

// PublishingService creates immutable workflow versions and moves the active pointer.
type PublishingService struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
}

func NewPublishingService(persistence persistence.Persistence, registry *registry.Registry, logger *slog.Logger) *PublishingService {
	return &PublishingService{
		persistence: persistence,
		registry:    registry,
		logger:      logger.With("module", "publishing"),
	}
}

// PublishVersion validates steps, stores them as the next version of the workflow and makes
// that version the only active one.
func (s *PublishingService) PublishVersion(
	ctx context.Context,
	workflowID string,
	steps []*models.StepDefinition,
) (*models.WorkflowVersion, error) {
	if _, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to get workflow for publishing: %w", err)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVersion, ErrNoSteps)
	}

	if err := s.registry.ValidateSteps(steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVersion, err)
	}

	snapshot, _ := deepcopy.Copy(steps).([]*models.StepDefinition)

	version := &models.WorkflowVersion{
		WorkflowID: workflowID,
		Steps:      models.SortSteps(snapshot),
	}

	versions := s.persistence.VersionRepository()

	if err := versions.CreateVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	publishedAt := time.Now().UTC()

	if err := versions.ActivateVersion(ctx, workflowID, version.ID, publishedAt); err != nil {
		return nil, fmt.Errorf("failed to activate version %d: %w", version.Version, err)
	}

	version.IsActive = true
	version.PublishedAt = &publishedAt

	s.logger.InfoContext(ctx, "published workflow version",
		"workflow_id", workflowID, "version_id", version.ID, "version", version.Version, "steps", len(version.Steps))

	return version, nil
}

// ActivateVersion makes an existing version active again, e.g. to roll back.
func (s *PublishingService) ActivateVersion(ctx context.Context, workflowID, versionID string) (*models.WorkflowVersion, error) {
	versions := s.persistence.VersionRepository()

	version, err := versions.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if version.WorkflowID != workflowID {
		return nil, persistence.NewEntityError("ActivateVersion", "version", versionID, persistence.ErrVersionNotFound)
	}

	if err := versions.ActivateVersion(ctx, workflowID, versionID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to activate version %d: %w", version.Version, err)
	}

	s.logger.InfoContext(ctx, "activated workflow version",
		"workflow_id", workflowID, "version_id", versionID, "version", version.Version)

	return versions.GetVersion(ctx, versionID)
}

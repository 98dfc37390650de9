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

// activePointer names the active version of one workflow. Replacing this single document
// is what makes activation atomic.
type activePointer struct {
	VersionID   string    `json:"versionId"`
	PublishedAt time.Time `json:"publishedAt"`
}

// VersionRepository stores versions under versions/ and the active version of each
// workflow under active_versions/.
type VersionRepository struct {
	docs   jsonDir
	active jsonDir
}

func NewVersionRepository(root string) *VersionRepository {
	docs := newJSONDir(root, "versions")
	active := newJSONDir(root, "active_versions")
	active.mu = docs.mu

	return &VersionRepository{docs: docs, active: active}
}

func (vr *VersionRepository) CreateVersion(_ context.Context, version *models.WorkflowVersion) error {
	vr.docs.mu.Lock()
	defer vr.docs.mu.Unlock()

	existing, err := vr.versionsOf(version.WorkflowID)
	if err != nil {
		return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID, err)
	}

	if version.Version == 0 {
		version.Version = nextNumber(existing)
	}

	for _, other := range existing {
		if other.Version == version.Version {
			return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID,
				fmt.Errorf("version %d already exists", version.Version))
		}
	}

	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate version ID: %w", err)
		}

		version.ID = id.String()
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	version.IsActive = false
	version.PublishedAt = nil

	return vr.docs.write(version.ID, version)
}

func (vr *VersionRepository) GetVersion(_ context.Context, id string) (*models.WorkflowVersion, error) {
	vr.docs.mu.RLock()
	defer vr.docs.mu.RUnlock()

	var version models.WorkflowVersion

	found, err := vr.docs.read(id, &version)
	if err != nil {
		return nil, persistence.NewEntityError("GetVersion", "version", id, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetVersion", "version", id, persistence.ErrVersionNotFound)
	}

	if err := vr.applyActive(&version); err != nil {
		return nil, persistence.NewEntityError("GetVersion", "version", id, err)
	}

	return &version, nil
}

func (vr *VersionRepository) ListVersions(_ context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	vr.docs.mu.RLock()
	defer vr.docs.mu.RUnlock()

	versions, err := vr.versionsOf(workflowID)
	if err != nil {
		return nil, persistence.NewEntityError("ListVersions", "workflow", workflowID, err)
	}

	for _, version := range versions {
		if err := vr.applyActive(version); err != nil {
			return nil, persistence.NewEntityError("ListVersions", "workflow", workflowID, err)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})

	return versions, nil
}

func (vr *VersionRepository) GetActiveVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	vr.docs.mu.RLock()

	var pointer activePointer

	found, err := vr.active.read(workflowID, &pointer)

	vr.docs.mu.RUnlock()

	if err != nil {
		return nil, persistence.NewEntityError("GetActiveVersion", "workflow", workflowID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetActiveVersion", "workflow", workflowID, persistence.ErrNoActiveVersion)
	}

	return vr.GetVersion(ctx, pointer.VersionID)
}

func (vr *VersionRepository) ActivateVersion(_ context.Context, workflowID, versionID string, publishedAt time.Time) error {
	vr.docs.mu.Lock()
	defer vr.docs.mu.Unlock()

	var version models.WorkflowVersion

	found, err := vr.docs.read(versionID, &version)
	if err != nil {
		return persistence.NewEntityError("ActivateVersion", "version", versionID, err)
	}

	if !found || version.WorkflowID != workflowID {
		return persistence.NewEntityError("ActivateVersion", "version", versionID, persistence.ErrVersionNotFound)
	}

	if version.PublishedAt == nil {
		at := publishedAt.UTC()
		version.PublishedAt = &at
		version.IsActive = false

		if err := vr.docs.write(versionID, &version); err != nil {
			return persistence.NewEntityError("ActivateVersion", "version", versionID, err)
		}
	}

	return vr.active.write(workflowID, activePointer{VersionID: versionID, PublishedAt: publishedAt.UTC()})
}

func (vr *VersionRepository) NextVersionNumber(_ context.Context, workflowID string) (int, error) {
	vr.docs.mu.RLock()
	defer vr.docs.mu.RUnlock()

	versions, err := vr.versionsOf(workflowID)
	if err != nil {
		return 0, persistence.NewEntityError("NextVersionNumber", "workflow", workflowID, err)
	}

	return nextNumber(versions), nil
}

func (vr *VersionRepository) versionsOf(workflowID string) ([]*models.WorkflowVersion, error) {
	return readAll(vr.docs, func(version *models.WorkflowVersion) bool {
		return version.WorkflowID == workflowID
	})
}

func (vr *VersionRepository) applyActive(version *models.WorkflowVersion) error {
	var pointer activePointer

	found, err := vr.active.read(version.WorkflowID, &pointer)
	if err != nil {
		return err
	}

	version.IsActive = found && pointer.VersionID == version.ID

	return nil
}

func nextNumber(versions []*models.WorkflowVersion) int {
	highest := 0
	for _, version := range versions {
		highest = max(highest, version.Version)
	}

	return highest + 1
}

// Package file provides file-based persistence: one JSON document per entity under a root
// directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	workflowRepo   *WorkflowRepository
	versionRepo    *VersionRepository
	executionRepo  *ExecutionRepository
	triggerRepo    *TriggerRepository
	credentialRepo *CredentialRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		workflowRepo:   NewWorkflowRepository(cleanRoot),
		versionRepo:    NewVersionRepository(cleanRoot),
		executionRepo:  NewExecutionRepository(cleanRoot),
		triggerRepo:    NewTriggerRepository(cleanRoot),
		credentialRepo: NewCredentialRepository(cleanRoot),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository { return fp.workflowRepo }

func (fp *Persistence) VersionRepository() persistence.VersionRepository { return fp.versionRepo }

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository { return fp.triggerRepo }

func (fp *Persistence) CredentialRepository() persistence.CredentialRepository {
	return fp.credentialRepo
}

// jsonDir stores documents as <dir>/<id>.json. Writes go through a temporary file and a
// rename so readers never observe a partial document.
type jsonDir struct {
	dir string
	mu  *sync.RWMutex
}

func newJSONDir(root, name string) jsonDir {
	return jsonDir{dir: filepath.Join(root, name), mu: &sync.RWMutex{}}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (d jsonDir) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	return filepath.Join(d.dir, id+".json"), nil
}

// read decodes the document id into v. It reports false when the document does not exist.
func (d jsonDir) read(id string, v any) (bool, error) {
	filePath, err := d.path(id)
	if err != nil {
		return false, err
	}

	body, err := os.ReadFile(filePath) // #nosec G304 -- id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return true, nil
}

func (d jsonDir) write(id string, v any) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", id, err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", filePath, err)
	}

	return nil
}

func (d jsonDir) remove(id string) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", filePath, err)
	}

	return nil
}

func (d jsonDir) ids() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", d.dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// readAll loads every document in d. keep filters the result when not nil.
func readAll[T any](d jsonDir, keep func(*T) bool) ([]*T, error) {
	ids, err := d.ids()
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(ids))

	for _, id := range ids {
		var item T

		found, err := d.read(id, &item)
		if err != nil {
			return nil, err
		}

		if found && (keep == nil || keep(&item)) {
			items = append(items, &item)
		}
	}

	return items, nil
}

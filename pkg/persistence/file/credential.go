package file

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

// CredentialRepository stores sealed credentials; plaintext never reaches the disk.
type CredentialRepository struct {
	docs jsonDir
}

func NewCredentialRepository(root string) *CredentialRepository {
	return &CredentialRepository{docs: newJSONDir(root, "credentials")}
}

func (cr *CredentialRepository) SaveCredential(_ context.Context, credential *models.Credential) error {
	cr.docs.mu.Lock()
	defer cr.docs.mu.Unlock()

	if credential.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate credential ID: %w", err)
		}

		credential.ID = id.String()
	}

	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	return cr.docs.write(credential.ID, credential)
}

func (cr *CredentialRepository) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	cr.docs.mu.RLock()
	defer cr.docs.mu.RUnlock()

	var credential models.Credential

	found, err := cr.docs.read(id, &credential)
	if err != nil {
		return nil, persistence.NewEntityError("GetCredential", "credential", id, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetCredential", "credential", id, persistence.ErrCredentialNotFound)
	}

	return &credential, nil
}

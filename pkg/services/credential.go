package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ErrVaultDisabled is returned when no vault key was configured.
var ErrVaultDisabled = errors.New("credential vault is not configured")

// Credential stores connector secrets through the vault. Secret values never leave it.
type Credential struct {
	persistence persistence.Persistence
	vault       *credentials.Vault
}

func NewCredential(persistence persistence.Persistence, vault *credentials.Vault) *Credential {
	return &Credential{persistence: persistence, vault: vault}
}

func (s *Credential) Create(ctx context.Context, name, credentialType, ownerID string, data map[string]string) (*models.Credential, error) {
	if s.vault == nil {
		return nil, ErrVaultDisabled
	}

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}

	if name == "" || credentialType == "" {
		return nil, NewValidationError("Create", "INVALID_CREDENTIAL", "name and type are required", ErrInvalidRequest)
	}

	if len(data) == 0 {
		return nil, ErrCredentialEmpty
	}

	return s.vault.Create(ctx, name, credentialType, ownerID, data)
}

// Get returns the credential record; the ciphertext stays sealed.
func (s *Credential) Get(ctx context.Context, id string) (*models.Credential, error) {
	return s.persistence.CredentialRepository().GetCredential(ctx, id)
}

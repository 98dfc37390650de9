package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

var credentialColumns = []string{"id", "name", "type", "owner_id", "ciphertext", "created_at", "updated_at"}

// CredentialRepository stores sealed credentials in the credentials table.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) SaveCredential(ctx context.Context, credential *models.Credential) error {
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

	statement, args, err := psql.Insert("credentials").
		Columns(credentialColumns...).
		Values(credential.ID, credential.Name, credential.Type, credential.OwnerID, credential.Ciphertext,
			credential.CreatedAt, credential.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			ciphertext = EXCLUDED.ciphertext,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, statement, args...); err != nil {
		return persistence.NewEntityError("SaveCredential", "credential", credential.ID, err)
	}

	return nil
}

func (r *CredentialRepository) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	statement, args, err := psql.Select(credentialColumns...).From("credentials").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var credential models.Credential

	err = r.db.QueryRowContext(ctx, statement, args...).Scan(&credential.ID, &credential.Name, &credential.Type,
		&credential.OwnerID, &credential.Ciphertext, &credential.CreatedAt, &credential.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetCredential", "credential", id, persistence.ErrCredentialNotFound)
		}

		return nil, persistence.NewEntityError("GetCredential", "credential", id, err)
	}

	return &credential, nil
}

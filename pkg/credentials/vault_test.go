package credentials

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type memoryRepo struct {
	items map[string]*models.Credential
}

func (m *memoryRepo) SaveCredential(_ context.Context, credential *models.Credential) error {
	m.items[credential.ID] = credential

	return nil
}

func (m *memoryRepo) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	credential, ok := m.items[id]
	if !ok {
		return nil, errNotFound
	}

	return credential, nil
}

func newTestVault(t *testing.T) (*Vault, *memoryRepo) {
	t.Helper()

	repo := &memoryRepo{items: map[string]*models.Credential{}}

	vault, err := NewVault(repo, KeyConfig{MasterKey: bytes.Repeat([]byte{7}, 32)})
	require.NoError(t, err)

	return vault, repo
}

func TestVault_RoundTrip(t *testing.T) {
	vault, repo := newTestVault(t)
	ctx := context.Background()

	credential, err := vault.Create(ctx, "slack bot", "slack", "owner-1", map[string]string{"bot_token": "xoxb-1"})
	require.NoError(t, err)
	assert.NotContains(t, string(repo.items[credential.ID].Ciphertext), "xoxb-1")

	data, err := vault.GetDecryptedData(ctx, credential.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bot_token": "xoxb-1"}, data)
}

func TestVault_OwnerCheck(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	credential, err := vault.Create(ctx, "stripe", "stripe", "owner-1", map[string]string{"secret_key": "sk_test"})
	require.NoError(t, err)

	_, err = vault.GetDecryptedData(ctx, credential.ID, "someone-else")
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestVault_MissingCredential(t *testing.T) {
	vault, _ := newTestVault(t)

	_, err := vault.GetDecryptedData(context.Background(), "nope", "owner-1")
	require.ErrorIs(t, err, errNotFound)
}

func TestVault_TamperedCiphertext(t *testing.T) {
	vault, repo := newTestVault(t)
	ctx := context.Background()

	credential, err := vault.Create(ctx, "smtp", "smtp", "owner-1", map[string]string{"password": "p"})
	require.NoError(t, err)

	stored := repo.items[credential.ID]
	stored.Ciphertext[len(stored.Ciphertext)-1] ^= 0xff

	_, err = vault.GetDecryptedData(ctx, credential.ID, "owner-1")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewVault_KeyValidation(t *testing.T) {
	_, err := NewVault(nil, KeyConfig{MasterKey: []byte("short")})
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewVault(nil, KeyConfig{})
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewVault(nil, KeyConfig{Passphrase: "secret"})
	require.ErrorIs(t, err, ErrInvalidKey)

	vault, err := NewVault(nil, KeyConfig{Passphrase: "secret", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)

	sealed, err := vault.Encrypt([]byte("hello"))
	require.NoError(t, err)

	opened, err := vault.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(opened))
}

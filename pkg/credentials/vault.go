// Package credentials decrypts connector secrets on demand.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

const (
	keySize           = 32
	defaultIterations = 100_000
)

var (
	ErrAccessDenied     = errors.New("credential access denied")
	ErrInvalidKey       = errors.New("invalid vault key")
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// Store hands out decrypted credential data. Callers must not cache the returned map beyond
// a single step invocation.
type Store interface {
	GetDecryptedData(ctx context.Context, credentialID, callerID string) (map[string]string, error)
}

// Repository persists encrypted credentials.
type Repository interface {
	SaveCredential(ctx context.Context, credential *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
}

// KeyConfig selects the vault key: a raw 32 byte MasterKey, or a Passphrase and Salt run
// through PBKDF2-SHA256.
type KeyConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int
}

// Vault seals credential data with AES-256-GCM.
type Vault struct {
	repo Repository
	aead cipher.AEAD
}

// NewVault creates a vault over repo.
func NewVault(repo Repository, cfg KeyConfig) (*Vault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &Vault{repo: repo, aead: aead}, nil
}

func deriveKey(cfg KeyConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != keySize {
			return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrInvalidKey, keySize, len(cfg.MasterKey))
		}

		return cfg.MasterKey, nil
	}

	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("%w: master key or passphrase is required", ErrInvalidKey)
	}

	if len(cfg.Salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required with passphrase", ErrInvalidKey)
	}

	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, keySize)
}

// Create encrypts data and stores it as a new credential owned by ownerID.
func (v *Vault) Create(ctx context.Context, name, credentialType, ownerID string, data map[string]string) (*models.Credential, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode credential data: %w", err)
	}

	ciphertext, err := v.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	credential := &models.Credential{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       credentialType,
		OwnerID:    ownerID,
		Ciphertext: ciphertext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := v.repo.SaveCredential(ctx, credential); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	return credential, nil
}

// GetDecryptedData loads and decrypts a credential. Only the credential owner may read it.
func (v *Vault) GetDecryptedData(ctx context.Context, credentialID, callerID string) (map[string]string, error) {
	credential, err := v.repo.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	if credential.OwnerID != callerID {
		return nil, fmt.Errorf("%w: credential %s", ErrAccessDenied, credentialID)
	}

	plaintext, err := v.Decrypt(credential.Ciphertext)
	if err != nil {
		return nil, err
	}

	var data map[string]string
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return data, nil
}

// Encrypt seals plaintext with a random nonce prepended.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := v.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

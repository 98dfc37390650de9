package cmd

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/sandbox"
)

// NewVault opens the credential vault with a base64 encoded 32 byte key. An empty key
// disables credentials and returns nil.
func NewVault(p persistence.Persistence, encodedKey string) (*credentials.Vault, error) {
	if encodedKey == "" {
		return nil, nil //nolint:nilnil // no vault configured
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("vault key is not valid base64: %w", err)
	}

	return credentials.NewVault(p.CredentialRepository(), credentials.KeyConfig{MasterKey: key})
}

// NewRegistry registers every built-in step runner. A nil vault leaves connector steps
// without credentials.
func NewRegistry(logger *slog.Logger, vault *credentials.Vault, opts ...sandbox.Option) *registry.Registry {
	reg := registry.NewRegistry(logger)

	deps := registry.Dependencies{
		Logger:  logger,
		Sandbox: sandbox.NewProcessSandbox(logger, opts...),
	}

	if vault != nil {
		deps.Credentials = vault
	}

	reg.RegisterDefaults(deps)

	return reg
}

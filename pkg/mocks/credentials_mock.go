package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCredentialStore is a mock implementation of credentials.Store interface.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetDecryptedData(ctx context.Context, credentialID, callerID string) (map[string]string, error) {
	args := m.Called(ctx, credentialID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]string), args.Error(1)
}

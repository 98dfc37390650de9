package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/sandbox"
	"github.com/stretchr/testify/mock"
)

// MockSandbox is a mock implementation of sandbox.Sandbox interface.
type MockSandbox struct {
	mock.Mock
}

func (m *MockSandbox) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*sandbox.Result), args.Error(1)
}

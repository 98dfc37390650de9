package mocks

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface. Repositories
// left nil are returned as nil.
type MockPersistence struct {
	mock.Mock

	Workflows   *MockWorkflowRepository
	Versions    *MockVersionRepository
	Executions  *MockExecutionRepository
	Triggers    *MockTriggerRepository
	Credentials persistence.CredentialRepository
}

// NewMockPersistence returns a MockPersistence with a mock for every repository.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:  &MockWorkflowRepository{},
		Versions:   &MockVersionRepository{},
		Executions: &MockExecutionRepository{},
		Triggers:   &MockTriggerRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) VersionRepository() persistence.VersionRepository {
	return m.Versions
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) TriggerRepository() persistence.TriggerRepository {
	return m.Triggers
}

func (m *MockPersistence) CredentialRepository() persistence.CredentialRepository {
	return m.Credentials
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) List(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockVersionRepository is a mock implementation of persistence.VersionRepository interface.
type MockVersionRepository struct {
	mock.Mock
}

func (m *MockVersionRepository) CreateVersion(ctx context.Context, version *models.WorkflowVersion) error {
	args := m.Called(ctx, version)

	return args.Error(0)
}

func (m *MockVersionRepository) GetVersion(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) GetActiveVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockVersionRepository) ActivateVersion(ctx context.Context, workflowID, versionID string, publishedAt time.Time) error {
	args := m.Called(ctx, workflowID, versionID, publishedAt)

	return args.Error(0)
}

func (m *MockVersionRepository) NextVersionNumber(ctx context.Context, workflowID string) (int, error) {
	args := m.Called(ctx, workflowID)

	return args.Int(0), args.Error(1)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) UpdateExecution(ctx context.Context, id string, update models.ExecutionUpdate) error {
	args := m.Called(ctx, id, update)

	return args.Error(0)
}

func (m *MockExecutionRepository) ClaimExecution(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, startedAt)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) FinishExecution(ctx context.Context, id string, finish models.ExecutionFinish) (bool, error) {
	args := m.Called(ctx, id, finish)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) CancelExecution(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) CreateExecutionStep(ctx context.Context, step *models.ExecutionStep) error {
	args := m.Called(ctx, step)

	return args.Error(0)
}

func (m *MockExecutionRepository) UpdateExecutionStep(ctx context.Context, id string, update models.ExecutionStepUpdate) error {
	args := m.Called(ctx, id, update)

	return args.Error(0)
}

func (m *MockExecutionRepository) AddLog(ctx context.Context, entry *models.ExecutionLog) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

// MockTriggerRepository is a mock implementation of persistence.TriggerRepository interface.
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

func (m *MockTriggerRepository) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Trigger), args.Error(1)
}

func (m *MockTriggerRepository) ListTriggers(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	args := m.Called(ctx, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Trigger), args.Error(1)
}

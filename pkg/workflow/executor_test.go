package workflow_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/sandbox"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	executionID string
	name        events.Lifecycle
	payload     map[string]any
}

// recordingSink keeps every event and lets a test react to one synchronously.
type recordingSink struct {
	mu       sync.Mutex
	recorded []recordedEvent
	onEmit   func(recordedEvent)
}

func (s *recordingSink) Emit(_ context.Context, executionID string, event events.Lifecycle, payload map[string]any) error {
	recorded := recordedEvent{executionID: executionID, name: event, payload: payload}

	s.mu.Lock()
	s.recorded = append(s.recorded, recorded)
	onEmit := s.onEmit
	s.mu.Unlock()

	if onEmit != nil {
		onEmit(recorded)
	}

	return nil
}

func (s *recordingSink) names() []events.Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]events.Lifecycle, 0, len(s.recorded))
	for _, e := range s.recorded {
		names = append(names, e.name)
	}

	return names
}

func (s *recordingSink) all() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]recordedEvent(nil), s.recorded...)
}

// flakyRunner fails the first failures attempts, then succeeds.
type flakyRunner struct {
	failures int32
	calls    atomic.Int32
}

var _ protocol.Runner = (*flakyRunner)(nil)

func (r *flakyRunner) Type() models.StepType { return models.StepTypeFallback }
func (r *flakyRunner) Name() string          { return "Flaky" }
func (r *flakyRunner) Description() string   { return "fails a fixed number of times" }
func (r *flakyRunner) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (r *flakyRunner) Run(context.Context, models.StepConfig, *models.ExecutionContext) models.StepResult {
	if r.calls.Add(1) <= r.failures {
		return models.Failed("upstream unavailable", nil)
	}

	return models.Succeeded(map[string]any{"ok": true}, nil)
}

type harness struct {
	persistence *file.Persistence
	registry    *registry.Registry
	sink        *recordingSink
	metrics     *metrics.Metrics
	executor    *workflow.Executor
	publishing  *workflow.PublishingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(registry.Dependencies{Logger: logger, Sandbox: sandbox.NewProcessSandbox(logger)})

	sink := &recordingSink{}
	m := metrics.New()

	return &harness{
		persistence: p,
		registry:    reg,
		sink:        sink,
		metrics:     m,
		executor:    workflow.NewExecutor(p, reg, sink, logger, workflow.WithMetrics(m)),
		publishing:  workflow.NewPublishingService(p, reg, logger),
	}
}

func (h *harness) publish(t *testing.T, settings models.WorkflowSettings, steps ...*models.StepDefinition) *models.WorkflowVersion {
	t.Helper()

	ctx := context.Background()

	wf := testutil.CreateTestWorkflow(testutil.WithSettings(settings))
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	version, err := h.publishing.PublishVersion(ctx, wf.ID, steps)
	require.NoError(t, err)

	return version
}

// store saves a version without publish-time validation.
func (h *harness) store(t *testing.T, steps ...*models.StepDefinition) *models.WorkflowVersion {
	t.Helper()

	ctx := context.Background()

	wf := testutil.CreateTestWorkflow(testutil.WithSettings(models.WorkflowSettings{RetryMaxAttempts: 1}))
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	version := testutil.CreateTestVersion(wf.ID, steps...)
	require.NoError(t, h.persistence.VersionRepository().CreateVersion(ctx, version))

	return version
}

func (h *harness) enqueue(t *testing.T, version *models.WorkflowVersion, input map[string]any) string {
	t.Helper()

	execution := testutil.CreateTestExecution(version, input)
	require.NoError(t, h.persistence.ExecutionRepository().CreateExecution(context.Background(), execution))

	return execution.ID
}

func (h *harness) load(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := h.persistence.ExecutionRepository().GetExecution(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func assertTerminal(t *testing.T, execution *models.Execution) {
	t.Helper()

	assert.True(t, execution.Status.IsTerminal(), "status %s", execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	assert.NotNil(t, execution.DurationMs)
}

func fastRetries() models.WorkflowSettings {
	return models.WorkflowSettings{RetryMaxAttempts: 3, RetryBackoffMs: models.Ptr(int64(1))}
}

func dataServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"n":4}`))
	}))
	t.Cleanup(server.Close)

	return server
}

func fetchStep(url string) *models.StepDefinition {
	return testutil.CreateTestStep(
		testutil.WithStepID("fetch"),
		testutil.WithStepType(models.StepTypeHTTPRequest, map[string]any{"url": url, "method": "GET"}),
		testutil.WithPosition(1),
	)
}

func TestExecutor_FetchThenSquare(t *testing.T) {
	h := newHarness(t)
	server := dataServer(t)

	version := h.publish(t, fastRetries(),
		testutil.CreateTestStep(
			testutil.WithStepID("square"),
			testutil.WithStepType(models.StepTypeTransform, map[string]any{
				"language": "expr",
				"code":     `{"n": variables.fetch.data.n * variables.fetch.data.n}`,
			}),
			testutil.WithPosition(2),
		),
		fetchStep(server.URL),
	)

	id := h.enqueue(t, version, map[string]any{"source": "test"})

	require.NoError(t, h.executor.Execute(context.Background(), id))

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.Error)
	assert.Equal(t, 0, execution.RetryCount)

	square, ok := execution.Output["square"].(map[string]any)
	require.True(t, ok, "output %v", execution.Output)
	assert.InDelta(t, 16, square["n"], 0)

	require.Len(t, execution.Steps, 2)
	assert.Equal(t, "fetch", execution.Steps[0].StepID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Steps[1].Status)
	assert.NotEmpty(t, execution.Logs)

	assert.Equal(t, []events.Lifecycle{
		events.Started,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.Completed,
	}, h.sink.names())

	for _, event := range h.sink.all() {
		assert.Equal(t, id, event.executionID)
		assert.Equal(t, id, event.payload[events.PayloadExecutionID])
		assert.NotEmpty(t, event.payload[events.PayloadTimestamp])
	}
}

func TestExecutor_FetchThenSquareJavaScript(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}

	h := newHarness(t)
	server := dataServer(t)

	version := h.publish(t, fastRetries(),
		fetchStep(server.URL),
		testutil.CreateTestStep(
			testutil.WithStepID("square"),
			testutil.WithStepType(models.StepTypeTransform, map[string]any{
				"code": "return {n: variables.fetch.data.n * variables.fetch.data.n};",
			}),
			testutil.WithPosition(2),
		),
	)

	id := h.enqueue(t, version, nil)

	require.NoError(t, h.executor.Execute(context.Background(), id))

	execution := h.load(t, id)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"n": float64(16)}, execution.Output["square"])
}

func TestExecutor_StepFailureAbortsRun(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, fastRetries(),
		testutil.CreateTestStep(testutil.WithStepID("first"), testutil.WithPosition(1)),
		testutil.CreateTestStep(
			testutil.WithStepID("broken"),
			testutil.WithStepType(models.StepTypeDelay, map[string]any{"milliseconds": -100}),
			testutil.WithPosition(2),
		),
		testutil.CreateTestStep(testutil.WithStepID("never"), testutil.WithPosition(3)),
	)

	id := h.enqueue(t, version, nil)

	err := h.executor.Execute(context.Background(), id)
	require.ErrorIs(t, err, workflow.ErrExecutionFailed)

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "Delay milliseconds must be non-negative", execution.Error)

	require.Len(t, execution.Steps, 2)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Steps[1].Status)
	assert.Equal(t, 1, execution.Steps[1].Attempts, "non-retryable failures are attempted once")
	assert.Contains(t, execution.Output, "first")

	names := h.sink.names()
	assert.Equal(t, events.StepFailed, names[len(names)-2])
	assert.Equal(t, events.Failed, names[len(names)-1])
}

func TestExecutor_RetriesWithinPolicy(t *testing.T) {
	h := newHarness(t)

	flaky := &flakyRunner{failures: 2}
	h.registry.Register(flaky)

	version := h.publish(t, fastRetries(), testutil.CreateTestStep(
		testutil.WithStepID("flaky"),
		testutil.WithStepType(models.StepTypeFallback, map[string]any{}),
	))

	id := h.enqueue(t, version, nil)

	require.NoError(t, h.executor.Execute(context.Background(), id))

	execution := h.load(t, id)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 2, execution.RetryCount)
	assert.Equal(t, int32(3), flaky.calls.Load())
	require.Len(t, execution.Steps, 1)
	assert.Equal(t, 3, execution.Steps[0].Attempts)

	var messages []string
	for _, entry := range execution.Logs {
		messages = append(messages, entry.Message)
	}

	assert.Contains(t, messages, "Retrying step flaky (attempt 2/3)")
	assert.Contains(t, messages, "Retrying step flaky (attempt 3/3)")
}

func TestExecutor_RetryExhaustionFailsRun(t *testing.T) {
	h := newHarness(t)

	flaky := &flakyRunner{failures: 10}
	h.registry.Register(flaky)

	version := h.publish(t, fastRetries(), testutil.CreateTestStep(
		testutil.WithStepType(models.StepTypeFallback, map[string]any{}),
	))

	id := h.enqueue(t, version, nil)

	require.ErrorIs(t, h.executor.Execute(context.Background(), id), workflow.ErrExecutionFailed)

	execution := h.load(t, id)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "upstream unavailable", execution.Error)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestExecutor_ReExecuteIsNoop(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, fastRetries(), testutil.CreateTestStep())
	id := h.enqueue(t, version, nil)

	require.NoError(t, h.executor.Execute(context.Background(), id))

	before := h.load(t, id)
	emitted := len(h.sink.names())

	err := h.executor.Execute(context.Background(), id)
	require.ErrorIs(t, err, workflow.ErrExecutionFinished)

	after := h.load(t, id)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)
	assert.Len(t, after.Steps, len(before.Steps))
	assert.Len(t, h.sink.names(), emitted)
}

func TestExecutor_ConcurrentDeliveriesRunOnce(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, fastRetries(), testutil.CreateTestStep(
		testutil.WithStepType(models.StepTypeDelay, map[string]any{"milliseconds": 20}),
	))
	id := h.enqueue(t, version, nil)

	var (
		wg   sync.WaitGroup
		runs atomic.Int32
	)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if h.executor.Execute(context.Background(), id) == nil {
				runs.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Len(t, h.load(t, id).Steps, 1)
}

func TestExecutor_NoStepsDefined(t *testing.T) {
	h := newHarness(t)

	version := h.store(t)
	id := h.enqueue(t, version, nil)

	require.ErrorIs(t, h.executor.Execute(context.Background(), id), workflow.ErrExecutionFailed)

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "No steps defined", execution.Error)
	assert.Equal(t, []events.Lifecycle{events.Failed}, h.sink.names())
}

func TestExecutor_ConfigurationErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)

	version := h.store(t, testutil.CreateTestStep(
		testutil.WithStepID("no-url"),
		testutil.WithStepType(models.StepTypeHTTPRequest, map[string]any{"method": "GET"}),
	))
	id := h.enqueue(t, version, nil)

	require.ErrorIs(t, h.executor.Execute(context.Background(), id), workflow.ErrExecutionFailed)

	execution := h.load(t, id)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "invalid step configuration")
	require.Len(t, execution.Steps, 1)
	assert.Equal(t, 1, execution.Steps[0].Attempts)
}

func TestExecutor_CancellationTakesEffectBetweenSteps(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, fastRetries(),
		testutil.CreateTestStep(testutil.WithStepID("first"), testutil.WithPosition(1)),
		testutil.CreateTestStep(testutil.WithStepID("second"), testutil.WithPosition(2)),
	)
	id := h.enqueue(t, version, nil)

	var once sync.Once

	h.sink.onEmit = func(event recordedEvent) {
		if event.name != events.StepStarted {
			return
		}

		once.Do(func() {
			cancelled, err := h.persistence.ExecutionRepository().CancelExecution(context.Background(), id, time.Now())
			assert.NoError(t, err)
			assert.True(t, cancelled)
		})
	}

	require.NoError(t, h.executor.Execute(context.Background(), id))

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	require.Len(t, execution.Steps, 1, "the in-flight step finishes, the next one never starts")
	assert.NotContains(t, h.sink.names(), events.Completed)
}

func TestExecutor_WorkflowTimeout(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, models.WorkflowSettings{TimeoutMs: 50, RetryMaxAttempts: 1},
		testutil.CreateTestStep(testutil.WithStepType(models.StepTypeDelay, map[string]any{"milliseconds": 5000})),
	)
	id := h.enqueue(t, version, nil)

	started := time.Now()

	require.ErrorIs(t, h.executor.Execute(context.Background(), id), workflow.ErrExecutionFailed)
	assert.Less(t, time.Since(started), 2*time.Second)

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "timed out after 50ms")
}

func TestExecutor_AbortFailsRunningExecution(t *testing.T) {
	h := newHarness(t)

	version := h.publish(t, fastRetries(), testutil.CreateTestStep())
	id := h.enqueue(t, version, nil)

	ctx := context.Background()

	claimed, err := h.persistence.ExecutionRepository().ClaimExecution(ctx, id, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, h.executor.Abort(ctx, id, "worker panic: boom"))

	execution := h.load(t, id)
	assertTerminal(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "worker panic: boom", execution.Error)

	require.NoError(t, h.executor.Abort(ctx, id, "again"))
	assert.Equal(t, "worker panic: boom", h.load(t, id).Error)
}

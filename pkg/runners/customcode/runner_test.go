package customcode

import (
	"context"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRunner_Timeout(t *testing.T) {
	sb := &mocks.MockSandbox{}
	sb.On("Run", mock.Anything, mock.MatchedBy(func(req sandbox.Request) bool {
		return req.Timeout == 250*time.Millisecond
	})).Return(nil, sandbox.ErrTimeout)

	result := NewRunner(sb, slog.Default()).Run(context.Background(), &models.CustomCodeConfig{
		Language:  "javascript",
		Code:      "while (true) {}",
		TimeoutMs: 250,
	}, models.NewExecutionContext("e", "w", "v", nil))

	require.False(t, result.Success)
	assert.Equal(t, "JavaScript execution timed out after 250ms", result.Error)
	assert.True(t, result.IsRetryable())
}

func TestRunner_PythonFailure(t *testing.T) {
	sb := &mocks.MockSandbox{}
	sb.On("Run", mock.Anything, mock.Anything).Return(nil, &sandbox.CodeError{
		Language: sandbox.Python,
		Message:  "NameError: name 'x' is not defined",
		Stderr:   "Traceback ...",
		ExitCode: 1,
	})

	result := NewRunner(sb, slog.Default()).Run(context.Background(), &models.CustomCodeConfig{
		Language: "python",
		Code:     "print(x)",
	}, models.NewExecutionContext("e", "w", "v", nil))

	require.False(t, result.Success)
	assert.Equal(t, "Python execution failed: NameError: name 'x' is not defined", result.Error)
	assert.Equal(t, 1, result.Metadata["exitCode"])
}

func TestRunner_BindsContext(t *testing.T) {
	sb := &mocks.MockSandbox{}
	execCtx := models.NewExecutionContext("e", "w", "v", map[string]any{"items": []any{1, 2}})
	execCtx.SetVariable("prev", "ok")

	sb.On("Run", mock.Anything, mock.MatchedBy(func(req sandbox.Request) bool {
		return req.Timeout == DefaultTimeout &&
			assert.ObjectsAreEqual(execCtx.Input, req.Bindings["input"]) &&
			assert.ObjectsAreEqual(execCtx.Variables, req.Bindings["variables"])
	})).Return(&sandbox.Result{Value: float64(2), Logs: []string{"hi"}}, nil)

	result := NewRunner(sb, slog.Default()).Run(context.Background(), &models.CustomCodeConfig{
		Language: "javascript",
		Code:     "console.log('hi'); return input.items.length;",
	}, execCtx)

	require.True(t, result.Success)
	assert.Equal(t, float64(2), result.Output)
	assert.Equal(t, []string{"hi"}, result.Metadata["logs"])
	sb.AssertExpectations(t)
}

func TestRunner_PythonWithInterpreter(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	runner := NewRunner(sandbox.NewProcessSandbox(slog.Default()), slog.Default())

	result := runner.Run(context.Background(), &models.CustomCodeConfig{
		Language: "python",
		Code:     "import json\nprint(json.dumps({'total': sum(input['values'])}))",
	}, models.NewExecutionContext("e", "w", "v", map[string]any{"values": []any{1, 2, 3}}))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, map[string]any{"total": float64(6)}, result.Output)
}

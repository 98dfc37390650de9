// Package sandbox runs untrusted user code in a separate interpreter process with a hard
// time limit and no inherited environment.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Language is a supported sandbox language.
type Language string

const (
	JavaScript Language = "javascript"
	Python     Language = "python"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultWaitDelay = 2 * time.Second
	maxStderrBytes   = 8 << 10

	// DefaultMaxOutputBytes caps what a child may write to stdout.
	DefaultMaxOutputBytes = 4 << 20
)

var (
	// ErrTimeout is returned when user code exceeds its time limit and was killed.
	ErrTimeout = errors.New("sandbox: execution timed out")
	// ErrInterpreterNotFound is returned when the language runtime is not installed.
	ErrInterpreterNotFound = errors.New("sandbox: interpreter not found")
	// ErrUnsupportedLanguage is returned for languages the sandbox cannot run.
	ErrUnsupportedLanguage = errors.New("sandbox: unsupported language")

	errOutputLimit = errors.New("sandbox: output limit exceeded")
)

//go:embed bootstrap/node.js
var nodeBootstrap string

//go:embed bootstrap/python.py
var pythonBootstrap string

// CodeError reports that user code threw, or the interpreter exited abnormally.
type CodeError struct {
	Language Language
	Message  string
	Stderr   string
	ExitCode int
}

func (e *CodeError) Error() string {
	return e.Message
}

// Request describes one sandboxed invocation. Bindings are exposed to the code as globals.
type Request struct {
	Language Language
	Code     string
	Bindings map[string]any
	Timeout  time.Duration
}

// Result is the outcome of a successful invocation. Logs holds captured console output
// (JavaScript) and Stdout the raw captured output (Python).
type Result struct {
	Value    any
	Logs     []string
	Stdout   string
	Duration time.Duration
}

// Sandbox executes user code behind an isolation boundary.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ProcessSandbox runs each request in a fresh node or python3 child process.
type ProcessSandbox struct {
	logger     *slog.Logger
	nodePath   string
	pythonPath string
	waitDelay  time.Duration
	maxOutput  int

	lookupOnce sync.Once
	paths      map[Language]string
}

// Option configures a ProcessSandbox.
type Option func(*ProcessSandbox)

// WithNodePath overrides the node executable.
func WithNodePath(path string) Option {
	return func(s *ProcessSandbox) { s.nodePath = path }
}

// WithPythonPath overrides the python executable.
func WithPythonPath(path string) Option {
	return func(s *ProcessSandbox) { s.pythonPath = path }
}

// WithMaxOutputBytes overrides how much stdout a child may produce before it is killed.
func WithMaxOutputBytes(n int) Option {
	return func(s *ProcessSandbox) {
		if n > 0 {
			s.maxOutput = n
		}
	}
}

// NewProcessSandbox creates a ProcessSandbox. Interpreters default to "node" and "python3"
// resolved on PATH.
func NewProcessSandbox(logger *slog.Logger, opts ...Option) *ProcessSandbox {
	s := &ProcessSandbox{
		logger:     logger.With("module", "sandbox"),
		nodePath:   "node",
		pythonPath: "python3",
		waitDelay:  defaultWaitDelay,
		maxOutput:  DefaultMaxOutputBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type wireRequest struct {
	Code      string         `json:"code"`
	Bindings  map[string]any `json:"bindings"`
	TimeoutMs int64          `json:"timeoutMs"`
}

type wireResponse struct {
	OK     bool     `json:"ok"`
	Result any      `json:"result"`
	Error  string   `json:"error"`
	Logs   []string `json:"logs"`
	Stdout string   `json:"stdout"`
}

// Run executes req and blocks until the code returns, fails or runs out of time.
func (s *ProcessSandbox) Run(ctx context.Context, req Request) (*Result, error) {
	interpreter, args, err := s.command(req.Language)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	payload, err := json.Marshal(wireRequest{
		Code:      req.Code,
		Bindings:  req.Bindings,
		TimeoutMs: timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: encode bindings: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &limitedBuffer{limit: s.maxOutput, onExceed: cancel}
	stderr := &limitedBuffer{limit: maxStderrBytes}

	cmd := exec.CommandContext(runCtx, interpreter, args...)
	cmd.Env = []string{}
	cmd.Dir = os.TempDir()
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}

		return nil
	}
	cmd.WaitDelay = s.waitDelay

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if stdout.exceeded.Load() {
		s.logger.WarnContext(ctx, "sandbox killed after exceeding output limit",
			"language", req.Language, "limit", s.maxOutput)

		return nil, &CodeError{
			Language: req.Language,
			Message:  fmt.Sprintf("output exceeded %d bytes", s.maxOutput),
			Stderr:   stderr.String(),
			ExitCode: -1,
		}
	}

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.logger.WarnContext(ctx, "sandbox killed after timeout",
			"language", req.Language, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	response, decodeErr := decodeResponse(stdout.Bytes())
	if decodeErr != nil {
		exitCode := 0

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		message := "process produced no result"
		if runErr != nil {
			message = runErr.Error()
		}

		return nil, &CodeError{
			Language: req.Language,
			Message:  message,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		}
	}

	if !response.OK {
		return nil, &CodeError{
			Language: req.Language,
			Message:  response.Error,
			Stderr:   stderr.String(),
		}
	}

	result := &Result{
		Value:    response.Result,
		Logs:     response.Logs,
		Stdout:   response.Stdout,
		Duration: elapsed,
	}

	if req.Language == Python {
		result.Value = parseOutput(response.Stdout)
	}

	return result, nil
}

func (s *ProcessSandbox) command(language Language) (string, []string, error) {
	s.lookupOnce.Do(func() {
		s.paths = make(map[Language]string, 2)

		if path, err := exec.LookPath(s.nodePath); err == nil {
			s.paths[JavaScript] = path
		}

		if path, err := exec.LookPath(s.pythonPath); err == nil {
			s.paths[Python] = path
		}
	})

	switch language {
	case JavaScript:
		path, ok := s.paths[JavaScript]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrInterpreterNotFound, s.nodePath)
		}

		return path, []string{"-e", nodeBootstrap}, nil
	case Python:
		path, ok := s.paths[Python]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrInterpreterNotFound, s.pythonPath)
		}

		return path, []string{"-I", "-c", pythonBootstrap}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
}

func decodeResponse(stdout []byte) (*wireResponse, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response")
	}

	if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}

	var response wireResponse
	if err := json.Unmarshal(trimmed, &response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &response, nil
}

// parseOutput reads captured stdout as JSON, falling back to the trimmed text.
func parseOutput(stdout string) any {
	text := strings.TrimSpace(stdout)
	if text == "" {
		return nil
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return value
	}

	return text
}

// limitedBuffer keeps at most limit bytes. Once more arrives it drops the rest, and when
// onExceed is set it calls it and fails the write so the child is stopped.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	onExceed func()
	exceeded atomic.Bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()

	if len(p) <= room {
		return b.buf.Write(p)
	}

	if room > 0 {
		b.buf.Write(p[:room])
	}

	if b.onExceed == nil {
		return len(p), nil
	}

	if !b.exceeded.Swap(true) {
		b.onExceed()
	}

	return 0, errOutputLimit
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *limitedBuffer) String() string { return b.buf.String() }

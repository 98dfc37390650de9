// Package retry runs a single step invocation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	goretry "github.com/sethvargo/go-retry"
)

var errAttemptFailed = errors.New("attempt failed")

// Policy bounds how often and how patiently a step is attempted.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// FromSettings builds the policy configured on a workflow, falling back to the defaults.
func FromSettings(settings models.WorkflowSettings) Policy {
	settings = settings.WithDefaults()

	return Policy{
		MaxAttempts: settings.RetryMaxAttempts,
		Backoff:     settings.Backoff(),
	}
}

// Attempt is one invocation of the wrapped step.
type Attempt func(ctx context.Context) models.StepResult

// OnRetry is called before every attempt after the first with the 1-based attempt number,
// the attempt limit and the result that triggered the retry.
type OnRetry func(attempt, maxAttempts int, previous models.StepResult)

// Run invokes fn until it succeeds, returns a non-retryable failure or the attempt limit is
// spent. The delay before attempt n+1 is Backoff * 2^(n-1). It returns the last result and the
// number of attempts made. Panics inside fn become failed results.
func (p Policy) Run(ctx context.Context, fn Attempt, onRetry OnRetry) (models.StepResult, int) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		last     models.StepResult
		attempts int
	)

	err := goretry.Do(ctx, p.backoff(maxAttempts), func(ctx context.Context) error {
		if attempts > 0 && onRetry != nil {
			onRetry(attempts+1, maxAttempts, last)
		}

		attempts++
		last = invoke(ctx, fn)

		switch {
		case last.Success:
			return nil
		case !last.IsRetryable():
			return errAttemptFailed
		default:
			return goretry.RetryableError(errAttemptFailed)
		}
	})

	if attempts == 0 {
		return models.Failed(fmt.Sprintf("step not attempted: %v", err), nil), 0
	}

	return last, attempts
}

func (p Policy) backoff(maxAttempts int) goretry.Backoff {
	var base goretry.Backoff

	if p.Backoff <= 0 {
		base = goretry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		})
	} else {
		base = goretry.NewExponential(p.Backoff)
	}

	return goretry.WithMaxRetries(uint64(maxAttempts-1), base)
}

func invoke(ctx context.Context, fn Attempt) (result models.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = models.Failed(fmt.Sprintf("%v", r), map[string]any{
				"panic": true,
				"stack": string(debug.Stack()),
			})
		}
	}()

	return fn(ctx)
}

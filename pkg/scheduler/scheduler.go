// Package scheduler fires schedule triggers when they fall due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultPollInterval = time.Minute

// Scheduler polls the stored schedule triggers and dispatches every one whose NextDueAt has
// passed. NextDueAt lives in persistence, so a restarted scheduler resumes where it stopped.
// A trigger that missed several fire times while nothing was polling fires once.
type Scheduler struct {
	persistence persistence.Persistence
	dispatcher  *dispatch.Dispatcher
	logger      *slog.Logger
	interval    time.Duration
	now         func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Scheduler)

func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(persistence persistence.Persistence, dispatcher *dispatch.Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		persistence: persistence,
		dispatcher:  dispatcher,
		logger:      logger.With("module", "scheduler"),
		interval:    DefaultPollInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs a poll immediately and then on every interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return
	}

	cronLogger := slogAdapter{s.logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	poll := cron.FuncJob(func() {
		_, err := s.Poll(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Schedule poll failed", "error", err)
		}
	})

	s.cron.Schedule(cron.Every(s.interval), poll)
	s.cron.Start()

	go poll.Run()

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval)
}

// Stop halts polling and waits for a running poll to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()

	s.logger.Info("Scheduler stopped")
}

// Poll dispatches the due schedule triggers and returns how many fired.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	now := s.now()

	triggers, err := s.persistence.TriggerRepository().ListTriggers(ctx, models.TriggerTypeSchedule)
	if err != nil {
		return 0, fmt.Errorf("failed to list schedule triggers: %w", err)
	}

	fired := 0

	for _, trigger := range triggers {
		if !trigger.Enabled {
			continue
		}

		logger := s.logger.With("trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID)

		// Triggers stored without a due time are armed without firing.
		if trigger.NextDueAt == nil {
			err = s.advance(ctx, trigger, now)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to arm schedule trigger", "error", err)
			}

			continue
		}

		if trigger.NextDueAt.After(now) {
			continue
		}

		dueAt := *trigger.NextDueAt

		dispatchID, err := s.dispatcher.Schedule(ctx, trigger, dueAt)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to dispatch schedule trigger", "error", err)

			continue
		}

		fired++

		logger.InfoContext(ctx, "Schedule trigger fired",
			"dispatch_id", dispatchID,
			"due_at", dueAt,
			"cron_expression", trigger.Schedule,
		)

		err = s.advance(ctx, trigger, now)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to advance schedule trigger", "error", err)
		}
	}

	return fired, nil
}

func (s *Scheduler) advance(ctx context.Context, trigger *models.Trigger, now time.Time) error {
	err := trigger.UpdateNextDueAt(now)
	if err != nil {
		return err
	}

	trigger.UpdatedAt = now

	return s.persistence.TriggerRepository().SaveTrigger(ctx, trigger)
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}

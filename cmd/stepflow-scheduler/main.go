// Package main provides the Stepflow scheduler, which dispatches schedule triggers when they fall due.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "stepflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Fire schedule triggers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   cmd.EventBusKafka,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due triggers are checked",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("SCHEDULER_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   log.FormatText,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("stepflow-scheduler")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Stepflow Scheduler")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"stepflow-scheduler",
				logger,
			)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			dispatcher := dispatch.NewDispatcher(persistence, eventBus, logger, metrics.New())

			s := scheduler.New(persistence, dispatcher, logger,
				scheduler.WithPollInterval(command.Duration("poll-interval")),
			)

			s.Start(ctx)
			<-ctx.Done()
			s.Stop()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("stepflow-scheduler").Error("stepflow-scheduler failed", "error", err)
		os.Exit(1)
	}
}

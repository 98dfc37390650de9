// Package main provides the Stepflow API server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Manage workflows and start executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or file://path)",
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for execution event streaming (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "vault-key",
				Usage:   "Base64 encoded 32 byte key sealing stored credentials (optional)",
				Sources: cli.EnvVars("VAULT_KEY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			logger := log.WithModule("api")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Stepflow API")

			if command.Bool("tracing") {
				_, shutdown, err := otelhelper.NewTracer(ctx, "stepflow-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
					}
				}()
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			// Every API instance streams all lifecycle events, so each gets its own group.
			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"stepflow-api-"+uuid.NewString(),
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

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer redisClient.Close()
			}

			sink, err := cmd.NewSink(eventBus, redisClient)
			if err != nil {
				return err
			}

			subscriber, hub, err := cmd.NewSubscriber(eventBus, redisClient, logger)
			if err != nil {
				return err
			}

			if hub != nil {
				if err := eventBus.Subscribe(ctx); err != nil {
					return err
				}
			}

			vault, err := cmd.NewVault(persistence, command.String("vault-key"))
			if err != nil {
				return err
			}

			api := web.NewServer(
				logger,
				persistence,
				cmd.NewRegistry(logger, vault),
				eventBus,
				sink,
				subscriber,
				vault,
				metrics.New(),
			)

			app := api.App()

			go func() {
				<-ctx.Done()

				if err := app.ShutdownWithContext(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down API server", "error", err)
				}
			}()

			err = app.Listen(":" + strconv.Itoa(int(command.Int("port"))))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("stepflow-api failed", "error", err)
		os.Exit(1)
	}
}

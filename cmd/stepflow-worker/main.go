// Package main provides the Stepflow worker, which turns dispatch jobs into executions and runs them.
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
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/sandbox"
	"github.com/dukex/stepflow/pkg/worker"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "stepflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for execution event streaming (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "vault-key",
				Usage:   "Base64 encoded 32 byte key opening stored credentials (optional)",
				Sources: cli.EnvVars("VAULT_KEY"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum executions running at once",
				Value:   worker.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "node-path",
				Usage:   "Node.js binary for javascript steps",
				Value:   "node",
				Sources: cli.EnvVars("NODE_BINARY"),
			},
			&cli.StringFlag{
				Name:    "python-path",
				Usage:   "Python binary for python steps",
				Value:   "python3",
				Sources: cli.EnvVars("PYTHON_BINARY"),
			},
			&cli.IntFlag{
				Name:    "sandbox-max-output",
				Usage:   "Bytes of output a code step may produce before it is killed",
				Value:   sandbox.DefaultMaxOutputBytes,
				Sources: cli.EnvVars("SANDBOX_MAX_OUTPUT"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving Prometheus metrics (empty disables)",
				Value:   ":9095",
				Sources: cli.EnvVars("METRICS_ADDR"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("stepflow-worker").With("workerId", workerID)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Stepflow Worker")

			options := []workflow.Option{}
			m := metrics.New()
			options = append(options, workflow.WithMetrics(m))

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "stepflow-worker")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
					}
				}()

				options = append(options, workflow.WithTracer(tracer))
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

			// Workers share one consumer group so each job runs once.
			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"stepflow-worker",
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

			vault, err := cmd.NewVault(persistence, command.String("vault-key"))
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, vault,
				sandbox.WithNodePath(command.String("node-path")),
				sandbox.WithPythonPath(command.String("python-path")),
				sandbox.WithMaxOutputBytes(int(command.Int("sandbox-max-output"))),
			)

			executor := workflow.NewExecutor(persistence, registry, sink, logger, options...)

			manager := NewWorkerManager(
				workerID,
				eventBus,
				dispatch.NewDispatcher(persistence, eventBus, logger, m),
				worker.NewPool(executor, int(command.Int("concurrency")), logger),
				m,
				command.String("metrics-addr"),
				logger,
			)

			return manager.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("stepflow-worker").Error("stepflow-worker failed", "error", err)
		os.Exit(1)
	}
}

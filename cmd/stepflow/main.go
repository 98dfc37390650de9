// Package main runs the API, a worker and the scheduler in one process for local development.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/dukex/stepflow/pkg/worker"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "stepflow",
		Usage:                 "Create and run workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "dev",
				Aliases: []string{"d"},
				Usage:   "Run the API, a worker and the scheduler over an in-memory queue",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   9091,
						Sources: cli.EnvVars("PORT"),
					},
					&cli.StringFlag{
						Name:    "database-url",
						Value:   "file://./data",
						Sources: cli.EnvVars("DATABASE_URL"),
					},
					&cli.StringFlag{
						Name:    "vault-key",
						Sources: cli.EnvVars("VAULT_KEY"),
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Value:   worker.DefaultConcurrency,
						Sources: cli.EnvVars("WORKER_CONCURRENCY"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "info",
						Sources: cli.EnvVars("LOG_LEVEL"),
					},
					&cli.StringFlag{
						Name:    "log-format",
						Value:   log.FormatText,
						Sources: cli.EnvVars("LOG_FORMAT"),
					},
				},
				Action: runDev,
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("stepflow").Error("stepflow failed", "error", err)
		os.Exit(1)
	}
}

func runDev(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("stepflow")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() { _ = persistence.Close(context.WithoutCancel(ctx)) }()

	eventBus, err := cmd.NewEventBus(cmd.EventBusGoChannel, "", "stepflow", logger)
	if err != nil {
		return err
	}

	defer func() { _ = eventBus.Close() }()

	vault, err := cmd.NewVault(persistence, command.String("vault-key"))
	if err != nil {
		return err
	}

	m := metrics.New()
	registry := cmd.NewRegistry(logger, vault)

	sink, err := cmd.NewSink(eventBus, nil)
	if err != nil {
		return err
	}

	subscriber, _, err := cmd.NewSubscriber(eventBus, nil, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(persistence, eventBus, logger, m)
	pool := worker.NewPool(
		workflow.NewExecutor(persistence, registry, sink, logger, workflow.WithMetrics(m)),
		int(command.Int("concurrency")),
		logger,
	)

	if err := eventBus.Handle(events.DispatchRequestedEvent, dispatcher.Handler()); err != nil {
		return err
	}

	if err := eventBus.Handle(events.ExecutionRequestedEvent, pool.HandleExecutionRequested); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return err
	}

	if _, err := dispatcher.RequeuePending(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to requeue pending executions", "error", err)
	}

	s := scheduler.New(persistence, dispatcher, logger)
	s.Start(ctx)

	defer s.Stop()

	app := web.NewServer(logger, persistence, registry, eventBus, sink, subscriber, vault, m).App()

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithContext(context.WithoutCancel(ctx))
	}()

	err = app.Listen(":" + strconv.Itoa(int(command.Int("port"))))

	pool.Wait()

	return err
}

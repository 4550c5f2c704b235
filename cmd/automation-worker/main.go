// Package main provides the automation worker, which executes dispatched runs.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/praxishq/automation/pkg/cmd"
	"github.com/praxishq/automation/pkg/engine"
	"github.com/praxishq/automation/pkg/log"
	"github.com/praxishq/automation/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "automation-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute automation runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for cross-worker provider rate limiting",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "credentials",
				Usage:   "Provider credentials as JSON",
				Sources: cli.EnvVars("AUTOMATION_CREDENTIALS"),
			},
			&cli.StringFlag{
				Name:    "subjects-url",
				Usage:   "Base URL of the host application's subject fields API",
				Sources: cli.EnvVars("SUBJECTS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("automation-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing automation worker")

			credentials, err := cmd.NewStaticCredentialStore(command.String("credentials"))
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, credentials, command.String("redis-url"))

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			subjects := cmd.NewSubjectSource(command.String("subjects-url"))
			eng := engine.NewEngine(registry, persistence, subjects, logger)

			tracer, err := otelhelper.NewTracer(ctx, "automation-worker")
			if err != nil {
				logger.WarnContext(ctx, "Failed to initialize tracer, continuing without tracing", "error", err)
			}

			worker := NewWorkerManager(workerID, persistence, eventBus, eng, tracer, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

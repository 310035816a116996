package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsdesk/stepflow/pkg/clients/completion"
	"github.com/opsdesk/stepflow/pkg/clients/tools"
	"github.com/opsdesk/stepflow/pkg/cmd"
	"github.com/opsdesk/stepflow/pkg/log"
	"github.com/opsdesk/stepflow/pkg/otelhelper"
	"github.com/opsdesk/stepflow/pkg/processor"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/registry"
	"github.com/opsdesk/stepflow/pkg/workflow"
	"github.com/urfave/cli/v3"
)

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers, used when the event bus is kafka",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for instance locks; in-process locks when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "completion-url",
				Usage:   "Endpoint of the text completion service used by ai_processing steps",
				Sources: cli.EnvVars("COMPLETION_URL"),
			},
			&cli.StringFlag{
				Name:    "tools-url",
				Usage:   "Base URL of the tool service used by tool_execution steps",
				Sources: cli.EnvVars("TOOLS_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing stepflow API")

			tracer := otelhelper.NoopTracer()

			if command.Bool("tracing") {
				otelTracer, shutdown, err := otelhelper.NewTracer(ctx, "stepflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = otelTracer
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, closeLocker, err := cmd.NewLocker(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := closeLocker(); err != nil {
					logger.ErrorContext(ctx, "Failed to close locker", "error", err)
				}
			}()

			reg := registry.NewRegistry(logger)
			reg.RegisterDefaultSteps(
				completionService(command.String("completion-url"), logger),
				toolInvoker(command.String("tools-url"), logger),
			)

			definitions := workflow.NewDefinitionService(persistence, logger)
			engine := workflow.NewEngine(
				definitions,
				persistence,
				processor.New(reg, logger),
				logger,
				workflow.WithLocker(locker),
				workflow.WithEventPublisher(eventBus),
				workflow.WithTracer(tracer),
			)

			api := NewAPI(logger, persistence, reg, definitions, engine)

			return api.Start(command.Int("port"))
		},
	}
}

// completionService returns nil when no endpoint is configured so
// ai_processing steps fail with a clear execution error.
func completionService(endpoint string, logger *slog.Logger) protocol.CompletionService {
	if endpoint == "" {
		logger.Warn("No completion service configured, ai_processing steps will fail")

		return nil
	}

	return completion.NewHTTPClient(endpoint, logger)
}

func toolInvoker(baseURL string, logger *slog.Logger) protocol.ToolInvoker {
	if baseURL == "" {
		logger.Warn("No tool service configured, tool_execution steps will fail")

		return nil
	}

	return tools.NewHTTPClient(baseURL, logger)
}

package main

import (
	"context"
	"os"

	"github.com/opsdesk/stepflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Define workflows and run their instances step by step",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			RunAPICommand(),
			ImportCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

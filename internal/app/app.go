package app

import (
	"context"
	"fmt"
	"os"

	"github.com/dimspell/vector/internal/app/action"
	"github.com/dimspell/vector/internal/app/logger"
	"github.com/dimspell/vector/internal/metrics"
	"github.com/urfave/cli/v3"
)

const appName = "vector"

func NewApp(version, commit, buildDate string) *cli.Command {
	buildVersion := fmt.Sprintf(
		"%s (revision: %s) built on %s",
		version,
		vcsRevision(commit, "0000000")[:7],
		buildDate,
	)

	app := &cli.Command{
		Name:    appName,
		Usage:   "Relay byte streams between two endpoints",
		Version: buildVersion,
	}

	// Root flags
	app.Flags = append(app.Flags,
		&cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "Log level (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "Log format (text, plain, json)",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Log file path",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colors in log output",
		},
	)

	// Setup function
	var closers []logger.CleanupFunc
	app.Before = func(ctx context.Context, c *cli.Command) (context.Context, error) {
		closer, err := logger.InitDefaultLogger(c)
		if err != nil {
			return ctx, err
		}
		closers = append(closers, closer)
		metrics.Init()
		return ctx, nil
	}

	// Cleanup function
	app.After = func(_ context.Context, _ *cli.Command) error {
		for _, closer := range closers {
			if err := closer(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, "Failed to clean up:", err)
			}
		}
		return nil
	}

	// Assign commands
	app.Commands = append(app.Commands,
		action.SpliceCommand(buildVersion),
		action.VersionCommand(buildVersion),
	)

	return app
}

// Run builds the app and runs it with the process arguments.
func Run(version, commit, buildDate string) {
	if err := NewApp(version, commit, buildDate).Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

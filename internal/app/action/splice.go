package action

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/console"
	"github.com/dimspell/vector/internal/reactor"
	"github.com/dimspell/vector/internal/splice"
	"github.com/dimspell/vector/internal/stream"
	"github.com/dimspell/vector/internal/vector"
	"github.com/kelindar/event"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var errPipeFinished = errors.New("pipe finished")

func SpliceCommand(version string) *cli.Command {
	cmd := &cli.Command{
		Name:        "splice",
		Usage:       "Relay bytes between two endpoints",
		Description: "Dial both endpoints and relay between them until both directions shut down. Endpoints are URLs with tcp, ws, wss or quic scheme.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Client-side endpoint, e.g. tcp://127.0.0.1:6112",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Server-side endpoint, e.g. ws://example.com/stream",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "queue-limit",
				Value: defaultQueueLimit,
				Usage: "Maximum number of data events queued per direction",
			},
			&cli.DurationFlag{
				Name:  "tick-interval",
				Value: defaultTickInterval,
				Usage: "Period of the scheduler safety tick",
			},
			&cli.StringFlag{
				Name:  "console-addr",
				Value: defaultConsoleAddr,
				Usage: "Address of the diagnostics console, empty to disable it",
			},
			&cli.Int64Flag{
				Name:  "quota",
				Usage: "End a direction after this many bytes, 0 for no limit",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Log every admitted event at debug level",
			},
			&cli.DurationFlag{
				Name:  "dial-timeout",
				Value: defaultDialTimeout,
				Usage: "Timeout of a single dial attempt",
			},
			&cli.DurationFlag{
				Name:  "dial-max-elapsed",
				Value: defaultDialMaxElapsed,
				Usage: "Give up dialing after this long, 0 to retry until interrupted",
			},
		},
	}

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Int("queue-limit") < 1 {
			return errors.New("queue-limit must be at least 1")
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus := event.NewDispatcher()
		defer bus.Close()

		re := reactor.New(
			vector.NewScheduler(vector.WithDispatcher(bus)),
			reactor.WithInterval(c.Duration("tick-interval")),
		)

		group, groupContext := errgroup.WithContext(ctx)
		group.Go(func() error {
			if err := re.Run(groupContext); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})

		if addr := c.String("console-addr"); addr != "" {
			con := console.NewConsole(re,
				console.WithBindAddr(addr),
				console.WithVersion(version),
			)
			startConsole, stopConsole := con.Handlers()
			group.Go(func() error {
				return startConsole(groupContext)
			})
			group.Go(func() error {
				<-groupContext.Done()
				timeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return stopConsole(timeout)
			})
		}

		group.Go(func() error {
			if err := runPipe(groupContext, c, re); err != nil {
				return err
			}
			return errPipeFinished
		})

		if err := group.Wait(); err != nil && !errors.Is(err, errPipeFinished) {
			return err
		}
		return nil
	}

	return cmd
}

func runPipe(ctx context.Context, c *cli.Command, re *reactor.Reactor) error {
	dialer := &stream.Dialer{
		Timeout:        c.Duration("dial-timeout"),
		MaxElapsedTime: c.Duration("dial-max-elapsed"),
	}

	from, to := c.String("from"), c.String("to")
	client, err := dialer.Dial(ctx, from, stream.WithWake(re.Wake))
	if err != nil {
		return err
	}
	server, err := dialer.Dial(ctx, to, stream.WithWake(re.Wake))
	if err != nil {
		_ = client.Close()
		return err
	}

	pipe, err := splice.Open(ctx, re, client, server,
		splice.WithQueueLimit(c.Int("queue-limit")),
		splice.WithQuota(c.Int64("quota")),
		splice.WithTrace(c.Bool("trace")),
	)
	if err != nil {
		return errors.Join(err, client.Close(), server.Close())
	}
	slog.Info("Splicing endpoints", logging.PipeID(pipe.ID), "from", from, "to", to)

	select {
	case <-pipe.Done():
		return nil
	case <-ctx.Done():
		slog.Info("Interrupted, closing the pipe", logging.PipeID(pipe.ID))
		if err := pipe.Close(); err != nil {
			slog.Warn("Pipe did not close cleanly", logging.Error(err))
		}
		return nil
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/patternwatch/internal/adapter/agentapi"
	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/resilience"
	"github.com/Strob0t/patternwatch/internal/service"
)

var errAborted = errors.New("session aborted")

func newRunCmd(f *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run <reflection|orchestrator> <task...>",
		Short: "Run one pattern in the terminal and print its results",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := session.Pattern(args[0])
			if !pattern.Valid() {
				return fmt.Errorf("unknown pattern %q (want reflection or orchestrator)", args[0])
			}
			task := strings.Join(args[1:], " ")

			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closer := setupLogger(cfg.Logging, os.Stderr)
			defer closer.Close()

			client := agentapi.NewClient(cfg.Remote.URL, cfg.Remote.ResponseHeaderTimeout)
			client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
			d := service.NewDriver(pattern, client, nil, service.DriverOptions{
				MaxTaskLength: cfg.Limits.MaxTaskLength,
				ChunkSize:     cfg.Remote.ChunkSize,
			})
			if !asJSON {
				d.Subscribe(&liveText{w: cmd.OutOrStdout()})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			snap, err := runSession(ctx, d, task)
			if err != nil {
				return err
			}

			report := results.Build(pattern, snap.Steps, cfg.Views.Options())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			renderReport(cmd.OutOrStdout(), report, terminalWidth(os.Stdout))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the results report as JSON instead of live text")
	return cmd
}

// runSession submits task and blocks until the session ends. Cancelling
// ctx aborts the session.
func runSession(ctx context.Context, d *service.Driver, task string) (session.Snapshot, error) {
	if _, err := d.Submit(ctx, task); err != nil {
		return session.Snapshot{}, err
	}

	stopAbort := context.AfterFunc(ctx, func() { d.Abort() })
	defer stopAbort()

	if err := d.Wait(context.Background()); err != nil {
		return session.Snapshot{}, err
	}
	snap, err := d.Snapshot()
	if err != nil {
		return session.Snapshot{}, err
	}
	switch snap.State {
	case session.StateError:
		return snap, errors.New(snap.Error)
	case session.StateIdle:
		return snap, errAborted
	default:
		return snap, nil
	}
}

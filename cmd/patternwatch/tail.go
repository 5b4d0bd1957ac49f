package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pwnats "github.com/Strob0t/patternwatch/internal/adapter/nats"
	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/port/messagequeue"
)

func newTailCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow steps published to NATS by a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.NATS.URL == "" {
				return errors.New("nats url is not configured (set --nats-url or PATTERNWATCH_NATS_URL)")
			}
			closer := setupLogger(cfg.Logging, os.Stderr)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := pwnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
			if err != nil {
				return fmt.Errorf("nats: %w", err)
			}
			defer func() { _ = q.Close() }()

			out := cmd.OutOrStdout()
			cancel, err := q.Subscribe(ctx, messagequeue.AllSteps(cfg.NATS.SubjectPrefix), func(_ context.Context, _ string, data []byte) error {
				return printStep(out, data)
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer cancel()

			<-ctx.Done()
			return nil
		},
	}
}

// printStep writes one published step as a single line.
func printStep(w io.Writer, data []byte) error {
	var p messagequeue.StepPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode step payload: %w", err)
	}
	line := fmt.Sprintf("%s #%d %-12s %-16s %s", p.Pattern, p.Index, results.Label(p.Step), p.Step.Type, p.Step.Preview(60))
	if n := p.Step.Tokens(); n > 0 {
		line += fmt.Sprintf(" (%d tokens)", n)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

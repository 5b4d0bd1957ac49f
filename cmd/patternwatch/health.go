package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/patternwatch/internal/adapter/agentapi"
)

func newHealthCmd(f *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the agent service health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closer := setupLogger(cfg.Logging, os.Stderr)
			defer closer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			h, err := agentapi.NewClient(cfg.Remote.URL, cfg.Remote.ResponseHeaderTimeout).Health(ctx)
			if err != nil {
				return fmt.Errorf("agent service at %s: %w", cfg.Remote.URL, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
	return cmd
}

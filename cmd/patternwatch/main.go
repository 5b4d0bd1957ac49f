// Command patternwatch drives agent pattern runs on a remote agent service
// and exposes their live progress and results.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/patternwatch/internal/config"
	"github.com/Strob0t/patternwatch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	remoteURL  string
	natsURL    string
	port       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "patternwatch",
		Short:         "Run and watch reflection and orchestrator agent patterns",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to YAML config file (default "+config.DefaultConfigFile+")")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.remoteURL, "remote-url", "", "base URL of the agent service")
	pf.StringVar(&f.natsURL, "nats-url", "", "NATS server URL (empty disables the step sink)")

	root.AddCommand(
		newServeCmd(f),
		newRunCmd(f),
		newHealthCmd(f),
		newTailCmd(f),
	)
	return root
}

// loadConfig resolves the configuration, applying only flags set on the
// command line.
func loadConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, error) {
	var flags config.CLIFlags
	set := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	flags.ConfigPath = set("config", &f.configPath)
	flags.LogLevel = set("log-level", &f.logLevel)
	flags.RemoteURL = set("remote-url", &f.remoteURL)
	flags.NatsURL = set("nats-url", &f.natsURL)
	if cmd.Flags().Lookup("port") != nil {
		flags.Port = set("port", &f.port)
	}

	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}

// setupLogger installs the configured logger writing to w as the default.
func setupLogger(cfg config.Logging, w io.Writer) logger.Closer {
	l, closer := logger.NewWithWriter(cfg, w)
	slog.SetDefault(l)
	return closer
}

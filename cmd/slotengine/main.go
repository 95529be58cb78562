// Command slotengine serves slot availability and booking validation over
// HTTP and offers maintenance subcommands against the same database.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/availability-engine/internal/config"
	"github.com/example/availability-engine/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "slotengine:", err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "slotengine",
		Short:         "Availability and booking conflict engine",
		Long:          "Computes bookable slots for event types and validates bookings against host calendars.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (defaults to $"+config.EnvConfigFile+")")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSlotsCommand(opts))
	return cmd
}

// load reads the configuration and builds the logger. Logs go to stderr so
// command output on stdout stays parseable.
func (o *rootOptions) load(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(stderr, cfg.LogFormat, level), nil
}

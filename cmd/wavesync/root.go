package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blaa/wavesync-go/internal/config"
	"github.com/blaa/wavesync-go/internal/logging"
	"github.com/blaa/wavesync-go/internal/telemetry"
)

// RootCommand builds the wavesync cobra command, following the
// teacher's cmd/root.go shape: a Settings value threaded through flag
// setup and into the subsystem wiring in tx.go/rx.go.
func RootCommand() *cobra.Command {
	settings := config.New()

	cmd := &cobra.Command{
		Use:   "wavesync",
		Short: "WaveSync -- multi-room audio synchronisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(ctx context.Context, settings *config.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	logging.Init(logging.Options{Debug: settings.Debug})
	logger := logging.ForComponent("cmd")

	if dsn := os.Getenv("WAVESYNC_SENTRY_DSN"); dsn != "" {
		if err := telemetry.Init(dsn, ""); err != nil {
			logger.Warn("failed to initialize telemetry", "error", err)
		}
		defer telemetry.Flush()
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch settings.Mode {
	case config.ModeTX:
		return runTX(ctx, settings, logger)
	case config.ModeRX:
		return runRX(ctx, settings, logger)
	default:
		return fmt.Errorf("exactly one of --tx or --rx must be specified")
	}
}

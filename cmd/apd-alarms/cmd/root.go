package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/apd-alarms/internal/config"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/service/daemon"
	"github.com/oshokin/apd-alarms/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd runs the alarm daemon.
	rootCmd = &cobra.Command{
		Use:   version.AppName,
		Short: "Combine two APD scenarios into one camera alarm.",
		Long: `Runs the APD custom alarm daemon on the camera.

Subscribes to the object analytics scenarios named by the Scenario1 and Scenario2
parameters and raises the CombinedAlarm event while both are active. A red overlay
is shown while the alarm is active and a green one otherwise. Reaching preset 2
starts the wiper.

Parameters are edited through the settings endpoint; everything else comes from
the configuration file and APD_ALARMS_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return daemon.Run(ctx, &daemon.Options{
				ConfigPath: cfgPath,
				LogLevel:   logLevel,
			})
		},
	}
)

// Execute runs the apd-alarms CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf(context.Background(), "%s failed: %v", version.AppName, err)
		logger.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	alarmapi "github.com/oshokin/apd-alarms/internal/api/grpc/alarm"
	"github.com/oshokin/apd-alarms/internal/config"
	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/logger"
)

// errNoWatchAddress is returned when neither an argument nor the configuration names the API.
var errNoWatchAddress = errors.New("no alarm API address")

var (
	// watchTimeout bounds the single state request of --once.
	watchTimeout time.Duration
	// watchOnce prints the current state and exits.
	watchOnce bool
)

// watchCmd streams combined alarm changes from a running daemon.
var watchCmd = &cobra.Command{
	Use:   "watch [address]",
	Short: "Stream combined alarm changes from a running daemon.",
	Long: `Connects to the alarm API of a running daemon and prints the current state
followed by every change until interrupted. The address defaults to grpc.listen_addr
from the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		if err := logger.Configure(logLevel); err != nil {
			return err
		}

		address, err := resolveWatchAddress(args)
		if err != nil {
			return err
		}

		client, err := alarmapi.Dial(ctx, address, alarmapi.WithCallTimeout(watchTimeout))
		if err != nil {
			return err
		}

		defer func() {
			_ = client.Close()
		}()

		printState := func(state *domain.State) error {
			_, printErr := fmt.Fprintf(cmd.OutOrStdout(), "%s combined=%t scenario1=%t scenario2=%t\n",
				state.Timestamp.Format(time.RFC3339), state.Combined, state.Scenario1Active, state.Scenario2Active)

			return printErr
		}

		if watchOnce {
			state, err := client.GetAlarmState(ctx)
			if err != nil {
				return err
			}

			return printState(state)
		}

		logger.InfoKV(ctx, "Watching alarm state", "address", address)

		err = client.Watch(ctx, printState)
		if err != nil && ctx.Err() == nil {
			return err
		}

		return nil
	},
}

// resolveWatchAddress uses the argument when given, otherwise the configured listen address.
func resolveWatchAddress(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	if cfg.GRPC.ListenAddr == "" {
		return "", fmt.Errorf("%w: grpc.listen_addr is empty in %s", errNoWatchAddress, cfgPath)
	}

	return cfg.GRPC.ListenAddr, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", alarmapi.DefaultCallTimeout, "timeout of the --once request")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "print the current state and exit")
}

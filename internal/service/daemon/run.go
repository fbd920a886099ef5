package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	alarmapi "github.com/oshokin/apd-alarms/internal/api/grpc/alarm"
	"github.com/oshokin/apd-alarms/internal/api/http/settings"
	"github.com/oshokin/apd-alarms/internal/config"
	"github.com/oshokin/apd-alarms/internal/control"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/metrics"
	"github.com/oshokin/apd-alarms/internal/platform"
	"github.com/oshokin/apd-alarms/internal/platform/memory"
	"github.com/oshokin/apd-alarms/internal/platform/mqtt"
	"github.com/oshokin/apd-alarms/internal/platform/redis"
	"github.com/oshokin/apd-alarms/internal/repository/params"
	"github.com/oshokin/apd-alarms/internal/repository/state"
	"github.com/oshokin/apd-alarms/internal/version"
)

// Options controls the daemon process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// LogLevel overrides the configured log level when set.
	LogLevel string
}

// Run loads the configuration, wires every component and blocks until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, version.AppName)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if err = logger.Configure(level); err != nil {
		return err
	}

	defer logger.Sync()

	logger.InfoKV(ctx, "Starting", "version", version.Short(), "driver", cfg.Platform.Driver)

	store, err := params.Open(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("open parameters: %w", err)
	}

	events, err := openPlatform(ctx, &cfg.Platform)
	if err != nil {
		return fmt.Errorf("open platform: %w", err)
	}

	defer func() {
		if closeErr := events.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Platform close failed", "error", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	states := alarmapi.NewBroadcaster(nil)

	daemon := New(&Deps{
		Config:   cfg,
		Params:   store,
		Platform: events,
		Control: control.New(
			cfg.Control.BaseURL,
			control.WithTimeout(cfg.Control.Timeout),
			control.WithCamera(cfg.Control.Camera),
		),
		Repository: state.NewFileRepository(cfg.StateFile),
		States:     states,
		Metrics:    metrics.New(registry),
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var servers sync.WaitGroup

	if err = startServers(serveCtx, &servers, cfg, store, registry, states); err != nil {
		return err
	}

	err = daemon.Run(ctx)

	cancel()
	servers.Wait()

	return err
}

// startServers starts the optional HTTP and gRPC endpoints.
func startServers(
	ctx context.Context,
	servers *sync.WaitGroup,
	cfg *config.Config,
	store *params.Store,
	registry *prometheus.Registry,
	states *alarmapi.Broadcaster,
) error {
	lc := net.ListenConfig{}

	if cfg.HTTP.ListenAddr != "" {
		listener, err := lc.Listen(ctx, "tcp", cfg.HTTP.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.HTTP.ListenAddr, err)
		}

		logger.InfoKV(ctx, "Settings endpoint listening", "listen_address", cfg.HTTP.ListenAddr)

		servers.Go(func() {
			if err := settings.Serve(ctx, listener, settings.NewHandler(store, registry)); err != nil {
				logger.ErrorKV(ctx, "Settings endpoint stopped", "error", err)
			}
		})
	}

	if cfg.GRPC.ListenAddr != "" {
		listener, err := lc.Listen(ctx, "tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPC.ListenAddr, err)
		}

		servers.Go(func() {
			if err := alarmapi.Serve(ctx, listener, alarmapi.NewServer(states)); err != nil {
				logger.ErrorKV(ctx, "Alarm API stopped", "error", err)
			}
		})
	}

	return nil
}

// openPlatform connects the configured event system driver.
func openPlatform(ctx context.Context, cfg *config.PlatformConfig) (platform.Platform, error) {
	switch cfg.Driver {
	case config.DriverMQTT:
		p, err := mqtt.Connect(ctx, mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.Prefix,
			QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0..2.
			Timeout:  cfg.MQTT.Timeout,
		})
		if err != nil {
			return nil, err
		}

		return p, nil
	case config.DriverRedis:
		p, err := redis.Connect(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		logger.WarnKV(ctx, "Using the in-memory platform, no camera events will arrive")

		return memory.New(), nil
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Validate(nil), errConfigIsNotSet)

	// Defaults are valid.
	require.NoError(t, Validate(Defaults()))

	// Bad listen address.
	cfg := Defaults()
	cfg.HTTP.ListenAddr = "bad:address"
	require.Error(t, Validate(cfg))

	// Scenario topic without a placeholder.
	cfg = Defaults()
	cfg.Platform.ScenarioTopic = "scenario"
	require.ErrorIs(t, Validate(cfg), errInvalidScenarioTopic)

	// Driver specific requirements.
	cfg = Defaults()
	cfg.Platform.Driver = DriverMQTT
	require.ErrorIs(t, Validate(cfg), errBrokerRequired)

	cfg.Platform.MQTT.Broker = "tcp://127.0.0.1:1883"
	cfg.Platform.MQTT.QoS = 3
	require.ErrorIs(t, Validate(cfg), errInvalidQoS)

	cfg = Defaults()
	cfg.Platform.Driver = DriverRedis
	require.ErrorIs(t, Validate(cfg), errRedisAddrRequired)

	cfg.Platform.Driver = "kafka"
	require.ErrorIs(t, Validate(cfg), errUnknownDriver)

	// Empty values are filled in.
	cfg = Defaults()
	cfg.Control.Timeout = 0
	cfg.Overlay.SweepMaxIdentity = 0
	cfg.StateFile = ""
	require.NoError(t, Validate(cfg))
	require.Equal(t, Defaults().Control.Timeout, cfg.Control.Timeout)
	require.Equal(t, defaultSweepMaxIdentity, cfg.Overlay.SweepMaxIdentity)
	require.Equal(t, DefaultStateFilename, cfg.StateFile)
}

// TestDefaults pins the camera-local endpoints and the wiper settings.
func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()

	require.Equal(t, "http://127.0.0.1", cfg.Control.BaseURL)
	require.Equal(t, "127.0.0.1:2000", cfg.HTTP.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.Wiper.Duration)
	require.Equal(t, 2, cfg.Wiper.Preset)
	require.Equal(t, DriverMemory, cfg.Platform.Driver)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Defaults()
	cfg.Platform.Driver = DriverRedis
	cfg.Platform.Redis.Addr = "127.0.0.1:6379"
	cfg.Wiper.Duration = 45 * time.Second
	cfg.Overlay.UploadAssets = true

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_MissingFileUsesDefaults runs on defaults when no file exists.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), loaded)
}

// TestLoad_PartialFileKeepsDefaults merges a partial file over the defaults.
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wiper:\n  preset: 5\nlog_level: debug\n"), DefaultFilePermissions))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, loaded.Wiper.Preset)
	require.Equal(t, "debug", loaded.LogLevel)
	require.Equal(t, Defaults().Wiper.Duration, loaded.Wiper.Duration)
	require.Equal(t, Defaults().Platform.OutputTopic, loaded.Platform.OutputTopic)
}

// TestLoad_EnvironmentOverride applies APD_ALARMS_* variables.
func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("APD_ALARMS_PLATFORM_DRIVER", DriverRedis)
	t.Setenv("APD_ALARMS_PLATFORM_REDIS_ADDR", "10.0.0.1:6379")

	loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DriverRedis, loaded.Platform.Driver)
	require.Equal(t, "10.0.0.1:6379", loaded.Platform.Redis.Addr)
}

// TestSave_Nil rejects a nil configuration.
func TestSave_Nil(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Save(filepath.Join(t.TempDir(), "x.yaml"), nil), errConfigIsNotSet)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/apd-alarms/internal/control"
	"github.com/oshokin/apd-alarms/internal/service/gateway"
)

// Config holds the daemon settings.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// ParamsFile is the YAML file holding operator parameters.
	ParamsFile string `yaml:"params_file" mapstructure:"params_file"`
	// StateFile is the JSON file holding the last published alarm state.
	StateFile string `yaml:"state_file" mapstructure:"state_file"`
	// HTTP configures the settings endpoint.
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`
	// GRPC configures the alarm state API.
	GRPC GRPCConfig `yaml:"grpc" mapstructure:"grpc"`
	// Control configures the camera control-plane API.
	Control ControlConfig `yaml:"control" mapstructure:"control"`
	// Overlay configures the alarm overlays.
	Overlay OverlayConfig `yaml:"overlay" mapstructure:"overlay"`
	// Wiper configures the preset-triggered wiper.
	Wiper WiperConfig `yaml:"wiper" mapstructure:"wiper"`
	// Platform configures the event system.
	Platform PlatformConfig `yaml:"platform" mapstructure:"platform"`
}

// HTTPConfig configures the settings endpoint.
type HTTPConfig struct {
	// ListenAddr is host:port; empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// GRPCConfig configures the alarm state API.
type GRPCConfig struct {
	// ListenAddr is host:port; empty disables the API.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// ControlConfig configures the control-plane client.
type ControlConfig struct {
	// BaseURL is the camera web server, e.g. "http://127.0.0.1".
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Timeout bounds every call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Camera is the video channel overlays are drawn on.
	Camera int `yaml:"camera" mapstructure:"camera"`
}

// OverlayConfig configures the alarm overlays.
type OverlayConfig struct {
	// Dir holds the .ovl overlay files.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// AssetDir holds the .bmp images.
	AssetDir string `yaml:"asset_dir" mapstructure:"asset_dir"`
	// PositionX is the normalized horizontal position.
	PositionX float64 `yaml:"position_x" mapstructure:"position_x"`
	// PositionY is the normalized vertical position.
	PositionY float64 `yaml:"position_y" mapstructure:"position_y"`
	// ZIndex orders overlays.
	ZIndex int `yaml:"z_index" mapstructure:"z_index"`
	// SweepMaxIdentity is the highest identity removed by the startup and shutdown sweep.
	SweepMaxIdentity int `yaml:"sweep_max_identity" mapstructure:"sweep_max_identity"`
	// UploadAssets converts the bitmaps into overlay files on first credentials.
	UploadAssets bool `yaml:"upload_assets" mapstructure:"upload_assets"`
}

// WiperConfig configures the wiper.
type WiperConfig struct {
	// ID is the wiper identifier.
	ID int `yaml:"id" mapstructure:"id"`
	// Duration is how long the wiper runs.
	Duration time.Duration `yaml:"duration" mapstructure:"duration"`
	// Preset is the preset token that starts the wiper.
	Preset int `yaml:"preset" mapstructure:"preset"`
}

// PlatformConfig configures the event system.
type PlatformConfig struct {
	// Driver is one of memory, mqtt, redis.
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Prefix is prepended to transport channel names.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// OutputTopic is the combined alarm topic.
	OutputTopic string `yaml:"output_topic" mapstructure:"output_topic"`
	// ScenarioTopic is formatted with the scenario identifier.
	ScenarioTopic string `yaml:"scenario_topic" mapstructure:"scenario_topic"`
	// PresetTopic carries preset-reached events.
	PresetTopic string `yaml:"preset_topic" mapstructure:"preset_topic"`
	// MQTT configures the mqtt driver.
	MQTT MQTTConfig `yaml:"mqtt" mapstructure:"mqtt"`
	// Redis configures the redis driver.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// MQTTConfig configures the mqtt driver.
type MQTTConfig struct {
	// Broker is the broker URL.
	Broker string `yaml:"broker" mapstructure:"broker"`
	// ClientID is the client id, random when empty.
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	// Username for the broker.
	Username string `yaml:"username" mapstructure:"username"`
	// Password for the broker.
	Password string `yaml:"password" mapstructure:"password"`
	// QoS level, 0 to 2.
	QoS int `yaml:"qos" mapstructure:"qos"`
	// Timeout bounds broker round trips.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	// Addr is host:port.
	Addr string `yaml:"addr" mapstructure:"addr"`
	// Username for ACL authentication.
	Username string `yaml:"username" mapstructure:"username"`
	// Password for authentication.
	Password string `yaml:"password" mapstructure:"password"`
	// DB is the logical database.
	DB int `yaml:"db" mapstructure:"db"`
}

// Platform drivers.
const (
	DriverMemory = "memory"
	DriverMQTT   = "mqtt"
	DriverRedis  = "redis"
)

const (
	// DefaultConfigFilename is the default filename for daemon settings.
	DefaultConfigFilename = "apd-alarms.yaml"
	// DefaultParamsFilename is the default filename for operator parameters.
	DefaultParamsFilename = "apd-alarms-params.yaml"
	// DefaultStateFilename is the default filename for the alarm state.
	DefaultStateFilename = "apd-alarms-state.json"
	// DefaultFilePermissions is the permission of every file the daemon writes.
	DefaultFilePermissions = 0o600
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "APD_ALARMS"

	// defaultSweepMaxIdentity covers the identities the camera hands out to one application.
	defaultSweepMaxIdentity = 6
	// defaultWiperDuration is how long the wiper runs.
	defaultWiperDuration = 30 * time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownDriver is returned for unsupported platform drivers.
	errUnknownDriver = errors.New("unknown platform driver")
	// errBrokerRequired is returned when the mqtt driver has no broker.
	errBrokerRequired = errors.New("mqtt broker must be provided")
	// errRedisAddrRequired is returned when the redis driver has no address.
	errRedisAddrRequired = errors.New("redis address must be provided")
	// errInvalidQoS is returned for QoS outside 0..2.
	errInvalidQoS = errors.New("mqtt qos must be 0, 1 or 2")
	// errInvalidScenarioTopic is returned when the scenario topic has no %d verb.
	errInvalidScenarioTopic = errors.New("scenario topic must contain %d")
)

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		ParamsFile: DefaultParamsFilename,
		StateFile:  DefaultStateFilename,
		HTTP:       HTTPConfig{ListenAddr: "127.0.0.1:2000"},
		GRPC:       GRPCConfig{ListenAddr: "127.0.0.1:50051"},
		Control: ControlConfig{
			BaseURL: "http://127.0.0.1",
			Timeout: control.DefaultTimeout,
			Camera:  1,
		},
		Overlay: OverlayConfig{
			Dir:              "/etc/overlays",
			AssetDir:         "/usr/local/packages/apdalarms",
			PositionX:        0.66,
			PositionY:        -1,
			ZIndex:           1,
			SweepMaxIdentity: defaultSweepMaxIdentity,
		},
		Wiper: WiperConfig{
			ID:       0,
			Duration: defaultWiperDuration,
			Preset:   gateway.DefaultWiperPreset,
		},
		Platform: PlatformConfig{
			Driver:        DriverMemory,
			Prefix:        "axis",
			OutputTopic:   gateway.DefaultOutputTopic,
			ScenarioTopic: gateway.DefaultScenarioTopic,
			PresetTopic:   gateway.DefaultPresetTopic,
			MQTT: MQTTConfig{
				QoS:     1,
				Timeout: control.DefaultTimeout,
			},
		},
	}
}

// Load reads configuration from path, applies environment overrides and validates it.
// A missing file is not an error: defaults and environment are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	v := viper.New()
	v.SetConfigFile(filepath.Clean(path))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default, otherwise AutomaticEnv cannot see it during Unmarshal.
	if err := setDefaults(v, Defaults()); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may carry broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills in defaults for empty values.
//
//nolint:cyclop // Flat list of independent checks.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Defaults()

	if cfg.ParamsFile == "" {
		cfg.ParamsFile = defaults.ParamsFile
	}

	if cfg.StateFile == "" {
		cfg.StateFile = defaults.StateFile
	}

	if cfg.Control.Timeout <= 0 {
		cfg.Control.Timeout = defaults.Control.Timeout
	}

	if cfg.Overlay.SweepMaxIdentity <= 0 {
		cfg.Overlay.SweepMaxIdentity = defaults.Overlay.SweepMaxIdentity
	}

	if cfg.Wiper.Duration <= 0 {
		cfg.Wiper.Duration = defaults.Wiper.Duration
	}

	if _, err := url.ParseRequestURI(cfg.Control.BaseURL); err != nil {
		return fmt.Errorf("invalid control base URL: %w", err)
	}

	for name, addr := range map[string]string{"http": cfg.HTTP.ListenAddr, "grpc": cfg.GRPC.ListenAddr} {
		if addr == "" {
			continue
		}

		if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
			return fmt.Errorf("invalid %s listen address: %w", name, err)
		}
	}

	if !strings.Contains(cfg.Platform.ScenarioTopic, "%d") {
		return errInvalidScenarioTopic
	}

	return validatePlatform(&cfg.Platform)
}

// validatePlatform checks driver specific settings.
func validatePlatform(p *PlatformConfig) error {
	switch p.Driver {
	case DriverMemory:
		return nil
	case DriverMQTT:
		if p.MQTT.Broker == "" {
			return errBrokerRequired
		}

		if p.MQTT.QoS < 0 || p.MQTT.QoS > 2 {
			return errInvalidQoS
		}

		return nil
	case DriverRedis:
		if p.Redis.Addr == "" {
			return errRedisAddrRequired
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, p.Driver)
	}
}

// setDefaults registers every key of cfg as a viper default.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}

	var tree map[string]any
	if err = yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}

	walkDefaults(v, "", tree)

	return nil
}

// walkDefaults flattens nested maps into dotted viper keys.
func walkDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			walkDefaults(v, key, nested)
			continue
		}

		v.SetDefault(key, value)
	}
}

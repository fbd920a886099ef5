// Package config defines the daemon configuration and helpers to load,
// validate and save it in YAML format.
//
// Load reads the file through viper so every key can be overridden by an
// APD_ALARMS_* environment variable, e.g. APD_ALARMS_PLATFORM_DRIVER=redis.
package config

package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing
// If set, GetDefaultConfigPath will return this value instead of the standard path
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
// This should only be called from tests
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the murmur configuration directory
// Uses ~/.config/murmur/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "murmur"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// EnvPrefix prefixes every environment override, e.g. MURMUR_CHANNEL_DIR.
const EnvPrefix = "MURMUR"

const (
	// Default Logging settings. Stdout carries channel data, so logs go
	// to stderr and stay quiet unless something is wrong.
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stderr"

	// Default Channel settings
	DefaultSocketDir    = "/tmp"
	DefaultSocketPrefix = "murmur-"
	DefaultSocketSuffix = ".sock"

	// Default Transport settings
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultFailoverDelay = 100 * time.Millisecond
	DefaultBindRaceDelay = 50 * time.Millisecond
	DefaultProbeTimeout  = 1 * time.Second
	DefaultSendTimeout   = 5 * time.Second

	// Default Broadcast settings
	DefaultQueueSize = 256
)

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:           DefaultLogLevel,
		Format:          DefaultLogFormat,
		Output:          DefaultLogOutput,
		RotationEnabled: false,
		MaxSize:         100,
		MaxBackups:      3,
		MaxAge:          28,
		Compress:        false,
	}
}

// DefaultChannelConfig returns the default channel configuration
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Dir:    DefaultSocketDir,
		Prefix: DefaultSocketPrefix,
		Suffix: DefaultSocketSuffix,
	}
}

// DefaultTransportConfig returns the default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		RetryInterval: DefaultRetryInterval,
		FailoverDelay: DefaultFailoverDelay,
		BindRaceDelay: DefaultBindRaceDelay,
		ProbeTimeout:  DefaultProbeTimeout,
		SendTimeout:   DefaultSendTimeout,
	}
}

// DefaultBroadcastConfig returns the default broadcast configuration
func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		QueueSize: DefaultQueueSize,
	}
}

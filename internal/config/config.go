package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/baaaht/murmur/pkg/types"
)

// Config represents the complete configuration for murmur
type Config struct {
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Channel   ChannelConfig   `json:"channel" yaml:"channel"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level           string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format          string `json:"format" yaml:"format" validate:"oneof=json text"`
	Output          string `json:"output" yaml:"output"` // stdout, stderr, file path
	RotationEnabled bool   `json:"rotation_enabled" yaml:"rotation_enabled" split_words:"true"`
	MaxSize         int    `json:"max_size" yaml:"max_size" split_words:"true" validate:"gte=0"` // MB
	MaxBackups      int    `json:"max_backups" yaml:"max_backups" split_words:"true" validate:"gte=0"`
	MaxAge          int    `json:"max_age" yaml:"max_age" split_words:"true" validate:"gte=0"` // days
	Compress        bool   `json:"compress" yaml:"compress"`
}

// ChannelConfig controls where channel sockets live. Any two processes
// that agree on these three values and a channel name agree on the path.
type ChannelConfig struct {
	Dir    string `json:"dir" yaml:"dir" validate:"required"`
	Prefix string `json:"prefix" yaml:"prefix" validate:"required"`
	Suffix string `json:"suffix" yaml:"suffix" validate:"required"`
}

// TransportConfig contains the role negotiation timing
type TransportConfig struct {
	// RetryInterval is the pause between connect attempts in send --wait.
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval" split_words:"true" validate:"gt=0"`
	// FailoverDelay is the pause a former peer takes before trying to
	// become host after the host went away.
	FailoverDelay time.Duration `json:"failover_delay" yaml:"failover_delay" split_words:"true" validate:"gte=0"`
	// BindRaceDelay is the pause after losing an exclusive bind.
	BindRaceDelay time.Duration `json:"bind_race_delay" yaml:"bind_race_delay" split_words:"true" validate:"gte=0"`
	ProbeTimeout  time.Duration `json:"probe_timeout" yaml:"probe_timeout" split_words:"true" validate:"gt=0"`
	SendTimeout   time.Duration `json:"send_timeout" yaml:"send_timeout" split_words:"true" validate:"gt=0"`
}

// BroadcastConfig contains fan-out configuration
type BroadcastConfig struct {
	// QueueSize bounds each subscriber's backlog; the oldest line is
	// dropped when a slow subscriber falls further behind.
	QueueSize int `json:"queue_size" yaml:"queue_size" split_words:"true" validate:"min=1,max=65536"`
}

// DefaultConfig returns a configuration populated with defaults
func DefaultConfig() *Config {
	return &Config{
		Logging:   DefaultLoggingConfig(),
		Channel:   DefaultChannelConfig(),
		Transport: DefaultTransportConfig(),
		Broadcast: DefaultBroadcastConfig(),
	}
}

// applyEnvOverrides overlays MURMUR_* environment variables, e.g.
// MURMUR_CHANNEL_DIR or MURMUR_TRANSPORT_RETRY_INTERVAL. Unset
// variables leave the current value alone.
func applyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid environment override", err)
	}
	return nil
}

// Load builds the configuration from defaults, the config file (the
// given path, or the default path when it exists) and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err == nil {
			if _, err := os.Stat(defaultPath); err == nil {
				path = defaultPath
			} else if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to check config file: %w", err)
			}
		}
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid configuration", err)
	}
	return nil
}

// ApplyOverrides applies CLI flag-style overrides to the configuration.
// Empty values leave the loaded configuration untouched.
func (c *Config) ApplyOverrides(opts OverrideOptions) {
	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		c.Logging.Format = opts.LogFormat
	}
	if opts.LogOutput != "" {
		c.Logging.Output = opts.LogOutput
	}
	if opts.SocketDir != "" {
		c.Channel.Dir = opts.SocketDir
	}
}

// OverrideOptions contains override options typically set via CLI flags
type OverrideOptions struct {
	LogLevel  string
	LogFormat string
	LogOutput string
	SocketDir string
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Logging: %s, Channel: %s, Transport: %s, Broadcast: %s}",
		c.Logging.String(),
		c.Channel.String(),
		c.Transport.String(),
		c.Broadcast.String(),
	)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s, Rotation: %v}",
		c.Level, c.Format, c.Output, c.RotationEnabled)
}

func (c ChannelConfig) String() string {
	return fmt.Sprintf("ChannelConfig{Dir: %s, Prefix: %s, Suffix: %s}", c.Dir, c.Prefix, c.Suffix)
}

func (c TransportConfig) String() string {
	return fmt.Sprintf("TransportConfig{RetryInterval: %s, FailoverDelay: %s, BindRaceDelay: %s, ProbeTimeout: %s, SendTimeout: %s}",
		c.RetryInterval, c.FailoverDelay, c.BindRaceDelay, c.ProbeTimeout, c.SendTimeout)
}

func (c BroadcastConfig) String() string {
	return fmt.Sprintf("BroadcastConfig{QueueSize: %d}", c.QueueSize)
}

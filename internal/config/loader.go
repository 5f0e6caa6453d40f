package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/baaaht/murmur/pkg/types"
)

// envVarPattern matches ${VAR_NAME} and ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-([^}]*))?\}`)

// expandEnv substitutes environment placeholders in the raw file, so any
// value, durations and queue sizes included, can come from the
// environment. Unset or empty variables take the default, if any.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if value := os.Getenv(string(parts[1])); value != "" {
			return []byte(value)
		}
		return parts[3]
	})
}

// loadFile overlays the YAML file at path onto cfg. Keys missing from
// the file keep whatever cfg already holds; unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return types.NewError(types.ErrCodeInvalidArgument,
			"configuration file must have .yaml or .yml extension: "+path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.WrapError(types.ErrCodeNotFound, "configuration file not found: "+path, err)
		}
		return types.WrapError(types.ErrCodeInvalidArgument, "failed to read configuration file: "+path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewError(types.ErrCodeInvalid, "configuration file is empty: "+path)
		}
		return types.WrapError(types.ErrCodeInvalid, "failed to parse configuration file "+path, err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "configuration validation failed for "+path, err)
	}
	return cfg, nil
}

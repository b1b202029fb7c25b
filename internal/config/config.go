// Package config provides configuration management for clawrec.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrMissingAuthToken indicates the gateway requires a token but none was
// configured. This is a startup failure, never a runtime one.
var ErrMissingAuthToken = errors.New(
	"no auth token provided: use --token or set gateway.auth.token in " +
		"~/.clawrec/clawrec.json (or CLAWREC_GATEWAY_AUTH_TOKEN)")

// Config matches the structure of clawrec.json.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway" mapstructure:"gateway"`
	Recorder RecorderConfig `json:"recorder" yaml:"recorder" mapstructure:"recorder"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// GatewayConfig holds connection settings for the OpenClaw Gateway.
type GatewayConfig struct {
	URL  string      `json:"url" yaml:"url" mapstructure:"url" validate:"required,uri"`
	Auth GatewayAuth `json:"auth" yaml:"auth" mapstructure:"auth"`
}

type GatewayAuth struct {
	Token string `json:"token" yaml:"token" mapstructure:"token"`
}

// RecorderConfig holds ledger and recording settings.
type RecorderConfig struct {
	OutputDir       string `json:"outputDir" yaml:"outputDir" mapstructure:"outputDir" validate:"required"`
	BatchSize       int    `json:"batchSize" yaml:"batchSize" mapstructure:"batchSize" validate:"min=1,max=100000"`
	FlushIntervalMs int    `json:"flushIntervalMs" yaml:"flushIntervalMs" mapstructure:"flushIntervalMs" validate:"min=100"`
	RedactSecrets   bool   `json:"redactSecrets" yaml:"redactSecrets" mapstructure:"redactSecrets"`
}

type LoggingConfig struct {
	Verbose bool `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

// StateDir returns the clawrec state directory path.
// Can be overridden via CLAWREC_STATE_DIR environment variable.
// Default: ~/.clawrec
func StateDir() string {
	if override := strings.TrimSpace(os.Getenv("CLAWREC_STATE_DIR")); override != "" {
		return expandPath(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawrec"
	}
	return filepath.Join(home, ".clawrec")
}

// ConfigPath returns the default config file path.
// Can be overridden via CLAWREC_CONFIG_PATH environment variable.
// Default: ~/.clawrec/clawrec.json
func ConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("CLAWREC_CONFIG_PATH")); override != "" {
		return expandPath(override)
	}
	return filepath.Join(StateDir(), "clawrec.json")
}

// expandPath expands ~ to home directory and resolves the path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// LoadViper loads the configuration into a Viper instance.
func LoadViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath := strings.TrimSpace(os.Getenv("CLAWREC_CONFIG_PATH")); configPath != "" {
		expandedPath := expandPath(configPath)
		fileInfo, err := os.Stat(expandedPath)
		if err == nil && fileInfo.IsDir() {
			v.SetConfigName("clawrec")
			v.AddConfigPath(expandedPath)
		} else {
			v.SetConfigFile(expandedPath)
		}
	} else {
		v.SetConfigName("clawrec")
		v.AddConfigPath(StateDir())
	}

	v.SetEnvPrefix("CLAWREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// No file is fine: defaults plus env vars still make a usable config.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, err
	}

	return v, nil
}

// Load reads the configuration from file or environment variables.
func Load() (*Config, error) {
	v, err := LoadViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Expand environment variables in sensitive fields, so the token can be
	// kept out of the config file: {"gateway": {"auth": {"token": "${OPENCLAW_TOKEN}"}}}
	cfg.Gateway.Auth.Token = os.ExpandEnv(cfg.Gateway.Auth.Token)

	if cfg.Recorder.OutputDir == "" {
		cfg.Recorder.OutputDir = DefaultOutputDir()
	}
	cfg.Recorder.OutputDir = expandPath(cfg.Recorder.OutputDir)

	return &cfg, nil
}

// DefaultOutputDir returns the default ledger directory.
func DefaultOutputDir() string {
	return filepath.Join(StateDir(), "ledger")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.url", "ws://127.0.0.1:18789")
	// Registering empty defaults keeps these keys visible to AutomaticEnv.
	v.SetDefault("gateway.auth.token", "")
	v.SetDefault("recorder.outputDir", "")
	v.SetDefault("recorder.batchSize", 64)
	v.SetDefault("recorder.flushIntervalMs", 2000)
	v.SetDefault("recorder.redactSecrets", true)
	v.SetDefault("logging.verbose", false)
}

// Validate checks for semantic errors in the config.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: field %s failed %q validation", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return fmt.Errorf("invalid config: gateway.url must be a ws:// or wss:// URL, got %q", c.Gateway.URL)
	}

	return nil
}

// RequireAuth validates that an auth token is present. The daemon and the
// session recorder refuse to start without one.
func (c *Config) RequireAuth() error {
	if strings.TrimSpace(c.Gateway.Auth.Token) == "" {
		return ErrMissingAuthToken
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Presets understood by the privacy detector
var validPresets = map[string]bool{
	"developer":  true,
	"personal":   true,
	"enterprise": true,
	"custom":     true,
}

// Load loads configuration from file and environment variables.
// The returned viper instance is kept so Watch can observe the same file.
func Load(configPath string) (*Config, *viper.Viper, error) {
	// Set defaults
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/glasslm/")
	v.AddConfigPath("$HOME/.glasslm/")

	// Environment variable overrides
	v.SetEnvPrefix("GLASSLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, v, nil
}

// Validate checks a loaded configuration for values the daemon cannot run with
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if !validPresets[config.Privacy.Preset] {
		return fmt.Errorf("invalid privacy preset: %s (must be developer, personal, enterprise, or custom)", config.Privacy.Preset)
	}

	ctx := config.Privacy.Context
	if ctx.WindowSize <= 0 {
		return fmt.Errorf("invalid context window size: %d", ctx.WindowSize)
	}
	if ctx.MediumThreshold > ctx.HighThreshold {
		return fmt.Errorf("context medium threshold %d exceeds high threshold %d", ctx.MediumThreshold, ctx.HighThreshold)
	}
	if ctx.PositiveBoost < 0 || ctx.NegativePenalty < 0 {
		return fmt.Errorf("context boost and penalty must be non-negative")
	}

	if config.Privacy.Leakage.NumericSuffixLen <= 0 {
		return fmt.Errorf("invalid numeric suffix length: %d", config.Privacy.Leakage.NumericSuffixLen)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit is enabled but audit.database_url is empty")
	}

	return nil
}

// Watch starts watching the configuration file for changes.
// Invalid updates are reported to onError and otherwise ignored.
func Watch(v *viper.Viper, callback func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := Validate(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()
}

package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/llm-warden/")
	viper.AddConfigPath("$HOME/.llm-warden/")

	// Environment variable overrides
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Rules.Dir == "" {
		return fmt.Errorf("rules directory must be set")
	}

	if config.Pipeline.BlockThreshold < 0 || config.Pipeline.BlockThreshold > 1 {
		return fmt.Errorf("invalid block threshold: %g (must be in [0,1])", config.Pipeline.BlockThreshold)
	}
	if config.Pipeline.WarnThreshold < 0 || config.Pipeline.WarnThreshold > config.Pipeline.BlockThreshold {
		return fmt.Errorf("invalid warn threshold: %g (must be in [0,block_threshold])", config.Pipeline.WarnThreshold)
	}

	if config.Classifier.Type != "pattern" && config.Classifier.Type != "http" {
		return fmt.Errorf("invalid classifier type: %s (must be pattern or http)", config.Classifier.Type)
	}
	if config.Classifier.Type == "http" && config.Classifier.URL == "" {
		return fmt.Errorf("classifier url must be set for http classifier")
	}

	if config.Audit.Backend != "log" && config.Audit.Backend != "postgres" {
		return fmt.Errorf("invalid audit backend: %s (must be log or postgres)", config.Audit.Backend)
	}
	if config.Audit.Backend == "postgres" && config.Audit.Store.DatabaseURL == "" {
		return fmt.Errorf("audit database url must be set for postgres backend")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}

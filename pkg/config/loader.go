package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "merlinn.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load merlinn.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML
//  4. Merge on top of DefaultConfig
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"environment", cfg.System.Environment,
		"dispatcher", cfg.Index.Dispatcher,
		"refreshable_vendors", stats.RefreshableVendors,
		"masking_patterns", stats.MaskingPatterns)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	user, err := loadYAML(configDir, FileName)
	if err != nil {
		return nil, NewLoadError(FileName, err)
	}

	cfg := DefaultConfig()
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	cfg.configDir = configDir
	return cfg, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

func loadYAML(configDir, filename string) (*Config, error) {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// ExpandEnv passes the original bytes through on template errors and
	// leaves the YAML parser to report them.
	data = ExpandEnv(data)

	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &out, nil
}

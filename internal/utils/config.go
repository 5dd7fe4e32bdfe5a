package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

const (
	configEnvVar      = "PRINT_MY_BRIDGE_CONFIG"
	defaultConfigName = "print-my-bridge.toml"
)

// DefaultConfigPath returns the config file location, checking
// PRINT_MY_BRIDGE_CONFIG first and then the user config directory.
func DefaultConfigPath() (string, error) {
	if path := os.Getenv(configEnvVar); path != "" {
		return path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, "print-my-bridge", defaultConfigName), nil
}

// LoadOrSetupConfig reads the config file named in ctx. On first run it writes
// the defaults plus a freshly generated token; created reports that case.
func LoadOrSetupConfig(ctx context.Context, newToken func() string) (cfg model.BridgeConfig, created bool, err error) {
	configFile, _ := ctx.Value(model.ContextConfigFile).(string)
	if configFile == "" {
		return cfg, false, errors.New("no config file in context")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		cfg = model.DefaultBridgeConfig()
		cfg.APIToken = newToken()
		if err := SaveConfig(configFile, cfg); err != nil {
			return cfg, false, err
		}
		return cfg, true, nil
	}

	cfg, err = ReadConfig(configFile)
	return cfg, false, err
}

// ReadConfig decodes and validates a config file. The format follows the
// extension: .toml, .yaml/.yml, or .json (comments allowed).
func ReadConfig(path string) (model.BridgeConfig, error) {
	var cfg model.BridgeConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := decodeConfig(path, data, &cfg); err != nil {
		return cfg, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg in the format matching path's extension.
func SaveConfig(path string, cfg model.BridgeConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := encodeConfig(path, cfg)
	if err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	// The file holds the bearer token.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// UpdateConfig applies fn to the stored config and writes it back.
func UpdateConfig(path string, fn func(*model.BridgeConfig)) (model.BridgeConfig, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return cfg, err
	}
	fn(&cfg)
	return cfg, SaveConfig(path, cfg)
}

func configFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

func decodeConfig(path string, data []byte, cfg *model.BridgeConfig) error {
	switch configFormat(path) {
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	case "json":
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

func encodeConfig(path string, cfg model.BridgeConfig) ([]byte, error) {
	switch configFormat(path) {
	case "yaml":
		return yaml.Marshal(cfg)
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

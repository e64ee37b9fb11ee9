// Package config loads the optional gobreak config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up under Dir().
const FileName = "config.yaml"

// Config holds the settings the CLI and MCP server start from. Every field
// has a default; the file only needs the ones being overridden.
type Config struct {
	// Debugger selects the attach backend: "headless" or "dap".
	Debugger string `yaml:"debugger"`
	// DlvPath is the dlv binary to spawn for self-hosted attach servers.
	DlvPath string `yaml:"dlv_path"`
	// Listen is the SSE listen address `gobreak serve` uses when --listen is
	// not given. Empty means serve on stdio.
	Listen string `yaml:"listen"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Debugger: "headless",
		DlvPath:  "dlv",
	}
}

// Dir returns the gobreak home directory (~/.gobreak), creating it if needed.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".gobreak")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Load reads the config file at path, layering it over Default. A missing
// file is not an error and yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// An override of "" would silently disable a backend; treat empty fields
	// as "keep the default". Listen is exempt: empty legitimately means
	// "serve on stdio".
	def := Default()
	if cfg.Debugger == "" {
		cfg.Debugger = def.Debugger
	}
	if cfg.DlvPath == "" {
		cfg.DlvPath = def.DlvPath
	}
	return cfg, nil
}

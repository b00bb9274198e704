// Package config loads chamberd's own configuration from an optional
// TOML file plus environment overrides. The supervised process's
// configuration lives elsewhere (see internal/configstore).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/openchamber/chamberd/internal/logger"
)

type GatewayConfig struct {
	// Port is the local gateway listen port. 0 picks a free port;
	// the default is 7654.
	Port int `mapstructure:"port"`
}

type OpenCodeConfig struct {
	// Binary overrides PATH resolution of the opencode executable.
	Binary string `mapstructure:"binary"`
	// Port pre-configures the opencode serve port; 0 auto-assigns and
	// relies on log-based discovery.
	Port int `mapstructure:"port"`
	// ConfigPath is passed through as `--config` when non-empty.
	ConfigPath string `mapstructure:"config_path"`
	// ConfigDir holds opencode.json plus agent/ and command/ markdown
	// entities. Defaults to ~/.config/opencode.
	ConfigDir string `mapstructure:"config_dir"`
	// Disabled forces limited mode even when a binary is resolvable.
	Disabled bool `mapstructure:"disabled"`
}

type SettingsConfig struct {
	// Path of the front-end settings JSON file.
	Path string `mapstructure:"path"`
}

type HistoryConfig struct {
	// DSN of the SQLite lifecycle audit database; empty disables it.
	DSN string `mapstructure:"dsn"`
}

type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	OpenCode OpenCodeConfig `mapstructure:"opencode"`
	Settings SettingsConfig `mapstructure:"settings"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      logger.Config  `mapstructure:"log"`
}

// Load reads config from path (optional) and applies environment
// overrides compatible with the desktop launcher:
// OPENCODE_BINARY, OPENCHAMBER_OPENCODE_PORT, OPENCHAMBER_OPENCODE_CONFIG,
// OPENCHAMBER_DISABLE_CLI.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("CHAMBERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("gateway.port", 7654)
	v.SetDefault("opencode.port", 0)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if def := defaultConfigFile(); def != "" {
		v.SetConfigFile(def)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", def, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	applyLauncherEnv(&cfg)

	if cfg.OpenCode.ConfigDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.OpenCode.ConfigDir = filepath.Join(home, ".config", "opencode")
		}
	}
	if cfg.Settings.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Settings.Path = filepath.Join(home, ".config", "openchamber", "settings.json")
		}
	}
	return cfg, nil
}

func applyLauncherEnv(cfg *Config) {
	if bin := os.Getenv("OPENCODE_BINARY"); bin != "" {
		cfg.OpenCode.Binary = bin
	}
	if raw := os.Getenv("OPENCHAMBER_OPENCODE_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port < 1<<16 {
			cfg.OpenCode.Port = port
		}
	}
	if path := os.Getenv("OPENCHAMBER_OPENCODE_CONFIG"); path != "" {
		cfg.OpenCode.ConfigPath = path
	}
	if _, ok := os.LookupEnv("OPENCHAMBER_DISABLE_CLI"); ok {
		cfg.OpenCode.Disabled = true
	}
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "openchamber", "chamberd.toml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

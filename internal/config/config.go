// Package config handles configuration loading for whale. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for whale.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

// AnthropicConfig holds the direct-backend settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// ProxyConfig holds the mediated-backend settings. When BaseURL is empty the
// direct backend is used alone.
type ProxyConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// DefaultsConfig holds per-run defaults.
type DefaultsConfig struct {
	Model         string `mapstructure:"model"`
	FallbackModel string `mapstructure:"fallback_model"`
	Permission    string `mapstructure:"permission"`
}

// LimitsConfig holds the spend and size ceilings.
type LimitsConfig struct {
	MaxTurns     int     `mapstructure:"max_turns"`
	MaxBudgetUSD float64 `mapstructure:"max_budget_usd"`
	ResultCap    int     `mapstructure:"result_cap"`
}

// Load loads configuration with the usual precedence, highest first:
// environment variables, project config (.whale.yaml found upward from the
// working directory), user config (~/.config/whale/config.yaml), then
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_aws_bedrock", "WHALE_USE_BEDROCK")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")
	v.BindEnv("proxy.base_url", "WHALE_PROXY_URL")
	v.BindEnv("proxy.token", "WHALE_PROXY_TOKEN")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Proxy.Token = expandEnv(cfg.Proxy.Token)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Proxy.Token = expandEnv(cfg.Proxy.Token)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("defaults.model", "claude-sonnet-4-5")
	v.SetDefault("defaults.fallback_model", "claude-haiku-4-5")
	v.SetDefault("defaults.permission", "default")

	v.SetDefault("limits.max_turns", 50)
	v.SetDefault("limits.max_budget_usd", 0)
	v.SetDefault("limits.result_cap", 20000)
}

// userConfigDir returns the XDG config directory for whale.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "whale")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "whale")
	}
	return filepath.Join(home, ".config", "whale")
}

// findProjectConfig searches for .whale.yaml in the working directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cwd, ".whale.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in config values.
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.ExpandEnv(s)
	}
	return s
}

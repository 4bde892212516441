// Package config loads application configuration from a YAML file and the
// environment. Environment variables use the MAJORDOMO_ prefix with
// underscores for nesting, e.g. MAJORDOMO_ORACLE_API_KEY.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Store struct {
		Backend string `mapstructure:"backend"` // "memory" or "sqlite"
		Path    string `mapstructure:"path"`
	} `mapstructure:"store"`
	Orchestrator struct {
		MaxSteps    int           `mapstructure:"max_steps"`
		WorkflowTTL time.Duration `mapstructure:"workflow_ttl"`
	} `mapstructure:"orchestrator"`
	Oracle struct {
		Model         string        `mapstructure:"model"`
		APIKey        string        `mapstructure:"api_key"`
		BaseURL       string        `mapstructure:"base_url"`
		Timeout       time.Duration `mapstructure:"timeout"`
		MinConfidence float64       `mapstructure:"min_confidence"`
		PromptDir     string        `mapstructure:"prompt_dir"`
	} `mapstructure:"oracle"`
	Policy struct {
		DeniedOperations []string `mapstructure:"denied_operations"`
		DeniedPatterns   []string `mapstructure:"denied_patterns"`
	} `mapstructure:"policy"`
	Dispatch struct {
		CallTimeout time.Duration `mapstructure:"call_timeout"`
		MaxAttempts int           `mapstructure:"max_attempts"`
	} `mapstructure:"dispatch"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`
}

// Load reads configuration from config.yaml (working directory or ./config)
// and the environment. A missing file is fine; defaults and environment
// variables still apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MAJORDOMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.path", "majordomo.db")
	v.SetDefault("orchestrator.max_steps", 15)
	v.SetDefault("orchestrator.workflow_ttl", time.Hour)
	v.SetDefault("oracle.model", "gpt-4o")
	// viper only maps env vars onto keys it knows about
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.prompt_dir", "")
	v.SetDefault("oracle.timeout", 45*time.Second)
	v.SetDefault("oracle.min_confidence", 0.6)
	v.SetDefault("dispatch.call_timeout", 10*time.Second)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 1 {
		return fmt.Errorf("config: oracle.min_confidence must be within [0,1], got %v", c.Oracle.MinConfidence)
	}
	return nil
}

// Package config loads daemon configuration from defaults, an optional
// YAML file, and KEPLER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Budgets  BudgetsConfig  `mapstructure:"budgets"`
	Saver    SaverConfig    `mapstructure:"saver"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SandboxConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type AgentConfig struct {
	// Provider selects the reasoning backend: anthropic, openai, google.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// BudgetsConfig bounds each stage's reasoning loop. Budgets are
// deployment policy, not workflow logic.
type BudgetsConfig struct {
	Detect   int `mapstructure:"detect"`
	Generate int `mapstructure:"generate"`
	Holistic int `mapstructure:"holistic"`
	Review   int `mapstructure:"review"`
}

type SaverConfig struct {
	// Mode is "batch" or "per_item".
	Mode string `mapstructure:"mode"`
	// Pace delays consecutive writes in per_item mode.
	Pace time.Duration `mapstructure:"pace"`
}

type StorageConfig struct {
	// Driver selects the store: memory, sqlite, mysql, redis.
	Driver string `mapstructure:"driver"`
	// DSN is the SQLite path or MySQL connection string.
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type WorkflowConfig struct {
	// Variant selects the graph topology: sequential or parallel.
	Variant string `mapstructure:"variant"`
	// TopologyFile optionally overrides Variant and engine limits.
	TopologyFile  string        `mapstructure:"topology_file"`
	MaxSteps      int           `mapstructure:"max_steps"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	BranchTimeout time.Duration `mapstructure:"branch_timeout"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
}

// Load reads configuration from ./kepler.yaml (or /etc/kepler), then
// applies KEPLER_ environment overrides, e.g. KEPLER_SERVER_PORT=9090.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("kepler")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kepler")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sandbox.base_url", "http://localhost:9000")
	v.SetDefault("sandbox.request_timeout", time.Minute)
	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("budgets.detect", 100)
	v.SetDefault("budgets.generate", 50)
	v.SetDefault("budgets.holistic", 80)
	v.SetDefault("budgets.review", 10)
	v.SetDefault("saver.mode", "batch")
	v.SetDefault("saver.pace", time.Duration(0))
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./kepler.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("workflow.variant", "sequential")
	v.SetDefault("workflow.topology_file", "")
	v.SetDefault("workflow.max_steps", 100)
	v.SetDefault("workflow.max_concurrent", 8)
	v.SetDefault("workflow.branch_timeout", 10*time.Minute)
	v.SetDefault("workflow.run_timeout", time.Hour)

	v.SetEnvPrefix("KEPLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Workflow.TopologyFile != "" {
		if err := config.applyTopologyFile(); err != nil {
			return nil, err
		}
	}
	return config, nil
}

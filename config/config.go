// Package config loads emulator settings from defaults, an optional YAML
// file and CTE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Addr is the listen address of the HTTP front door.
	Addr string `mapstructure:"addr"`

	// HostsFile maps queue ids to target hosts and retry limits.
	HostsFile string `mapstructure:"hosts_file"`

	// RedisAddr enables per-queue rate limiting when set.
	RedisAddr string `mapstructure:"redis_addr"`

	// PostgresDSN enables the attempt audit log when set.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type DispatchConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff of zero keeps doubling without a ceiling.
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	Jitter          float64       `mapstructure:"jitter"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	EnforceDeadline bool          `mapstructure:"enforce_deadline"`
}

func Default() *Config {
	return &Config{
		Addr:      ":8500",
		HostsFile: "hosts.json",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Dispatch: DispatchConfig{
			InitialBackoff: 500 * time.Millisecond,
			RequestTimeout: 10 * time.Minute,
		},
	}
}

// Load reads path when non-empty, else CTE_CONFIG, else an optional
// cloudtasks.yaml in the working directory. SERVER_ADDR is still honored
// for the listen address.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("hosts_file", cfg.HostsFile)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("dispatch.initial_backoff", cfg.Dispatch.InitialBackoff)
	v.SetDefault("dispatch.max_backoff", cfg.Dispatch.MaxBackoff)
	v.SetDefault("dispatch.jitter", cfg.Dispatch.Jitter)
	v.SetDefault("dispatch.request_timeout", cfg.Dispatch.RequestTimeout)
	v.SetDefault("dispatch.enforce_deadline", cfg.Dispatch.EnforceDeadline)

	if err := v.BindEnv("addr", "CTE_ADDR", "SERVER_ADDR"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CTE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cloudtasks")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Dispatch.Jitter < 0 || c.Dispatch.Jitter >= 1 {
		return fmt.Errorf("dispatch.jitter must be in [0, 1), got %v", c.Dispatch.Jitter)
	}
	if c.Dispatch.MaxBackoff < 0 {
		return fmt.Errorf("dispatch.max_backoff must not be negative")
	}
	if c.Dispatch.InitialBackoff <= 0 {
		return fmt.Errorf("dispatch.initial_backoff must be positive")
	}
	return nil
}

// Package config loads go-synced configuration from a YAML file and
// SYNCED_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-synced/pkg/persist"
	"github.com/spf13/viper"
)

// Config holds all configuration.
type Config struct {
	Persist   PersistConfig    `mapstructure:"persist"`
	Remote    RemoteConfig     `mapstructure:"remote"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Activity  ActivityConfig   `mapstructure:"activity"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

// PersistConfig selects the storage backend and document defaults.
type PersistConfig struct {
	Backend     string        `mapstructure:"backend"` // file, bolt, sqlite, redis, memory
	Dir         string        `mapstructure:"dir"`
	Path        string        `mapstructure:"path"` // bolt and sqlite database file
	Format      string        `mapstructure:"format"`
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RemoteConfig configures the HTTP adapter.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	PerPage int           `mapstructure:"per_page"`
}

// LoggingConfig configures NewLogger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
	File   string `mapstructure:"file"`
}

// ActivityConfig toggles activity events.
type ActivityConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// MetricsConfig configures prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"`
}

// ResourceConfig declares a remote resource the CLI can fetch.
type ResourceConfig struct {
	Name       string            `mapstructure:"name"`
	Kind       string            `mapstructure:"kind"` // get or list
	Path       string            `mapstructure:"path"`
	PathParams map[string]string `mapstructure:"path_params"`
	Params     map[string]string `mapstructure:"params"`
	PickFields []string          `mapstructure:"pick_fields"`
	FieldID    string            `mapstructure:"field_id"`
	Public     bool              `mapstructure:"public"`
	Transform  string            `mapstructure:"transform"`
	Engine     string            `mapstructure:"engine"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Persist: PersistConfig{
			Backend:     persist.BackendFile,
			Dir:         defaultDataDir(),
			Format:      string(persist.FormatJSON),
			SaveTimeout: persist.DefaultSaveTimeout,
			Redis:       RedisConfig{Prefix: "synced:"},
		},
		Remote: RemoteConfig{
			BaseURL: "https://api.github.com",
			Timeout: 30 * time.Second,
			PerPage: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Activity: ActivityConfig{Channel: "sync"},
		Metrics:  MetricsConfig{Namespace: "synced"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "synced")
	}
	return ".synced"
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "synced")
	}
	return "."
}

// Load reads configuration. An explicit path must exist; otherwise
// synced.yaml is looked up in the working directory and the user config
// directory, and a missing file falls back to defaults. Environment
// variables such as SYNCED_PERSIST_BACKEND override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("synced")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigDir())
	}
	v.SetEnvPrefix("SYNCED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so environment variables are
// picked up by Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("persist.backend", cfg.Persist.Backend)
	v.SetDefault("persist.dir", cfg.Persist.Dir)
	v.SetDefault("persist.path", cfg.Persist.Path)
	v.SetDefault("persist.format", cfg.Persist.Format)
	v.SetDefault("persist.save_timeout", cfg.Persist.SaveTimeout)
	v.SetDefault("persist.redis.addr", cfg.Persist.Redis.Addr)
	v.SetDefault("persist.redis.password", cfg.Persist.Redis.Password)
	v.SetDefault("persist.redis.db", cfg.Persist.Redis.DB)
	v.SetDefault("persist.redis.prefix", cfg.Persist.Redis.Prefix)
	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.token", cfg.Remote.Token)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)
	v.SetDefault("remote.per_page", cfg.Remote.PerPage)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("activity.enabled", cfg.Activity.Enabled)
	v.SetDefault("activity.channel", cfg.Activity.Channel)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if _, err := persist.ParseFormat(c.Persist.Format); err != nil {
		errs = append(errs, fmt.Errorf("config: persist.format: %w", err))
	}
	if c.Persist.SaveTimeout < 0 {
		errs = append(errs, errors.New("config: persist.save_timeout must not be negative"))
	}
	seen := make(map[string]bool, len(c.Resources))
	for i, res := range c.Resources {
		switch {
		case res.Name == "":
			errs = append(errs, fmt.Errorf("config: resources[%d]: name is required", i))
		case seen[res.Name]:
			errs = append(errs, fmt.Errorf("config: resources[%d]: duplicate name %q", i, res.Name))
		}
		seen[res.Name] = true
		if res.Kind != "get" && res.Kind != "list" {
			errs = append(errs, fmt.Errorf("config: resources[%d]: kind must be get or list", i))
		}
		if res.Kind == "list" && res.FieldID == "" {
			errs = append(errs, fmt.Errorf("config: resources[%d]: list resources need field_id", i))
		}
	}
	return errors.Join(errs...)
}

// BackendConfig maps the persist section onto persist.BackendConfig.
func (c PersistConfig) BackendConfig() persist.BackendConfig {
	return persist.BackendConfig{
		Kind: c.Backend,
		Dir:  c.Dir,
		Path: c.Path,
		Redis: persist.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
	}
}

// DocumentDefaults maps the persist section onto plugin defaults.
func (c PersistConfig) DocumentDefaults() (persist.DocumentOptions, error) {
	format, err := persist.ParseFormat(c.Format)
	if err != nil {
		return persist.DocumentOptions{}, err
	}
	return persist.DocumentOptions{Format: format, SaveTimeout: c.SaveTimeout}, nil
}

// Resource returns the named resource declaration.
func (c *Config) Resource(name string) (ResourceConfig, bool) {
	for _, res := range c.Resources {
		if res.Name == name {
			return res, true
		}
	}
	return ResourceConfig{}, false
}

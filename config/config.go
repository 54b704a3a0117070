// Package config loads plugin host settings and turns them into registry
// options.
//
// Settings come from defaults, an optional config file and PLUGINHOST_*
// environment variables, in increasing order of precedence. Nested keys map
// to environment variables with dots replaced by underscores, so
// keystore.backend is read from PLUGINHOST_KEYSTORE_BACKEND.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/joncooperworks/pluginhost/crypto"
	"github.com/joncooperworks/pluginhost/crypto/keystore"
	"github.com/joncooperworks/pluginhost/plugin"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "PLUGINHOST"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds the plugin host settings.
type Config struct {
	// Dir is the plugin directory scanned by the registry.
	Dir string `mapstructure:"dir"`
	// Verify requires every discovered module to carry a valid signature.
	Verify bool `mapstructure:"verify"`
	// Keystore selects the trust store used when Verify is set.
	Keystore KeystoreConfig `mapstructure:"keystore"`
	// LogLevel is one of debug, info, warn, error or fatal.
	LogLevel string `mapstructure:"log_level"`
}

// KeystoreConfig configures the trust store backend.
type KeystoreConfig struct {
	Backend string `mapstructure:"backend"`
	Service string `mapstructure:"service"`
	Dir     string `mapstructure:"dir"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Dir:      "plugins",
		LogLevel: "warn",
		Keystore: KeystoreConfig{
			Backend: keystore.KeyringBackend,
			Service: keystore.DefaultService,
		},
	}
}

// Load reads configuration. An empty path skips the config file.
func Load(ctx context.Context, path string) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("dir", defaults.Dir)
	v.SetDefault("verify", defaults.Verify)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("keystore.backend", defaults.Keystore.Backend)
	v.SetDefault("keystore.service", defaults.Keystore.Service)
	v.SetDefault("keystore.dir", defaults.Keystore.Dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	return &cfg, nil
}

// Logger returns a registry logger at the configured level.
func (c *Config) Logger() *log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.WarnLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "plugins",
		Level:  level,
	})
}

// TrustStore opens the configured trust store backend.
func (c *Config) TrustStore() (keystore.TrustStore, error) {
	return keystore.NewTrustStore(c.Keystore.Backend, keystore.Options{
		Service: c.Keystore.Service,
		Dir:     c.Keystore.Dir,
	})
}

// RegistryOptions builds the registry options described by c.
func (c *Config) RegistryOptions() ([]plugin.Option, error) {
	logger := c.Logger()
	opts := []plugin.Option{plugin.WithLogger(logger)}
	if c.Verify {
		store, err := c.TrustStore()
		if err != nil {
			return nil, fmt.Errorf("failed to open trust store: %w", err)
		}
		verifier := crypto.NewModuleVerifier(store, crypto.WithLogger(logger.WithPrefix("verify")))
		opts = append(opts, plugin.WithVerifier(verifier))
	}
	return opts, nil
}

// NewRegistry creates a registry for c.Dir. Extra options are applied after
// the configured ones.
func (c *Config) NewRegistry(extra ...plugin.Option) (*plugin.Registry, error) {
	opts, err := c.RegistryOptions()
	if err != nil {
		return nil, err
	}
	return plugin.New(c.Dir, append(opts, extra...)...), nil
}

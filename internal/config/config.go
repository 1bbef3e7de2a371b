// Package config defines the data structures related to configuration and
// includes functions for loading and validating it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/iwvelando/loan-calculator/pkg/validation"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for loan-calculator.
type Configuration struct {
	Backend BackendConfig `mapstructure:"backend"`
	Store   StoreConfig   `mapstructure:"store"`
	Rates   RatesConfig   `mapstructure:"rates"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
	Support SupportConfig `mapstructure:"support"`
}

// BackendConfig points the client at the loan service.
type BackendConfig struct {
	BaseURL string        `mapstructure:"baseUrl"`
	Timeout time.Duration `mapstructure:"timeout"`
	// ScopeLoansByCustomer posts applications to /loans/{customerId}.
	ScopeLoansByCustomer bool `mapstructure:"scopeLoansByCustomer"`
}

// StoreConfig selects where the session credentials are kept.
type StoreConfig struct {
	Type       string      `mapstructure:"type"` // memory, file, sqlite, redis
	Path       string      `mapstructure:"path"`
	Passphrase string      `mapstructure:"passphrase"`
	DSN        string      `mapstructure:"dsn"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the connection settings for the redis store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RatesConfig holds additional rate policies and the version to use.
type RatesConfig struct {
	Active   string         `mapstructure:"active"`
	Policies []rates.Policy `mapstructure:"policies"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`           // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"`         // json, console
	OutputFile string `yaml:"outputFile" mapstructure:"outputFile"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format   string `mapstructure:"format"` // pretty, csv, json
	Currency string `mapstructure:"currency"`
}

// SupportConfig holds the help line shown to users.
type SupportConfig struct {
	WhatsAppNumber string `mapstructure:"whatsAppNumber"`
	Message        string `mapstructure:"message"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.baseUrl", constants.DefaultBackendURL)
	v.SetDefault("backend.timeout", time.Duration(constants.DefaultBackendTimeoutSeconds)*time.Second)
	v.SetDefault("backend.scopeLoansByCustomer", false)

	v.SetDefault("store.type", constants.DefaultStoreType)
	v.SetDefault("store.path", "")
	v.SetDefault("store.passphrase", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis.address", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key", constants.DefaultRedisKey)

	v.SetDefault("rates.active", rates.StandardVersion)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputFile", "")

	v.SetDefault("output.format", constants.OutputFormatPretty)
	v.SetDefault("output.currency", constants.DefaultCurrency)

	v.SetDefault("support.whatsAppNumber", constants.DefaultWhatsAppNumber)
	v.SetDefault("support.message", constants.DefaultHelpMessage)
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there. An empty path looks for the default file in the
// working directory and the user config directory, and falls back to the
// built-in defaults when none exists. Environment variables prefixed with
// LOANCALC_ override file values, and a .env file next to the config is
// loaded first.
func LoadConfiguration(configPath string) (*Configuration, error) {
	if err := loadDotEnv(configPath); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yml")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %s", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(constants.DefaultConfigFile, filepath.Ext(constants.DefaultConfigFile)))
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "loan-calculator"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file, %s", err)
			}
		}
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return &configuration, nil
}

func loadDotEnv(configPath string) error {
	envFile := ".env"
	if configPath != "" {
		envFile = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", envFile, err)
	}
	return nil
}

// Validate checks the loaded values.
func (c *Configuration) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.baseUrl must be an http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}

	switch c.Store.Type {
	case constants.StoreTypeMemory, constants.StoreTypeFile, constants.StoreTypeSQLite:
	case constants.StoreTypeRedis:
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	if err := validation.ValidateOutputFormat(c.Output.Format); err != nil {
		return err
	}

	if _, err := c.Rates.Registry(); err != nil {
		return err
	}

	return nil
}

// CredentialsPath returns the file used by the file store.
func (s StoreConfig) CredentialsPath() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate user config directory: %w", err)
	}
	return filepath.Join(dir, constants.DefaultCredentialsFile), nil
}

// SQLiteDSN returns the database used by the sqlite store.
func (s StoreConfig) SQLiteDSN() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}
	path, err := s.CredentialsPath()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".db", nil
}

// Registry builds a rate registry holding the standard policy plus every
// configured policy, with the configured version active.
func (r RatesConfig) Registry() (*rates.Registry, error) {
	registry := rates.NewRegistry()
	for _, policy := range r.Policies {
		if err := registry.Register(policy); err != nil {
			return nil, fmt.Errorf("invalid rate policy: %w", err)
		}
	}
	if r.Active != "" {
		if err := registry.Activate(r.Active); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

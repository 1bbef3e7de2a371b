package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/iwvelando/loan-calculator/internal/config"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config defines runtime parameters for the quote API server.
type Config struct {
	Address     string               `yaml:"address"`
	MaxBodySize string               `yaml:"maxBodySize"`
	Logging     config.LoggingConfig `yaml:"logging"`
	Timeouts    TimeoutConfig        `yaml:"timeouts"`
	// RatePolicy selects the active rate policy; empty keeps the client's.
	RatePolicy string `yaml:"ratePolicy"`
	// RatePolicies are served in addition to the client's policies.
	RatePolicies []rates.Policy `yaml:"ratePolicies"`

	bodySizeBytes int64
}

// TimeoutConfig holds the HTTP server deadlines as Go duration strings.
type TimeoutConfig struct {
	Read     string `yaml:"read"`
	Write    string `yaml:"write"`
	Shutdown string `yaml:"shutdown"`

	read, write, shutdown time.Duration
}

// ReadTimeout bounds reading a request, headers included.
func (t TimeoutConfig) ReadTimeout() time.Duration { return t.read }

// WriteTimeout bounds writing a response.
func (t TimeoutConfig) WriteTimeout() time.Duration { return t.write }

// ShutdownTimeout bounds draining in-flight requests on shutdown.
func (t TimeoutConfig) ShutdownTimeout() time.Duration { return t.shutdown }

func defaultConfig() *Config {
	return &Config{
		Address:       constants.DefaultServerAddress,
		MaxBodySize:   fmt.Sprintf("%d", constants.DefaultMaxBodySizeBytes),
		bodySizeBytes: constants.DefaultMaxBodySizeBytes,
		Timeouts: TimeoutConfig{
			read:     defaultReadTimeout,
			write:    defaultWriteTimeout,
			shutdown: defaultShutdownTimeout,
		},
	}
}

// LoadConfig loads the server configuration from YAML. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid server config %s: %w", path, err)
	}
	return cfg, nil
}

// BodySizeBytes returns the largest accepted request body in bytes.
func (c *Config) BodySizeBytes() int64 {
	return c.bodySizeBytes
}

// SetBodySizeBytes overrides the configured body limit.
func (c *Config) SetBodySizeBytes(size int64) {
	if size > 0 {
		c.bodySizeBytes = size
		c.MaxBodySize = fmt.Sprintf("%d", size)
	}
}

// Apply registers the extra rate policies in registry and activates the
// configured one.
func (c *Config) Apply(registry *rates.Registry) error {
	for _, policy := range c.RatePolicies {
		if err := registry.Register(policy); err != nil {
			return fmt.Errorf("invalid server rate policy: %w", err)
		}
	}
	if c.RatePolicy != "" {
		return registry.Activate(c.RatePolicy)
	}
	return nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = constants.DefaultServerAddress
	}

	size, err := ParseSize(c.MaxBodySize)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = constants.DefaultMaxBodySizeBytes
	}
	c.bodySizeBytes = size
	c.MaxBodySize = fmt.Sprintf("%d", size)

	timeouts := []struct {
		name     string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"timeouts.read", c.Timeouts.Read, defaultReadTimeout, &c.Timeouts.read},
		{"timeouts.write", c.Timeouts.Write, defaultWriteTimeout, &c.Timeouts.write},
		{"timeouts.shutdown", c.Timeouts.Shutdown, defaultShutdownTimeout, &c.Timeouts.shutdown},
	}
	for _, t := range timeouts {
		*t.dst = t.fallback
		raw := strings.TrimSpace(t.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.name, raw)
		}
		*t.dst = d
	}
	return nil
}

var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"B", 1},
}

// ParseSize converts a human-friendly byte string such as "256K", "1.5MB"
// or "4096" into bytes. Fractions are rounded down to whole bytes and an
// empty string gives the default body limit.
func ParseSize(value string) (int64, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return constants.DefaultMaxBodySizeBytes, nil
	}

	number, multiplier := trimmed, int64(1)
	for _, unit := range sizeUnits {
		if strings.HasSuffix(trimmed, unit.suffix) {
			number = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			multiplier = unit.multiplier
			break
		}
	}

	n, err := decimal.NewFromString(number)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	if n.IsNegative() {
		return 0, fmt.Errorf("size %q must not be negative", value)
	}
	bytes := n.Mul(decimal.NewFromInt(multiplier)).Floor()
	if !bytes.LessThanOrEqual(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("size %q is too large", value)
	}
	return bytes.IntPart(), nil
}

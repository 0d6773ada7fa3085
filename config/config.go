// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/caarlos0/env/v11"
)

// DisableSentinel turns off outbound address rotation when set as IPV6_BLOCK.
const DisableSentinel = "DISABLE"

// Config holds all environment-driven settings for the gateway process.
type Config struct {
	BindAddr string `env:"BIND_ADDR" envDefault:"0.0.0.0:3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// IPv6Block is the address block used for outbound identity rotation,
	// or the DISABLE sentinel to pin a single unbound identity.
	IPv6Block string `env:"IPV6_BLOCK,required"`

	CacheMaxCapacity int `env:"CACHE_MAX_CAPACITY" envDefault:"1000"`

	// RedisURL and CacheEncryptionKey enable the encrypted remote cache tier
	// when both are set.
	RedisURL           string `env:"REDIS_URL"`
	CacheEncryptionKey string `env:"CACHE_ENCRYPTION_KEY"`

	// GoogleCredentials is the path of a service account JSON file used to
	// mint bearer tokens for the gCloud backend.
	GoogleCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	AuthKey  string `env:"AUTH_KEY"`
	DeepLKey string `env:"DEEPL_KEY"`
	DeepLURL string `env:"DEEPL_API_URL" envDefault:"https://api-free.deepl.com/v2"`
}

// ErrInvalidIPv6Block is returned when IPV6_BLOCK is neither a valid prefix
// nor the DISABLE sentinel.
var ErrInvalidIPv6Block = errors.New("IPV6_BLOCK must be a CIDR prefix or \"DISABLE\"")

// Load parses configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if _, err := cfg.AddressBlock(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RotationEnabled reports whether outbound identity rotation is configured.
func (c *Config) RotationEnabled() bool {
	return c.IPv6Block != DisableSentinel
}

// AddressBlock returns the parsed rotation prefix. The second value is nil
// and the prefix is the zero value when rotation is disabled.
func (c *Config) AddressBlock() (netip.Prefix, error) {
	if !c.RotationEnabled() {
		return netip.Prefix{}, nil
	}
	block, err := netip.ParsePrefix(c.IPv6Block)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidIPv6Block, c.IPv6Block)
	}
	return block, nil
}

// RemoteCacheEnabled reports whether the encrypted remote cache tier is
// configured.
func (c *Config) RemoteCacheEnabled() bool {
	return c.RedisURL != "" && c.CacheEncryptionKey != ""
}

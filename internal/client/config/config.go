package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
)

// Config holds runtime settings for the RentKeeper CLI.
type Config struct {
	ServerEndpointAddr string
	StorageDSN         string
	StorageKey         string
	StorageIV          string
	RenewalTimeout     time.Duration
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://localhost:8080"
	c.StorageDSN = "rentkeeper-client.db"
	c.StorageKey = "cmVudGtlZXBlci1jbGllbnQtbG9jYWwta2V5LTAwMDA="
	c.StorageIV = "cmstY2xpZW50LWl2LTAwMA=="
	c.RenewalTimeout = 10 * time.Second
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// StorageCipher builds the cipher for local credential storage.
func (c *Config) StorageCipher() (*cryptox.TokenCipher, error) {
	return cryptox.NewTokenCipherFromBase64(c.StorageKey, c.StorageIV)
}

// Validate reports every problem at once, each wrapping common.ErrorConfiguration.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerEndpointAddr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: server endpoint must be an http(s) URL, got %q", common.ErrorConfiguration, c.ServerEndpointAddr))
	}
	if c.StorageDSN == "" {
		errs = append(errs, fmt.Errorf("%w: storage dsn is empty", common.ErrorConfiguration))
	}
	if _, err := c.StorageCipher(); err != nil {
		errs = append(errs, err)
	}
	if c.RenewalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: renewal timeout must be positive", common.ErrorConfiguration))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: request timeout must be positive", common.ErrorConfiguration))
	}

	return errors.Join(errs...)
}

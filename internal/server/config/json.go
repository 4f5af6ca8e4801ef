package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/rentkeeper/internal/flagx"
	"github.com/dmitrijs2005/rentkeeper/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations accept "15m" style
// strings or integer nanoseconds (see timex.Duration).
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	Issuer                       string         `json:"issuer"`
	Audience                     string         `json:"audience"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	RefreshReuseGrace            timex.Duration `json:"refresh_reuse_grace"`
	CipherKey                    string         `json:"cipher_key"`
	CipherIV                     string         `json:"cipher_iv"`
	RefreshStore                 string         `json:"refresh_store"`
	RedisAddr                    string         `json:"redis_addr"`
	PasswordHasher               string         `json:"password_hasher"`
}

// parseJson overlays the JSON file named by -c / -config onto config. Keys
// missing from the file keep their current values. Unreadable files and
// invalid JSON panic.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.ConfigFileFlag()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{
		EndpointAddrHTTP:             config.EndpointAddrHTTP,
		DatabaseDSN:                  config.DatabaseDSN,
		SecretKey:                    config.SecretKey,
		Issuer:                       config.Issuer,
		Audience:                     config.Audience,
		AccessTokenValidityDuration:  timex.Duration{Duration: config.AccessTokenValidityDuration},
		RefreshTokenValidityDuration: timex.Duration{Duration: config.RefreshTokenValidityDuration},
		RefreshReuseGrace:            timex.Duration{Duration: config.RefreshReuseGrace},
		CipherKey:                    config.CipherKey,
		CipherIV:                     config.CipherIV,
		RefreshStore:                 config.RefreshStore,
		RedisAddr:                    config.RedisAddr,
		PasswordHasher:               config.PasswordHasher,
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.Issuer = c.Issuer
	config.Audience = c.Audience
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	config.RefreshReuseGrace = c.RefreshReuseGrace.Duration
	config.CipherKey = c.CipherKey
	config.CipherIV = c.CipherIV
	config.RefreshStore = c.RefreshStore
	config.RedisAddr = c.RedisAddr
	config.PasswordHasher = c.PasswordHasher
}

package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/rentkeeper/internal/flagx"
	"github.com/dmitrijs2005/rentkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept strings like "10s" or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	StorageDSN         string         `json:"storage_dsn"`
	StorageKey         string         `json:"storage_key"`
	StorageIV          string         `json:"storage_iv"`
	RenewalTimeout     timex.Duration `json:"renewal_timeout"`
	RequestTimeout     timex.Duration `json:"request_timeout"`
}

// parseJson overlays cfg with the JSON file given by -c / -config. Keys
// absent from the file keep their current values. Read or unmarshal errors
// panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()
	if jsonConfigFile == "" {
		return
	}

	jc := JsonConfig{
		ServerEndpointAddr: cfg.ServerEndpointAddr,
		StorageDSN:         cfg.StorageDSN,
		StorageKey:         cfg.StorageKey,
		StorageIV:          cfg.StorageIV,
		RenewalTimeout:     timex.Duration{Duration: cfg.RenewalTimeout},
		RequestTimeout:     timex.Duration{Duration: cfg.RequestTimeout},
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	cfg.StorageDSN = jc.StorageDSN
	cfg.StorageKey = jc.StorageKey
	cfg.StorageIV = jc.StorageIV
	cfg.RenewalTimeout = jc.RenewalTimeout.Duration
	cfg.RequestTimeout = jc.RequestTimeout.Duration
}

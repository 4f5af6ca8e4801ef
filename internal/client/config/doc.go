// Package config loads runtime configuration for the RentKeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the API (e.g. http://localhost:8080)
//	-f string   path of the local credential database
//	-k string   local storage key, base64 (32 bytes)
//	-v string   local storage IV, base64 (16 bytes)
//	-t int      renewal timeout (seconds)
//	-q int      request timeout (seconds)
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "http://localhost:8080",
//	  "storage_dsn": "rentkeeper-client.db",
//	  "storage_key": "...",
//	  "storage_iv": "...",
//	  "renewal_timeout": "10s",
//	  "request_timeout": "30s"
//	}
package config

package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/flagx"
)

// parseFlags populates Config fields from the short flags listed in doc.go.
// Only those flags are taken from os.Args (see flagx.FilterArgs), so the
// subcommand and its arguments pass through untouched. Parse errors panic.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-k", "-v", "-t", "-q"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the API")
	fs.StringVar(&cfg.StorageDSN, "f", cfg.StorageDSN, "local credential database")
	fs.StringVar(&cfg.StorageKey, "k", cfg.StorageKey, "local storage key (base64, 32 bytes)")
	fs.StringVar(&cfg.StorageIV, "v", cfg.StorageIV, "local storage IV (base64, 16 bytes)")
	renewalTimeout := fs.Int("t", int(cfg.RenewalTimeout.Seconds()), "renewal timeout (in seconds)")
	requestTimeout := fs.Int("q", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RenewalTimeout = time.Duration(*renewalTimeout) * time.Second
	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}

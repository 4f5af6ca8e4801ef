package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   signing secret key
//	-i string   issuer
//	-u string   audience
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-g int      refresh token reuse grace, seconds
//	-k string   at-rest cipher key, base64
//	-v string   at-rest cipher IV, base64
//	-b string   refresh token store ("postgres" or "redis")
//	-e string   Redis address
//	-p string   password hasher ("sha256" or "argon2id")
//
// Only the flags above are taken from os.Args (see flagx.FilterArgs). Parse
// errors panic.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-i", "-u", "-t", "-r", "-g", "-k", "-v", "-b", "-e", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.Issuer, "i", config.Issuer, "access token issuer")
	fs.StringVar(&config.Audience, "u", config.Audience, "access token audience")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	refreshReuseGrace := fs.Int("g", int(config.RefreshReuseGrace.Seconds()), "refresh_reuse_grace (in seconds)")

	fs.StringVar(&config.CipherKey, "k", config.CipherKey, "at-rest cipher key (base64, 32 bytes)")
	fs.StringVar(&config.CipherIV, "v", config.CipherIV, "at-rest cipher IV (base64, 16 bytes)")
	fs.StringVar(&config.RefreshStore, "b", config.RefreshStore, "refresh token store: postgres or redis")
	fs.StringVar(&config.RedisAddr, "e", config.RedisAddr, "redis address")
	fs.StringVar(&config.PasswordHasher, "p", config.PasswordHasher, "password hasher: sha256 or argon2id")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.RefreshReuseGrace = time.Duration(*refreshReuseGrace) * time.Second
}

package config

import (
	"flag"
	"os"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, hours
//	-x int      exchange code validity, minutes
//	-q int      max active refresh tokens per user
//	-w int      sweep interval, minutes
//	-n int      retention window, hours
//	-y string   policy file (YAML)
//	-l string   audit log file (JSONL)
//	-e string   redis address for the denylist
//	-k string   redis password
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-o string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-r", "-x", "-q", "-w", "-n",
		"-y", "-l", "-e", "-k", "-u", "-p", "-b", "-g", "-o",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidity.Minutes()), "access_token_validity (in minutes)")
	refreshTokenValidity := fs.Int("r", int(config.RefreshTokenValidity.Hours()), "refresh_token_validity (in hours)")
	exchangeCodeValidity := fs.Int("x", int(config.ExchangeCodeValidity.Minutes()), "exchange_code_validity (in minutes)")

	fs.IntVar(&config.MaxActiveTokensPerUser, "q", config.MaxActiveTokensPerUser, "max active refresh tokens per user")

	sweepInterval := fs.Int("w", int(config.SweepInterval.Minutes()), "sweep_interval (in minutes)")
	retentionWindow := fs.Int("n", int(config.RetentionWindow.Hours()), "retention_window (in hours)")

	fs.StringVar(&config.PolicyFile, "y", config.PolicyFile, "policy file (YAML)")
	fs.StringVar(&config.AuditLogFile, "l", config.AuditLogFile, "audit log file (JSONL)")
	fs.StringVar(&config.RedisAddr, "e", config.RedisAddr, "redis address for the denylist")
	fs.StringVar(&config.RedisPassword, "k", config.RedisPassword, "redis password")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "o", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidity = time.Duration(*accessTokenValidity) * time.Minute
	config.RefreshTokenValidity = time.Duration(*refreshTokenValidity) * time.Hour
	config.ExchangeCodeValidity = time.Duration(*exchangeCodeValidity) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
	config.RetentionWindow = time.Duration(*retentionWindow) * time.Hour
}

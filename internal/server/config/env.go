package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays configuration from environment variables. Applied after
// the JSON file and before flags, so flags always win. Duration variables
// take Go duration strings ("15m", "720h").
func parseEnv(config *Config) {
	setString(&config.EndpointAddrHTTP, "TOKENSVC_ADDR")
	setString(&config.DatabaseDSN, "TOKENSVC_DATABASE_DSN")
	setString(&config.SecretKey, "TOKENSVC_SECRET_KEY")
	setDuration(&config.AccessTokenValidity, "TOKENSVC_ACCESS_TOKEN_VALIDITY")
	setDuration(&config.RefreshTokenValidity, "TOKENSVC_REFRESH_TOKEN_VALIDITY")
	setDuration(&config.ExchangeCodeValidity, "TOKENSVC_EXCHANGE_CODE_VALIDITY")
	setInt(&config.MaxActiveTokensPerUser, "TOKENSVC_MAX_ACTIVE_TOKENS")
	setDuration(&config.SweepInterval, "TOKENSVC_SWEEP_INTERVAL")
	setDuration(&config.RetentionWindow, "TOKENSVC_RETENTION_WINDOW")
	setString(&config.PolicyFile, "TOKENSVC_POLICY_FILE")
	setString(&config.AuditLogFile, "TOKENSVC_AUDIT_LOG_FILE")
	setString(&config.RedisAddr, "TOKENSVC_REDIS_ADDR")
	setString(&config.RedisPassword, "TOKENSVC_REDIS_PASSWORD")
	setString(&config.S3RootUser, "TOKENSVC_S3_ROOT_USER")
	setString(&config.S3RootPassword, "TOKENSVC_S3_ROOT_PASSWORD")
	setString(&config.S3Bucket, "TOKENSVC_S3_BUCKET")
	setString(&config.S3Region, "TOKENSVC_S3_REGION")
	setString(&config.S3BaseEndpoint, "TOKENSVC_S3_BASE_ENDPOINT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"encoding/json"
	"os"

	"github.com/toolchainlabs/tokensvc/internal/flagx"
	"github.com/toolchainlabs/tokensvc/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "15m" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddrHTTP       string         `json:"endpoint_addr_http"`
	DatabaseDSN            string         `json:"database_dsn"`
	SecretKey              string         `json:"secret_key"`
	AccessTokenValidity    timex.Duration `json:"access_token_validity"`
	RefreshTokenValidity   timex.Duration `json:"refresh_token_validity"`
	ExchangeCodeValidity   timex.Duration `json:"exchange_code_validity"`
	MaxActiveTokensPerUser int            `json:"max_active_tokens_per_user"`
	SweepInterval          timex.Duration `json:"sweep_interval"`
	RetentionWindow        timex.Duration `json:"retention_window"`
	PolicyFile             string         `json:"policy_file"`
	AuditLogFile           string         `json:"audit_log_file"`
	RedisAddr              string         `json:"redis_addr"`
	RedisPassword          string         `json:"redis_password"`
	S3RootUser             string         `json:"s3_root_user"`
	S3RootPassword         string         `json:"s3_root_password"`
	S3Bucket               string         `json:"s3_bucket"`
	S3Region               string         `json:"s3_region"`
	S3BaseEndpoint         string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics. The caller is expected
// to merge these values with defaults and command-line flags as part of the
// full configuration process.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

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
	config.AccessTokenValidity = c.AccessTokenValidity.Duration
	config.RefreshTokenValidity = c.RefreshTokenValidity.Duration
	config.ExchangeCodeValidity = c.ExchangeCodeValidity.Duration
	config.MaxActiveTokensPerUser = c.MaxActiveTokensPerUser
	config.SweepInterval = c.SweepInterval.Duration
	config.RetentionWindow = c.RetentionWindow.Duration
	config.PolicyFile = c.PolicyFile
	config.AuditLogFile = c.AuditLogFile
	config.RedisAddr = c.RedisAddr
	config.RedisPassword = c.RedisPassword
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}

package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/flagx"
	"github.com/dmitrijs2005/kycflow/internal/timex"
)

// JsonConfig is the JSON file layout. Duration fields accept both strings
// such as "1s" and integer nanoseconds. Absent fields leave the current
// value untouched.
type JsonConfig struct {
	EndpointAddrHTTP     string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC     string         `json:"endpoint_addr_grpc"`
	DatabaseDSN          string         `json:"database_dsn"`
	SecretKey            string         `json:"secret_key"`
	CodeSecret           string         `json:"code_secret"`
	S3RootUser           string         `json:"s3_root_user"`
	S3RootPassword       string         `json:"s3_root_password"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	ProviderBaseURL      string         `json:"provider_base_url"`
	ProviderAuthURL      string         `json:"provider_auth_url"`
	ProviderTokenURL     string         `json:"provider_token_url"`
	ProviderClientID     string         `json:"provider_client_id"`
	ProviderClientSecret string         `json:"provider_client_secret"`
	CallbackURL          string         `json:"callback_url"`
	SessionTTL           timex.Duration `json:"session_ttl"`
	ReaperInterval       timex.Duration `json:"reaper_interval"`
	ReaperBatchSize      int            `json:"reaper_batch_size"`
	FetchTimeout         timex.Duration `json:"fetch_timeout"`
	DocumentRetention    timex.Duration `json:"document_retention"`
	PresignTTL           timex.Duration `json:"presign_ttl"`
	MaxDocumentSize      int64          `json:"max_document_size"`
	CASMaxAttempts       int            `json:"cas_max_attempts"`
	RedisAddr            string         `json:"redis_addr"`
	StatusCacheTTL       timex.Duration `json:"status_cache_ttl"`
	LogFormat            string         `json:"log_format"`
}

// parseJson overlays values from the JSON file named by -c/-config/--config
// or $KYC_CONFIG. If no file is named nothing happens. An unreadable file or
// invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err = json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	str := func(src string, dst *string) {
		if src != "" {
			*dst = src
		}
	}
	dur := func(src timex.Duration, dst *time.Duration) {
		if src.Duration != 0 {
			*dst = src.Duration
		}
	}

	str(c.EndpointAddrHTTP, &config.EndpointAddrHTTP)
	str(c.EndpointAddrGRPC, &config.EndpointAddrGRPC)
	str(c.DatabaseDSN, &config.DatabaseDSN)
	str(c.SecretKey, &config.SecretKey)
	str(c.CodeSecret, &config.CodeSecret)
	str(c.S3RootUser, &config.S3RootUser)
	str(c.S3RootPassword, &config.S3RootPassword)
	str(c.S3Bucket, &config.S3Bucket)
	str(c.S3Region, &config.S3Region)
	str(c.S3BaseEndpoint, &config.S3BaseEndpoint)
	str(c.ProviderBaseURL, &config.ProviderBaseURL)
	str(c.ProviderAuthURL, &config.ProviderAuthURL)
	str(c.ProviderTokenURL, &config.ProviderTokenURL)
	str(c.ProviderClientID, &config.ProviderClientID)
	str(c.ProviderClientSecret, &config.ProviderClientSecret)
	str(c.CallbackURL, &config.CallbackURL)
	dur(c.SessionTTL, &config.SessionTTL)
	dur(c.ReaperInterval, &config.ReaperInterval)
	dur(c.FetchTimeout, &config.FetchTimeout)
	dur(c.DocumentRetention, &config.DocumentRetention)
	dur(c.PresignTTL, &config.PresignTTL)
	dur(c.StatusCacheTTL, &config.StatusCacheTTL)
	str(c.RedisAddr, &config.RedisAddr)
	str(c.LogFormat, &config.LogFormat)

	if c.ReaperBatchSize != 0 {
		config.ReaperBatchSize = c.ReaperBatchSize
	}
	if c.MaxDocumentSize != 0 {
		config.MaxDocumentSize = c.MaxDocumentSize
	}
	if c.CASMaxAttempts != 0 {
		config.CASMaxAttempts = c.CASMaxAttempts
	}
}

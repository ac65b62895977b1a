package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "KYC_"

// parseEnv loads the given dotenv files (missing ones are skipped; existing
// process variables win over file values) and then applies every KYC_*
// variable that is set. Malformed numbers or durations panic, matching the
// other config layers.
func parseEnv(config *Config, envFiles ...string) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			panic(err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(err)
			}
			*dst = d
		}
	}
	num := func(name string, dst *int64) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				panic(err)
			}
			*dst = n
		}
	}

	integer := func(name string, dst *int) {
		n := int64(*dst)
		num(name, &n)
		*dst = int(n)
	}

	str("HTTP_ADDR", &config.EndpointAddrHTTP)
	str("GRPC_ADDR", &config.EndpointAddrGRPC)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("SECRET_KEY", &config.SecretKey)
	str("CODE_SECRET", &config.CodeSecret)
	str("S3_ROOT_USER", &config.S3RootUser)
	str("S3_ROOT_PASSWORD", &config.S3RootPassword)
	str("S3_BUCKET", &config.S3Bucket)
	str("S3_REGION", &config.S3Region)
	str("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	str("PROVIDER_BASE_URL", &config.ProviderBaseURL)
	str("PROVIDER_AUTH_URL", &config.ProviderAuthURL)
	str("PROVIDER_TOKEN_URL", &config.ProviderTokenURL)
	str("PROVIDER_CLIENT_ID", &config.ProviderClientID)
	str("PROVIDER_CLIENT_SECRET", &config.ProviderClientSecret)
	str("CALLBACK_URL", &config.CallbackURL)
	dur("SESSION_TTL", &config.SessionTTL)
	dur("REAPER_INTERVAL", &config.ReaperInterval)
	dur("FETCH_TIMEOUT", &config.FetchTimeout)
	dur("DOCUMENT_RETENTION", &config.DocumentRetention)
	dur("PRESIGN_TTL", &config.PresignTTL)
	dur("STATUS_CACHE_TTL", &config.StatusCacheTTL)
	num("MAX_DOCUMENT_SIZE", &config.MaxDocumentSize)
	str("REDIS_ADDR", &config.RedisAddr)
	str("LOG_FORMAT", &config.LogFormat)

	integer("CAS_MAX_ATTEMPTS", &config.CASMaxAttempts)
	integer("REAPER_BATCH_SIZE", &config.ReaperBatchSize)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "fixapp.yaml"

// minProductionSecretLen is the minimum HS256 key length outside development.
const minProductionSecretLen = 32

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("FIXAPP_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	envErrs := loadEnv(&cfg)

	if err := multierror.Append(envErrs, validate(&cfg)).ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config. Values that do not
// parse are collected and leave the field untouched.
func loadEnv(cfg *Config) *multierror.Error {
	e := &envOverlay{}
	e.setString(&cfg.Environment, "NODE_ENV")
	e.setString(&cfg.Environment, "FIXAPP_ENV")
	e.setString(&cfg.Server.Port, "PORT")
	e.setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")

	e.setString(&cfg.Postgres.DSN, "DATABASE_URL")
	e.setInt32(&cfg.Postgres.MaxConns, "FIXAPP_PG_MAX_CONNS")
	e.setInt32(&cfg.Postgres.MinConns, "FIXAPP_PG_MIN_CONNS")
	e.setDuration(&cfg.Postgres.MaxConnLifetime, "FIXAPP_PG_MAX_CONN_LIFETIME")
	e.setDuration(&cfg.Postgres.MaxConnIdleTime, "FIXAPP_PG_MAX_CONN_IDLE_TIME")
	e.setDuration(&cfg.Postgres.HealthCheck, "FIXAPP_PG_HEALTH_CHECK")

	e.setString(&cfg.NATS.URL, "NATS_URL")
	e.setString(&cfg.NATS.Stream, "FIXAPP_NATS_STREAM")
	e.setString(&cfg.NATS.TenantBucket, "FIXAPP_NATS_TENANT_BUCKET")
	e.setString(&cfg.NATS.PresenceBucket, "FIXAPP_NATS_PRESENCE_BUCKET")

	e.setString(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")

	e.setString(&cfg.Cache.Backend, "FIXAPP_CACHE_BACKEND")
	e.setInt64(&cfg.Cache.L1MaxSizeMB, "FIXAPP_CACHE_L1_SIZE_MB")
	e.setDuration(&cfg.Cache.L1TTL, "FIXAPP_CACHE_L1_TTL")

	e.setString(&cfg.Tenancy.DefaultSubdomain, "DEFAULT_TENANT_SUBDOMAIN")
	e.setString(&cfg.Tenancy.Header, "FIXAPP_TENANT_HEADER")
	e.setDuration(&cfg.Tenancy.CacheTTL, "FIXAPP_TENANT_CACHE_TTL")

	e.setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	e.setString(&cfg.Auth.Issuer, "FIXAPP_JWT_ISSUER")
	e.setDuration(&cfg.Auth.AccessTokenExpiry, "JWT_ACCESS_EXPIRY")
	e.setDuration(&cfg.Auth.AccessTokenExpiry, "JWT_EXPIRES_IN")
	e.setDuration(&cfg.Auth.RefreshTokenExpiry, "JWT_REFRESH_EXPIRES_IN")
	e.setInt(&cfg.Auth.BcryptCost, "FIXAPP_BCRYPT_COST")
	e.setDuration(&cfg.Auth.CleanupInterval, "FIXAPP_TOKEN_CLEANUP_INTERVAL")

	e.setDuration(&cfg.Realtime.LivenessTTL, "FIXAPP_WS_LIVENESS_TTL")
	e.setDuration(&cfg.Realtime.WriteTimeout, "FIXAPP_WS_WRITE_TIMEOUT")
	e.setList(&cfg.Realtime.AllowOrigins, "FIXAPP_WS_ALLOW_ORIGINS")

	e.setBool(&cfg.Rate.Enabled, "RATE_LIMIT_ENABLED")
	e.setInt(&cfg.Rate.AuthenticatedPerHour, "RATE_LIMIT_AUTH_MAX")
	e.setInt(&cfg.Rate.AnonymousPerHour, "RATE_LIMIT_MAX_REQUESTS")
	e.setDuration(&cfg.Rate.CleanupInterval, "FIXAPP_RATE_CLEANUP_INTERVAL")
	e.setDuration(&cfg.Rate.MaxIdleTime, "FIXAPP_RATE_MAX_IDLE_TIME")

	e.setString(&cfg.Storage.Bucket, "AWS_S3_BUCKET")
	e.setString(&cfg.Storage.Region, "AWS_REGION")
	e.setString(&cfg.Storage.Endpoint, "AWS_S3_ENDPOINT")
	e.setString(&cfg.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	e.setString(&cfg.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	e.setDuration(&cfg.Storage.UploadURLTTL, "FIXAPP_UPLOAD_URL_TTL")
	e.setDuration(&cfg.Storage.DownloadURLTTL, "FIXAPP_DOWNLOAD_URL_TTL")

	e.setInt(&cfg.Queue.Attempts, "FIXAPP_QUEUE_ATTEMPTS")
	e.setDuration(&cfg.Queue.Backoff, "FIXAPP_QUEUE_BACKOFF")

	e.setString(&cfg.Logging.Level, "LOG_LEVEL")
	e.setString(&cfg.Logging.Format, "LOG_FORMAT")
	e.setString(&cfg.Logging.Service, "FIXAPP_LOG_SERVICE")

	e.setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	e.setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	e.setBool(&cfg.OTel.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	return e.errs
}

// validate collects every violation instead of stopping at the first one.
func validate(cfg *Config) error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch cfg.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		fail("environment must be one of development, production, test (got %q)", cfg.Environment)
	}
	if cfg.Server.Port == "" {
		fail("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		fail("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		fail("postgres.max_conns must be >= 1")
	}
	if cfg.NATS.URL == "" {
		fail("nats.url is required")
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheNATS:
	case CacheRedis:
		if cfg.Redis.Addr == "" {
			fail("redis.addr is required when cache.backend is redis")
		}
	default:
		fail("cache.backend must be one of memory, nats, redis (got %q)", cfg.Cache.Backend)
	}
	if cfg.Cache.L1MaxSizeMB < 1 {
		fail("cache.l1_max_size_mb must be >= 1")
	}

	if cfg.Tenancy.Header == "" {
		fail("tenancy.header is required")
	}
	if cfg.Tenancy.CacheTTL <= 0 {
		fail("tenancy.cache_ttl must be positive")
	}

	switch {
	case cfg.Auth.JWTSecret == "":
		fail("auth.jwt_secret is required (JWT_SECRET)")
	case cfg.Environment == EnvProduction && len(cfg.Auth.JWTSecret) < minProductionSecretLen:
		fail("auth.jwt_secret must be at least %d bytes in production", minProductionSecretLen)
	}
	if cfg.Auth.AccessTokenExpiry <= 0 {
		fail("auth.access_token_expiry must be positive")
	}
	if cfg.Auth.RefreshTokenExpiry <= cfg.Auth.AccessTokenExpiry {
		fail("auth.refresh_token_expiry must exceed auth.access_token_expiry")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		fail("auth.bcrypt_cost must be within [4, 31]")
	}

	if cfg.Realtime.LivenessTTL <= 0 {
		fail("realtime.liveness_ttl must be positive")
	}
	if cfg.Rate.Enabled && (cfg.Rate.AuthenticatedPerHour < 1 || cfg.Rate.AnonymousPerHour < 1) {
		fail("rate limits must be >= 1 when rate limiting is enabled")
	}
	if cfg.Storage.Bucket == "" {
		fail("storage.bucket is required")
	}
	if cfg.Storage.UploadURLTTL <= 0 || cfg.Storage.DownloadURLTTL <= 0 {
		fail("storage url ttls must be positive")
	}
	if cfg.Queue.Attempts < 1 {
		fail("queue.attempts must be >= 1")
	}

	return result.ErrorOrNil()
}

// envOverlay applies environment values and records the malformed ones.
type envOverlay struct {
	errs *multierror.Error
}

func (e *envOverlay) invalid(key, value string, err error) {
	e.errs = multierror.Append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *envOverlay) setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envOverlay) setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func (e *envOverlay) setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverlay) setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = int32(n)
	}
}

func (e *envOverlay) setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverlay) setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envOverlay) setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			e.invalid(key, v, err)
			return
		}
		*dst = d
	}
}

// parseDuration accepts Go durations plus a whole-day form such as "7d".
func parseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

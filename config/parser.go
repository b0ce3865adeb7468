package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// parse builds the configuration in three layers: DefaultConfig, the
// optional YAML file named by CONFIG_FILE, then environment variables.
func parse() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.applyDefaults()

	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Keys absent from the file keep
// their current values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with any environment variable that is set
func applyEnv(cfg *Config) {
	// Core
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.Version = getEnv("SERVICE_VERSION", cfg.Version)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	// HTTP session
	cfg.HTTP.Timeout = getDuration("HTTP_TIMEOUT", cfg.HTTP.Timeout)
	cfg.HTTP.ResponseHeaderTimeout = getDuration("HTTP_RESPONSE_HEADER_TIMEOUT", cfg.HTTP.ResponseHeaderTimeout)
	cfg.HTTP.TLSHandshakeTimeout = getDuration("HTTP_TLS_HANDSHAKE_TIMEOUT", cfg.HTTP.TLSHandshakeTimeout)
	cfg.HTTP.IdleConnTimeout = getDuration("HTTP_IDLE_CONN_TIMEOUT", cfg.HTTP.IdleConnTimeout)
	cfg.HTTP.MaxIdleConnsPerHost = getInt("HTTP_MAX_IDLE_CONNS_PER_HOST", cfg.HTTP.MaxIdleConnsPerHost)
	cfg.HTTP.MaxResponseBytes = getInt64("HTTP_MAX_RESPONSE_BYTES", cfg.HTTP.MaxResponseBytes)
	cfg.HTTP.UserAgent = getEnv("HTTP_USER_AGENT", cfg.HTTP.UserAgent)
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	// TLS
	cfg.TLS.Pins = getPins("TLS_PINS", cfg.TLS.Pins)
	cfg.TLS.InsecureSkipVerify = getBool("TLS_INSECURE_SKIP_VERIFY", cfg.TLS.InsecureSkipVerify)
	cfg.TLS.CAFile = getEnv("TLS_CA_FILE", cfg.TLS.CAFile)
	cfg.TLS.ClientCertFile = getEnv("TLS_CLIENT_CERT_FILE", cfg.TLS.ClientCertFile)
	cfg.TLS.ClientKeyFile = getEnv("TLS_CLIENT_KEY_FILE", cfg.TLS.ClientKeyFile)
	cfg.TLS.MinVersion = getEnv("TLS_MIN_VERSION", cfg.TLS.MinVersion)

	// Queue
	cfg.Queue.MaxConcurrent = getInt("QUEUE_MAX_CONCURRENT", cfg.Queue.MaxConcurrent)
	cfg.Queue.DefaultQoS = getEnv("QUEUE_DEFAULT_QOS", cfg.Queue.DefaultQoS)
	cfg.Queue.HostRPS = getFloat64("QUEUE_HOST_RPS", cfg.Queue.HostRPS)
	cfg.Queue.HostBurst = getInt("QUEUE_HOST_BURST", cfg.Queue.HostBurst)

	// Handler
	cfg.Handler.Timeout = getDuration("HANDLER_TIMEOUT", cfg.Handler.Timeout)
	cfg.Handler.MaxRequestSize = getInt64("HANDLER_MAX_REQUEST_SIZE", cfg.Handler.MaxRequestSize)
	cfg.Handler.EnableHealth = getBool("HANDLER_ENABLE_HEALTH", cfg.Handler.EnableHealth)
	cfg.Handler.EnableMetrics = getBool("HANDLER_ENABLE_METRICS", cfg.Handler.EnableMetrics)
	cfg.Handler.EnableTracing = getBool("HANDLER_ENABLE_TRACING", cfg.Handler.EnableTracing)
	cfg.Handler.EnableRetry = getBool("HANDLER_ENABLE_RETRY", cfg.Handler.EnableRetry)
	cfg.Handler.Platform = getEnv("HANDLER_PLATFORM", cfg.Handler.Platform)

	// Lambda
	cfg.Lambda.Timeout = getDuration("LAMBDA_TIMEOUT", cfg.Lambda.Timeout)
	cfg.Lambda.EnablePartialBatchFailure = getBool("LAMBDA_PARTIAL_BATCH_FAILURE", cfg.Lambda.EnablePartialBatchFailure)

	// Retry
	cfg.Retry.MaxAttempts = getInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialBackoff = getDuration("RETRY_INITIAL_BACKOFF", cfg.Retry.InitialBackoff)
	cfg.Retry.MaxBackoff = getDuration("RETRY_MAX_BACKOFF", cfg.Retry.MaxBackoff)
	cfg.Retry.BackoffMultiplier = getFloat64("RETRY_BACKOFF_MULTIPLIER", cfg.Retry.BackoffMultiplier)

	// Storage
	cfg.Storage.Provider = getEnv("STORAGE_PROVIDER", cfg.Storage.Provider)
	cfg.Storage.BucketOrPath = getEnv("STORAGE_BUCKET_OR_PATH", cfg.Storage.BucketOrPath)
	cfg.Storage.Timeout = getDuration("STORAGE_TIMEOUT", cfg.Storage.Timeout)
	cfg.Storage.S3.Region = getEnv("AWS_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.S3.UsePathStyle = getBool("S3_USE_PATH_STYLE", cfg.Storage.S3.UsePathStyle)

	// Metrics
	cfg.Metrics.Enabled = getBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Metrics.Path = getEnv("METRICS_PATH", cfg.Metrics.Path)
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	Environment string `yaml:"environment"`
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// Component configurations
	HTTP    HTTPConfig    `yaml:"http"`
	TLS     TLSConfig     `yaml:"tls"`
	Queue   QueueConfig   `yaml:"queue"`
	Handler HandlerConfig `yaml:"handler"`
	Lambda  LambdaConfig  `yaml:"lambda"`
	Retry   RetryConfig   `yaml:"retry"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HTTPConfig holds the outbound session settings and the server address
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxResponseBytes      int64         `yaml:"max_response_bytes"` // 0 = unbounded
	UserAgent             string        `yaml:"user_agent"`
	Addr                  string        `yaml:"addr"` // Server address for HTTP mode
}

// TLSConfig selects the server trust policy and client credentials
type TLSConfig struct {
	// Pins maps host to base64 SHA-256 SPKI hashes.
	Pins               map[string][]string `yaml:"pins"`
	InsecureSkipVerify bool                `yaml:"insecure_skip_verify"`
	CAFile             string              `yaml:"ca_file"`
	ClientCertFile     string              `yaml:"client_cert_file"`
	ClientKeyFile      string              `yaml:"client_key_file"`
	MinVersion         string              `yaml:"min_version"` // "1.2" or "1.3"
}

// QueueConfig holds work queue settings
type QueueConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	DefaultQoS    string `yaml:"default_qos"`

	// HostRPS limits fetch starts per host; 0 disables the limit.
	HostRPS   float64 `yaml:"host_rps"`
	HostBurst int     `yaml:"host_burst"`
}

// HandlerConfig holds handler configuration
type HandlerConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	EnableHealth   bool          `yaml:"enable_health"`
	EnableMetrics  bool          `yaml:"enable_metrics"`
	EnableTracing  bool          `yaml:"enable_tracing"`
	EnableRetry    bool          `yaml:"enable_retry"`
	Platform       string        `yaml:"platform"` // auto-detected if empty
}

// LambdaConfig holds Lambda-specific configuration
type LambdaConfig struct {
	Timeout                   time.Duration `yaml:"timeout"`
	EnablePartialBatchFailure bool          `yaml:"enable_partial_batch_failure"`
}

// RetryConfig holds retry policy configuration
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// StorageConfig holds archive storage configuration
type StorageConfig struct {
	Provider     string        `yaml:"provider"` // "s3", "fs" or "none"
	BucketOrPath string        `yaml:"bucket_or_path"`
	Timeout      time.Duration `yaml:"timeout"`
	S3           S3Config      `yaml:"s3"`
}

// S3Config holds S3 client settings. Endpoint is only set for LocalStack/MinIO.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

var (
	validQoS              = []string{"background", "utility", "default", "user-initiated", "user-interactive"}
	validStorageProviders = []string{"s3", "fs", "none"}
	validTLSVersions      = []string{"1.2", "1.3"}
)

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	// Core validations
	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}

	// Production-specific validations
	if c.IsProduction() {
		if c.TLS.InsecureSkipVerify {
			errors = append(errors, "TLS_INSECURE_SKIP_VERIFY is not allowed in production")
		}
		if c.Storage.Provider == "s3" && c.Storage.BucketOrPath == "" {
			errors = append(errors, "STORAGE_BUCKET_OR_PATH is required in production")
		}
	}

	// Range validations
	if c.HTTP.Timeout <= 0 {
		errors = append(errors, "HTTP_TIMEOUT must be positive")
	}
	if c.HTTP.ResponseHeaderTimeout < 0 {
		errors = append(errors, "HTTP_RESPONSE_HEADER_TIMEOUT cannot be negative")
	}
	if c.HTTP.TLSHandshakeTimeout < 0 {
		errors = append(errors, "HTTP_TLS_HANDSHAKE_TIMEOUT cannot be negative")
	}
	if c.HTTP.MaxResponseBytes < 0 {
		errors = append(errors, "HTTP_MAX_RESPONSE_BYTES cannot be negative")
	}
	if c.Handler.Timeout <= 0 {
		errors = append(errors, "HANDLER_TIMEOUT must be positive")
	}
	if c.Handler.MaxRequestSize <= 0 {
		errors = append(errors, "HANDLER_MAX_REQUEST_SIZE must be positive")
	}
	if c.Queue.MaxConcurrent < 1 {
		errors = append(errors, "QUEUE_MAX_CONCURRENT must be at least 1")
	}
	if c.Queue.HostRPS < 0 || c.Queue.HostBurst < 0 {
		errors = append(errors, "QUEUE_HOST_RPS and QUEUE_HOST_BURST cannot be negative")
	}
	if !contains(validQoS, c.Queue.DefaultQoS) {
		errors = append(errors, fmt.Sprintf("QUEUE_DEFAULT_QOS must be one of %s", strings.Join(validQoS, ", ")))
	}
	if c.Retry.MaxAttempts < 0 {
		errors = append(errors, "RETRY_MAX_ATTEMPTS cannot be negative")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		errors = append(errors, "RETRY_BACKOFF_MULTIPLIER must be >= 1.0")
	}
	if !contains(validStorageProviders, c.Storage.Provider) {
		errors = append(errors, fmt.Sprintf("STORAGE_PROVIDER must be one of %s", strings.Join(validStorageProviders, ", ")))
	}
	if c.TLS.MinVersion != "" && !contains(validTLSVersions, c.TLS.MinVersion) {
		errors = append(errors, "TLS_MIN_VERSION must be 1.2 or 1.3")
	}
	if (c.TLS.ClientCertFile == "") != (c.TLS.ClientKeyFile == "") {
		errors = append(errors, "TLS_CLIENT_CERT_FILE and TLS_CLIENT_KEY_FILE must be set together")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errors = append(errors, "METRICS_ADDR is required when metrics are enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// applyDefaults applies environment-specific defaults
func (c *Config) applyDefaults() {
	env := strings.ToLower(c.Environment)

	if c.Storage.BucketOrPath == "" {
		switch c.Storage.Provider {
		case "s3":
			c.Storage.BucketOrPath = fmt.Sprintf("netfetch-%s-archive", env)
		case "fs":
			c.Storage.BucketOrPath = "./data/archive"
		}
	}

	if c.IsProduction() {
		if c.Handler.Timeout < 60*time.Second {
			c.Handler.Timeout = 60 * time.Second
		}
		c.Handler.EnableMetrics = true
		c.Handler.EnableTracing = true
	}

	if c.IsLocal() {
		c.Handler.EnableTracing = false
		if c.LogFormat == "" {
			c.LogFormat = "console"
		}
	}

	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// IsLocal returns true if running in local/development environment
func (c *Config) IsLocal() bool {
	env := strings.ToLower(c.Environment)
	return env == "local" || env == "development" || env == "dev"
}

// IsStaging returns true if running in staging environment
func (c *Config) IsStaging() bool {
	env := strings.ToLower(c.Environment)
	return env == "staging" || env == "stage"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// IsTest returns true if running in test environment
func (c *Config) IsTest() bool {
	env := strings.ToLower(c.Environment)
	return env == "test" || env == "testing"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

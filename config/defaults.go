package config

import "time"

// DefaultHTTPConfig returns the outbound session defaults
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:               60 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
		MaxResponseBytes:      50 * 1024 * 1024, // 50MB
		UserAgent:             "netfetch/1.0",
		Addr:                  ":8080",
	}
}

// DefaultTLSConfig verifies against the system roots
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{
		MinVersion: "1.2",
	}
}

// DefaultQueueConfig returns sensible defaults for the work queue
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent: 8,
		DefaultQoS:    "default",
	}
}

// DefaultHandlerConfig returns sensible defaults for handler configuration
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Timeout:        30 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableHealth:   true,
		EnableMetrics:  true,
		EnableTracing:  true,
		EnableRetry:    true,
		Platform:       "", // Auto-detect
	}
}

// DefaultLambdaConfig returns sensible defaults for Lambda configuration
func DefaultLambdaConfig() LambdaConfig {
	return LambdaConfig{
		Timeout:                   180 * time.Second,
		EnablePartialBatchFailure: true,
	}
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DefaultStorageConfig disables archiving
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Provider: "none",
		Timeout:  30 * time.Second,
		S3: S3Config{
			Region: "us-east-2",
		},
	}
}

// DefaultMetricsConfig returns sensible defaults for the metrics endpoint
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Addr:    ":9090",
		Path:    "/metrics",
	}
}

// DefaultConfig returns a complete configuration with sensible defaults.
// Environment variables and the YAML file are layered on top of it.
func DefaultConfig() *Config {
	return &Config{
		Environment: "local",
		ServiceName: "netfetch",
		Version:     "1.0.0",
		LogLevel:    "info",

		HTTP:    DefaultHTTPConfig(),
		TLS:     DefaultTLSConfig(),
		Queue:   DefaultQueueConfig(),
		Handler: DefaultHandlerConfig(),
		Lambda:  DefaultLambdaConfig(),
		Retry:   DefaultRetryConfig(),
		Storage: DefaultStorageConfig(),
		Metrics: DefaultMetricsConfig(),
	}
}

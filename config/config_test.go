package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable parse reads; getEnv treats "" as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "ENVIRONMENT", "ENV", "SERVICE_NAME", "SERVICE_VERSION", "LOG_LEVEL", "LOG_FORMAT",
		"HTTP_TIMEOUT", "HTTP_RESPONSE_HEADER_TIMEOUT", "HTTP_TLS_HANDSHAKE_TIMEOUT", "HTTP_IDLE_CONN_TIMEOUT",
		"HTTP_MAX_IDLE_CONNS_PER_HOST", "HTTP_MAX_RESPONSE_BYTES", "HTTP_USER_AGENT", "HTTP_ADDR",
		"TLS_PINS", "TLS_INSECURE_SKIP_VERIFY", "TLS_CA_FILE", "TLS_CLIENT_CERT_FILE", "TLS_CLIENT_KEY_FILE",
		"TLS_MIN_VERSION", "QUEUE_MAX_CONCURRENT", "QUEUE_DEFAULT_QOS", "QUEUE_HOST_RPS", "QUEUE_HOST_BURST",
		"HANDLER_TIMEOUT", "HANDLER_MAX_REQUEST_SIZE", "HANDLER_ENABLE_HEALTH", "HANDLER_ENABLE_METRICS",
		"HANDLER_ENABLE_TRACING", "HANDLER_ENABLE_RETRY", "HANDLER_PLATFORM",
		"LAMBDA_TIMEOUT", "LAMBDA_PARTIAL_BATCH_FAILURE",
		"RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_BACKOFF", "RETRY_MAX_BACKOFF", "RETRY_BACKOFF_MULTIPLIER",
		"STORAGE_PROVIDER", "STORAGE_BUCKET_OR_PATH", "STORAGE_TIMEOUT",
		"AWS_REGION", "S3_ENDPOINT", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "S3_USE_PATH_STYLE",
		"METRICS_ENABLED", "METRICS_ADDR", "METRICS_PATH",
	} {
		t.Setenv(key, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := parse()

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "netfetch", cfg.ServiceName)
	assert.Equal(t, "console", cfg.LogFormat, "local environment logs to the console")
	assert.Equal(t, 60*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(50*1024*1024), cfg.HTTP.MaxResponseBytes)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "default", cfg.Queue.DefaultQoS)
	assert.Equal(t, "none", cfg.Storage.Provider)
	assert.Equal(t, "1.2", cfg.TLS.MinVersion)
	assert.False(t, cfg.Handler.EnableTracing)
	assert.NoError(t, cfg.Validate())
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("HTTP_MAX_RESPONSE_BYTES", "1024")
	t.Setenv("QUEUE_MAX_CONCURRENT", "2")
	t.Setenv("QUEUE_DEFAULT_QOS", "utility")
	t.Setenv("QUEUE_HOST_RPS", "2.5")
	t.Setenv("QUEUE_HOST_BURST", "4")
	t.Setenv("TLS_PINS", "api.example.com=pinA,pinB; Other.example.com = pinC ;broken")
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("RETRY_BACKOFF_MULTIPLIER", "1.5")
	t.Setenv("HANDLER_ENABLE_RETRY", "false")

	cfg, err := parse()

	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(1024), cfg.HTTP.MaxResponseBytes)
	assert.Equal(t, 2, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "utility", cfg.Queue.DefaultQoS)
	assert.Equal(t, 2.5, cfg.Queue.HostRPS)
	assert.Equal(t, 4, cfg.Queue.HostBurst)
	assert.Equal(t, map[string][]string{
		"api.example.com":   {"pinA", "pinB"},
		"other.example.com": {"pinC"},
	}, cfg.TLS.Pins)
	assert.Equal(t, "netfetch-staging-archive", cfg.Storage.BucketOrPath)
	assert.Equal(t, 1.5, cfg.Retry.BackoffMultiplier)
	assert.False(t, cfg.Handler.EnableRetry)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestParse_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "soon")
	t.Setenv("QUEUE_MAX_CONCURRENT", "many")
	t.Setenv("TLS_INSECURE_SKIP_VERIFY", "maybe")

	cfg, err := parse()

	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrent)
	assert.False(t, cfg.TLS.InsecureSkipVerify)
}

func TestParse_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "netfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service_name: fetcher
http:
  timeout: 15s
  user_agent: fetcher/2.0
tls:
  pins:
    api.example.com: ["pinA"]
queue:
  max_concurrent: 3
storage:
  provider: fs
  bucket_or_path: /var/lib/netfetch
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_USER_AGENT", "env-wins/1.0")

	cfg, err := parse()

	require.NoError(t, err)
	assert.Equal(t, "fetcher", cfg.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "env-wins/1.0", cfg.HTTP.UserAgent)
	assert.Equal(t, []string{"pinA"}, cfg.TLS.Pins["api.example.com"])
	assert.Equal(t, 3, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "fs", cfg.Storage.Provider)
	assert.Equal(t, "/var/lib/netfetch", cfg.Storage.BucketOrPath)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.HTTP.TLSHandshakeTimeout)
}

func TestParse_YAMLFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := parse()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("http: [unclosed"), 0o600))
		t.Setenv("CONFIG_FILE", path)

		_, err := parse()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode config file")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, "SERVICE_NAME is required"},
		{"zero http timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "HTTP_TIMEOUT must be positive"},
		{"negative max response", func(c *Config) { c.HTTP.MaxResponseBytes = -1 }, "HTTP_MAX_RESPONSE_BYTES cannot be negative"},
		{"no workers", func(c *Config) { c.Queue.MaxConcurrent = 0 }, "QUEUE_MAX_CONCURRENT must be at least 1"},
		{"unknown qos", func(c *Config) { c.Queue.DefaultQoS = "urgent" }, "QUEUE_DEFAULT_QOS must be one of"},
		{"negative host rate", func(c *Config) { c.Queue.HostRPS = -1 }, "QUEUE_HOST_RPS and QUEUE_HOST_BURST cannot be negative"},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "gcs" }, "STORAGE_PROVIDER must be one of"},
		{"bad tls version", func(c *Config) { c.TLS.MinVersion = "1.0" }, "TLS_MIN_VERSION must be 1.2 or 1.3"},
		{"cert without key", func(c *Config) { c.TLS.ClientCertFile = "client.pem" }, "must be set together"},
		{"multiplier below one", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, "RETRY_BACKOFF_MULTIPLIER"},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }, "METRICS_ADDR is required"},
		{
			"insecure in production",
			func(c *Config) { c.Environment = "production"; c.TLS.InsecureSkipVerify = true },
			"TLS_INSECURE_SKIP_VERIFY is not allowed in production",
		},
		{
			"s3 without bucket in production",
			func(c *Config) { c.Environment = "prod"; c.Storage.Provider = "s3" },
			"STORAGE_BUCKET_OR_PATH is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = ""
	cfg.Queue.MaxConcurrent = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVICE_NAME is required")
	assert.Contains(t, err.Error(), "QUEUE_MAX_CONCURRENT must be at least 1")
}

func TestConfig_ApplyDefaultsProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Handler.Timeout = 5 * time.Second
	cfg.Handler.EnableMetrics = false

	cfg.applyDefaults()

	assert.Equal(t, 60*time.Second, cfg.Handler.Timeout)
	assert.True(t, cfg.Handler.EnableMetrics)
	assert.True(t, cfg.Handler.EnableTracing)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestConfig_EnvironmentDetection(t *testing.T) {
	tests := []struct {
		env                              string
		local, staging, production, test bool
	}{
		{"local", true, false, false, false},
		{"dev", true, false, false, false},
		{"Stage", false, true, false, false},
		{"PROD", false, false, true, false},
		{"testing", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			assert.Equal(t, tt.local, cfg.IsLocal())
			assert.Equal(t, tt.staging, cfg.IsStaging())
			assert.Equal(t, tt.production, cfg.IsProduction())
			assert.Equal(t, tt.test, cfg.IsTest())
		})
	}
}

func TestProvider_LoadAndGet(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	p := &Provider{}
	_, err := p.Get()
	assert.Error(t, err)
	assert.Panics(t, func() { p.MustGet() })

	require.NoError(t, p.Load())
	assert.True(t, p.IsLoaded())

	cfg := p.MustGet()
	assert.Equal(t, "netfetch", cfg.ServiceName)

	// second Load keeps the first result
	t.Setenv("SERVICE_NAME", "changed")
	require.NoError(t, p.Load())
	assert.Equal(t, "netfetch", p.MustGet().ServiceName)

	require.NoError(t, p.Reload())
	assert.Equal(t, "changed", p.MustGet().ServiceName)

	p.Reset()
	assert.False(t, p.IsLoaded())
}

func TestProvider_LoadInvalid(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("QUEUE_MAX_CONCURRENT", "0")

	p := &Provider{}
	err := p.Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.False(t, p.IsLoaded())
	assert.Panics(t, func() { (&Provider{}).MustLoad() })
}

func TestProvider_LoadsEnvFiles(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("SERVICE_NAME", "from-process")

	require.NoError(t, os.WriteFile(".env", []byte("NETFETCH_TEST_DOTENV=base\n"), 0o600))
	require.NoError(t, os.WriteFile(".env.local", []byte("SERVICE_NAME=from-local\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("NETFETCH_TEST_DOTENV") })

	p := &Provider{}
	require.NoError(t, p.Load())

	assert.Equal(t, "base", os.Getenv("NETFETCH_TEST_DOTENV"))
	assert.Equal(t, "from-local", p.MustGet().ServiceName)
}

func TestGetProvider_Singleton(t *testing.T) {
	assert.Same(t, GetProvider(), GetProvider())
}

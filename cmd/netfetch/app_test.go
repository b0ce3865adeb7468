package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netfetch/config"
	"netfetch/handler"
	"netfetch/internal/trust"
	"netfetch/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	storage.GetProvider().Reset()
	t.Cleanup(storage.GetProvider().Reset)

	cfg := config.DefaultConfig()
	cfg.Environment = "test"
	cfg.LogLevel = "error"
	cfg.Retry.MaxAttempts = 0
	cfg.Metrics.Enabled = false
	return cfg
}

func TestTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), tlsVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), tlsVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), tlsVersion(""))
}

func TestSessionConfig(t *testing.T) {
	t.Run("from http and tls settings", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.HTTP.Timeout = 5 * time.Second
		cfg.HTTP.MaxResponseBytes = 1024
		cfg.HTTP.UserAgent = "probe/2"
		cfg.TLS.MinVersion = "1.3"

		session, err := sessionConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, session.Timeout)
		assert.Equal(t, int64(1024), session.MaxResponseBytes)
		assert.Equal(t, "probe/2", session.UserAgent)
		assert.Equal(t, uint16(tls.VersionTLS13), session.TLSMinVersion)
		assert.IsType(t, trust.System{}, session.TrustPolicy)
		assert.Empty(t, session.ClientCertificates)
	})

	t.Run("pins select the pinned policy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TLS.Pins = map[string][]string{"API.example.com": {"AAAA"}}

		session, err := sessionConfig(cfg)
		require.NoError(t, err)
		pinned, ok := session.TrustPolicy.(trust.Pinned)
		require.True(t, ok)
		assert.Contains(t, pinned.Pins, "api.example.com")
	})

	t.Run("insecure refused in production", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Environment = "production"
		cfg.TLS.InsecureSkipVerify = true

		_, err := sessionConfig(cfg)
		assert.Error(t, err)
	})

	t.Run("missing client certificate", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TLS.ClientCertFile = filepath.Join(t.TempDir(), "missing.crt")
		cfg.TLS.ClientKeyFile = filepath.Join(t.TempDir(), "missing.key")

		_, err := sessionConfig(cfg)
		assert.ErrorContains(t, err, "load client certificate")
	})
}

func TestGetOptions_Payload(t *testing.T) {
	opts := &getOptions{
		method:  "post",
		headers: []string{"Accept: application/json", "X-Trace:abc "},
		data:    `{"a":1}`,
	}

	p, err := opts.payload("https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Trace": "abc"}, p.Headers)
	assert.Equal(t, []byte(`{"a":1}`), p.Body)
	assert.Equal(t, "post", p.Method)

	_, err = (&getOptions{headers: []string{"no-colon"}}).payload("https://api.example.com")
	assert.Error(t, err)

	p, err = (&getOptions{}).payload("https://api.example.com")
	require.NoError(t, err)
	assert.Nil(t, p.Body)
}

func TestRunGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Probe"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello from upstream"))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	err := runGet(context.Background(), testConfig(t), srv.URL+"/greeting", &getOptions{
		method:  "GET",
		headers: []string{"X-Probe: yes"},
	}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "hello from upstream", stdout.String())
	assert.Contains(t, stderr.String(), "200 OK")
}

func TestRunGet_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	err := runGet(context.Background(), testConfig(t), srv.URL, &getOptions{method: "GET", asJSON: true}, &stdout, &stderr)
	require.NoError(t, err)

	var resp handler.Response
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.True(t, resp.Success)

	var data struct {
		StatusCode int    `json:"status_code"`
		Body       []byte `json:"body"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, http.StatusTeapot, data.StatusCode)
	assert.Equal(t, "short and stout", string(data.Body))
}

func TestRunGet_EmptyBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	err := runGet(context.Background(), testConfig(t), srv.URL, &getOptions{method: "GET"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), handler.CodeNoData)
	assert.Empty(t, stdout.String())

	err = runGet(context.Background(), testConfig(t), srv.URL, &getOptions{method: "GET", allowEmpty: true}, &stdout, &stderr)
	assert.NoError(t, err)
}

func TestRunGet_ArchiveToFilesystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	base := t.TempDir()
	cfg := testConfig(t)
	cfg.Storage.Provider = "fs"
	cfg.Storage.BucketOrPath = base

	out := filepath.Join(t.TempDir(), "body.json")
	var stdout, stderr bytes.Buffer
	err := runGet(context.Background(), cfg, srv.URL+"/data", &getOptions{
		method:     "GET",
		archiveKey: "manual/data.json",
		output:     out,
	}, &stdout, &stderr)
	require.NoError(t, err)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(written))

	archived, err := os.ReadFile(filepath.Join(base, "manual", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(archived))
	assert.Contains(t, stderr.String(), "archived as manual/data.json")
}

func TestApplication_ServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Handler.Platform = handler.PlatformHTTP

	app, err := buildApplication(context.Background(), cfg, io.Discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"fetch.unit", "fetch_unit"},
		{"handler", "handler"},
		{"client-http", "client_http"},
		{"9lives", "_9lives"},
		{"", "netfetch"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeName(tt.input))
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m := New("fetch.unit", reg)

	assert.NotNil(t, m)
	assert.Equal(t, "fetch_unit", m.Prefix())
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New("dup", reg)

	assert.Panics(t, func() { New("dup", reg) })
}

func TestPrometheusMetrics_RecordSuccess(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordSuccess("fetch")
	m.RecordSuccess("fetch")
	m.RecordSuccess("archive")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.processedTotal.WithLabelValues("success", "fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processedTotal.WithLabelValues("success", "archive")))
}

func TestPrometheusMetrics_RecordError(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordError("fetch", "transport-error")
	m.RecordError("fetch", "transport-error")
	m.RecordError("fetch", "no-data")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.processedTotal.WithLabelValues("error", "fetch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("transport-error", "fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("no-data", "fetch")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.RecordDuration("fetch", 0.25)
	m.RecordDuration("fetch", 1.5)
	m.RecordFileSize("text/html", 2048)

	m.RecordDuration("archive", 0.1)

	// one series per label value
	assert.Equal(t, 2, testutil.CollectAndCount(m.durationSeconds, "test_duration_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.fileSizeBytes, "test_file_size_bytes"))

	count, err := testutil.GatherAndCount(reg, "test_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusMetrics_InProgress(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.StartOperation("fetch")
	m.StartOperation("fetch")
	m.EndOperation("fetch")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.inProgress.WithLabelValues("fetch")))
}

package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterByAttr(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordAnswerCountsByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnswer(ctx, 120*time.Millisecond, nil)
	m.RecordAnswer(ctx, 2*time.Second, errors.New("timeout"))
	m.RecordAnswer(ctx, 300*time.Millisecond, nil)

	rm := collect(t, reader)
	requests := findMetric(rm, "nori.answer.requests")
	require.NotNil(t, requests)
	assert.Equal(t, int64(2), counterByAttr(t, requests, "status", StatusOK))
	assert.Equal(t, int64(1), counterByAttr(t, requests, "status", StatusError))

	duration := findMetric(rm, "nori.answer.duration")
	require.NotNil(t, duration)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRecordCaptureSessionAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureSession(ctx, "live", "ended")
	m.RecordCaptureSession(ctx, "record_upload", "transcribed")
	m.RecordCaptureSession(ctx, "live", "recognition_failed")

	rm := collect(t, reader)
	sessions := findMetric(rm, "nori.capture.sessions")
	require.NotNil(t, sessions)
	assert.Equal(t, int64(2), counterByAttr(t, sessions, "strategy", "live"))
	assert.Equal(t, int64(1), counterByAttr(t, sessions, "outcome", "transcribed"))
}

func TestRecordFeedbackAndTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFeedback(ctx, errors.New("offline"))
	m.RecordTranscription(ctx, time.Second, nil)

	rm := collect(t, reader)
	feedback := findMetric(rm, "nori.feedback.deliveries")
	require.NotNil(t, feedback)
	assert.Equal(t, int64(1), counterByAttr(t, feedback, "status", StatusError))

	transcriptions := findMetric(rm, "nori.transcription.requests")
	require.NotNil(t, transcriptions)
	assert.Equal(t, int64(1), counterByAttr(t, transcriptions, "status", StatusOK))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	m.RecordAnswer(ctx, time.Second, nil)
	m.RecordTranscription(ctx, time.Second, nil)
	m.RecordCaptureSession(ctx, "live", "ended")
	m.RecordFeedback(ctx, nil)
}

func TestInitProviderServesScrapeEndpoint(t *testing.T) {
	provider, err := InitProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	provider.Metrics.RecordCaptureSession(context.Background(), "live", "ended")

	rec := httptest.NewRecorder()
	provider.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nori_capture_sessions")
}

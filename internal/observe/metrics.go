// Package observe holds the OpenTelemetry instruments recorded by the widget
// backend. A nil *Metrics is valid and records nothing.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "nori"

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all metric instruments.
type Metrics struct {
	AnswerDuration        metric.Float64Histogram
	AnswerRequests        metric.Int64Counter
	TranscriptionDuration metric.Float64Histogram
	TranscriptionRequests metric.Int64Counter
	CaptureSessions       metric.Int64Counter
	FeedbackDeliveries    metric.Int64Counter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnswerDuration, err = m.Float64Histogram("nori.answer.duration",
		metric.WithDescription("Latency of answer service requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnswerRequests, err = m.Int64Counter("nori.answer.requests",
		metric.WithDescription("Answer service requests by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("nori.transcription.duration",
		metric.WithDescription("Latency of recorded clip transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRequests, err = m.Int64Counter("nori.transcription.requests",
		metric.WithDescription("Transcription uploads by status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSessions, err = m.Int64Counter("nori.capture.sessions",
		metric.WithDescription("Finished voice capture sessions by strategy and outcome."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackDeliveries, err = m.Int64Counter("nori.feedback.deliveries",
		metric.WithDescription("Feedback deliveries by status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordAnswer(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := statusOf(err)
	m.AnswerDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.AnswerRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordTranscription(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := statusOf(err)
	m.TranscriptionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.TranscriptionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCaptureSession counts a finished capture session. outcome is the
// capture reason it ended with.
func (m *Metrics) RecordCaptureSession(ctx context.Context, strategy, outcome string) {
	if m == nil {
		return
	}
	m.CaptureSessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordFeedback(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.FeedbackDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(err))))
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

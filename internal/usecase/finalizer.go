package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nori/internal/domain"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
)

// uploadFinalizer turns a finished recording into input text.
type uploadFinalizer struct {
	transcriber ports.Transcriber
	events      ports.EventSink
	logger      *zap.Logger
	metrics     *observe.Metrics
	timeout     time.Duration
}

func newUploadFinalizer(transcriber ports.Transcriber, events ports.EventSink, logger *zap.Logger, metrics *observe.Metrics, timeout time.Duration) uploadFinalizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return uploadFinalizer{
		transcriber: transcriber,
		events:      events,
		logger:      logging.OrNop(logger),
		metrics:     metrics,
		timeout:     timeout,
	}
}

// Finalize uploads the clip. The returned text is used as-is.
func (f uploadFinalizer) Finalize(ctx context.Context, clip domain.AudioClip) (string, domain.CaptureReason, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	started := time.Now()
	text, err := f.transcriber.Transcribe(ctx, clip)
	f.metrics.RecordTranscription(ctx, time.Since(started), err)
	if err != nil {
		f.logger.Warn("transcription failed",
			zap.String("kind", string(domain.ErrorCodeTranscription)),
			zap.String("file", clip.FileName()),
			zap.Int("bytes", len(clip.Data)),
			zap.Error(err),
		)
		f.events.SessionError(domain.ErrorCodeTranscription, "could not transcribe the recording")
		return "", domain.CaptureReasonTranscriptionFailed, err
	}

	return text, domain.CaptureReasonTranscribed, nil
}

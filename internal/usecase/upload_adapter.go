package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nori/internal/domain"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
)

// UploadConfig controls record-then-upload captures.
type UploadConfig struct {
	Audio ports.AudioConfig
	// Formats are tried in order; the first one the microphone supports wins.
	Formats   []domain.AudioFormat
	ChunkSize int
	Timeout   time.Duration
}

// uploadAdapter records a whole clip and sends it for transcription once
// the user stops.
type uploadAdapter struct {
	mic       ports.Microphone
	capture   ports.AudioCapture
	finalizer uploadFinalizer
	input     *InputField
	events    ports.EventSink
	logger    *zap.Logger
	metrics   *observe.Metrics
	cfg       UploadConfig

	mu         sync.Mutex
	current    *uploadSession
	starting   bool
	lastResult string
}

func newUploadAdapter(deps VoiceDeps, cfg UploadConfig) *uploadAdapter {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	logger := logging.OrNop(deps.Logger).Named("upload")
	return &uploadAdapter{
		mic:       deps.Microphone,
		capture:   deps.Capture,
		finalizer: newUploadFinalizer(deps.Transcriber, deps.Events, logger, deps.Metrics, cfg.Timeout),
		input:     deps.Input,
		events:    deps.Events,
		logger:    logger,
		metrics:   deps.Metrics,
		cfg:       cfg,
	}
}

func (a *uploadAdapter) Start(ctx context.Context) error {
	if err := a.reserve(); err != nil {
		return err
	}

	session, err := a.open(ctx)

	a.mu.Lock()
	a.starting = false
	if err == nil {
		a.current = session
		a.lastResult = ""
	}
	a.mu.Unlock()

	if err != nil {
		return err
	}

	a.events.CaptureStateChanged(domain.CaptureStateCapturing, domain.CaptureReasonRecording)
	go a.run(session)
	return nil
}

func (a *uploadAdapter) reserve() error {
	for {
		a.mu.Lock()
		if a.starting {
			a.mu.Unlock()
			return domain.ErrCaptureActive
		}
		previous := a.current
		if previous == nil {
			a.starting = true
			a.mu.Unlock()
			return nil
		}
		a.mu.Unlock()

		if !previous.discarded.Load() {
			return domain.ErrCaptureActive
		}
		<-previous.done
	}
}

func (a *uploadAdapter) open(ctx context.Context) (*uploadSession, error) {
	if err := a.mic.RequestAccess(ctx); err != nil {
		a.logger.Warn("microphone access denied",
			zap.String("kind", string(domain.ErrorCodePermissionDenied)),
			zap.Error(err),
		)
		a.events.SessionError(domain.ErrorCodePermissionDenied, "microphone access was denied")
		a.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonPermissionDenied)
		if errors.Is(err, domain.ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}

	format, ok := a.selectFormat()
	if !ok {
		a.logger.Warn("no supported recording format", zap.Int("candidates", len(a.cfg.Formats)))
		a.events.SessionError(domain.ErrorCodeUnsupported, "no supported recording format")
		return nil, domain.ErrNoSupportedFormat
	}

	audioCfg := a.cfg.Audio
	audioCfg.Format = format

	sessionCtx, cancel := context.WithCancel(ctx)
	audio, err := a.capture.Start(sessionCtx, audioCfg)
	if err != nil {
		cancel()
		a.logger.Warn("recording start failed",
			zap.String("kind", string(domain.ErrorCodeStartup)),
			zap.String("mime_type", format.MimeType),
			zap.Error(err),
		)
		a.events.SessionError(domain.ErrorCodeStartup, "could not start recording")
		return nil, fmt.Errorf("start recording: %w", err)
	}

	return newUploadSession(cancel, audio, format), nil
}

func (a *uploadAdapter) selectFormat() (domain.AudioFormat, bool) {
	for _, format := range a.cfg.Formats {
		if a.mic.SupportsFormat(format) {
			return format, true
		}
	}
	return domain.AudioFormat{}, false
}

func (a *uploadAdapter) run(s *uploadSession) {
	chunks, readErr := bufferAudioChunks(s.audio, a.cfg.ChunkSize)
	if err := s.audio.Stop(); err != nil {
		a.logger.Debug("audio stop after recording end", zap.Error(err))
	}
	if readErr != nil {
		a.logger.Warn("recording ended with error",
			zap.String("kind", string(domain.ErrorCodeAudioStream)),
			zap.Error(readErr),
		)
	}

	a.mu.Lock()
	discarded := s.discarded.Load()
	if !discarded {
		s.uploadIssued.Store(true)
	}
	a.mu.Unlock()

	if discarded {
		a.finish(s, domain.CaptureStateIdle, domain.CaptureReasonDiscarded, false)
		return
	}

	data := concatChunks(chunks)
	if len(data) == 0 {
		a.finish(s, domain.CaptureStateIdle, domain.CaptureReasonNoAudio, true)
		return
	}

	// The recorder can end on its own, without a stop request.
	if s.finalizing.CompareAndSwap(false, true) {
		a.events.CaptureStateChanged(domain.CaptureStateFinalizing, domain.CaptureReasonTranscribing)
	}

	text, reason, err := a.finalizer.Finalize(context.Background(), domain.AudioClip{Data: data, Format: s.format})
	if err != nil {
		a.finish(s, domain.CaptureStateFailed, reason, true)
		return
	}

	a.mu.Lock()
	a.lastResult = text
	a.mu.Unlock()
	a.input.Set(text)
	a.finish(s, domain.CaptureStateIdle, reason, true)
}

func (a *uploadAdapter) finish(s *uploadSession, state domain.CaptureState, reason domain.CaptureReason, emit bool) {
	s.cancel()
	a.metrics.RecordCaptureSession(context.Background(), string(domain.StrategyRecordUpload), string(reason))
	if emit {
		a.events.CaptureStateChanged(state, reason)
	}

	a.mu.Lock()
	if a.current == s {
		a.current = nil
	}
	a.mu.Unlock()
	close(s.done)
}

// Stop ends recording and starts the upload. Stopping again while the
// upload is running does nothing.
func (a *uploadAdapter) Stop() error {
	s := a.session()
	if s == nil || s.discarded.Load() {
		return domain.ErrNoActiveCapture
	}
	if !s.finalizing.CompareAndSwap(false, true) {
		return nil
	}
	a.events.CaptureStateChanged(domain.CaptureStateFinalizing, domain.CaptureReasonTranscribing)
	go a.stopAudio(s)
	return nil
}

// Cancel discards the recording unless its upload was already issued, in
// which case the upload completes normally.
func (a *uploadAdapter) Cancel() error {
	a.mu.Lock()
	s := a.current
	if s == nil {
		a.mu.Unlock()
		return domain.ErrNoActiveCapture
	}
	if s.uploadIssued.Load() || s.discarded.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonDiscarded)
	if !s.finalizing.Load() {
		go a.stopAudio(s)
	}
	return nil
}

func (a *uploadAdapter) stopAudio(s *uploadSession) {
	if err := s.audio.Stop(); err != nil {
		a.logger.Warn("audio capture did not stop cleanly",
			zap.String("kind", string(domain.ErrorCodeAudioStop)),
			zap.Error(err),
		)
		a.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
}

func (a *uploadAdapter) Active() bool {
	s := a.session()
	return s != nil && !s.discarded.Load()
}

func (a *uploadAdapter) State() domain.CaptureState {
	s := a.session()
	switch {
	case s == nil || s.discarded.Load():
		return domain.CaptureStateIdle
	case s.finalizing.Load():
		return domain.CaptureStateFinalizing
	default:
		return domain.CaptureStateCapturing
	}
}

// DisplayText is the last transcription result; it stays empty until an
// upload completes.
func (a *uploadAdapter) DisplayText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult
}

func (a *uploadAdapter) ResetTranscript() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastResult = ""
}

func (a *uploadAdapter) session() *uploadSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

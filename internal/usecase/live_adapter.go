package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nori/internal/domain"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
)

// LiveConfig controls live recognition captures.
type LiveConfig struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// StreamingGrace bounds how long the provider may keep flushing results
	// after the microphone stops.
	StreamingGrace time.Duration
}

// liveAdapter runs continuous recognition: microphone PCM is streamed to the
// recognizer and every result batch rewrites the input field.
type liveAdapter struct {
	capture    ports.AudioCapture
	recognizer ports.StreamingRecognizer
	corrector  ports.Corrector
	input      *InputField
	events     ports.EventSink
	logger     *zap.Logger
	metrics    *observe.Metrics
	cfg        LiveConfig

	mu          sync.Mutex
	current     *liveSession
	starting    bool
	lastDisplay string
}

func newLiveAdapter(deps VoiceDeps, cfg LiveConfig) *liveAdapter {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StreamingGrace <= 0 {
		cfg.StreamingGrace = 4 * time.Second
	}
	cfg.Streaming.InterimResults = true
	return &liveAdapter{
		capture:    deps.Capture,
		recognizer: deps.Recognizer,
		corrector:  deps.Corrector,
		input:      deps.Input,
		events:     deps.Events,
		logger:     logging.OrNop(deps.Logger).Named("live"),
		metrics:    deps.Metrics,
		cfg:        cfg,
	}
}

func (a *liveAdapter) Start(ctx context.Context) error {
	if err := a.reserve(); err != nil {
		return err
	}

	session, err := a.open(ctx)

	a.mu.Lock()
	a.starting = false
	if err == nil {
		a.current = session
		a.lastDisplay = ""
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("live recognition start failed",
			zap.String("kind", string(domain.ErrorCodeStartup)),
			zap.Error(err),
		)
		a.events.SessionError(domain.ErrorCodeStartup, "could not start speech recognition")
		return fmt.Errorf("start live recognition: %w", err)
	}

	a.events.CaptureStateChanged(domain.CaptureStateCapturing, domain.CaptureReasonListening)
	go a.run(session)
	return nil
}

// reserve claims the adapter for a new session. A session that is still
// winding down after stop is waited for so the device is released first.
func (a *liveAdapter) reserve() error {
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

		if !previous.stopRequested.Load() {
			return domain.ErrCaptureActive
		}
		<-previous.done
	}
}

func (a *liveAdapter) open(ctx context.Context) (*liveSession, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := a.recognizer.StartStreaming(sessionCtx, a.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, err
	}

	audio, err := a.capture.Start(sessionCtx, a.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, err
	}

	return newLiveSession(cancel, audio, stream), nil
}

func (a *liveAdapter) run(s *liveSession) {
	var pumpErr error
	go func() {
		defer close(s.audioDone)
		pumpErr = pumpAudioChunks(s.audio, s.stream, a.cfg.ChunkSize)
	}()
	go func() {
		<-s.audioDone
		_ = s.stream.CloseSend()
		_ = waitForStream(s.stream, a.cfg.StreamingGrace)
	}()

	for batch := range s.stream.Events() {
		a.applyBatch(s, batch)
	}

	streamErr := s.stream.Wait()
	if err := s.audio.Stop(); err != nil {
		a.logger.Debug("audio stop after stream end", zap.Error(err))
	}
	<-s.audioDone

	failure := streamErr
	if failure == nil {
		failure = pumpErr
	}
	a.finish(s, failure)
}

func (a *liveAdapter) applyBatch(s *liveSession, batch domain.RecognitionBatch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.detached.Load() {
		return
	}
	s.accumulator = s.accumulator.apply(batch)
	display := s.accumulator.display(a.corrector)
	a.lastDisplay = display
	a.input.Set(display)
}

func (a *liveAdapter) finish(s *liveSession, failure error) {
	s.cancel()

	state, reason := domain.CaptureStateIdle, domain.CaptureReasonEnded
	outcome := reason
	switch {
	case s.cancelled.Load():
		outcome = domain.CaptureReasonDiscarded
	case failure != nil:
		// The input keeps whatever was recognized before the failure.
		a.logger.Warn("live recognition failed",
			zap.String("kind", string(domain.ErrorCodeRecognition)),
			zap.Error(failure),
		)
		a.events.SessionError(domain.ErrorCodeRecognition, "speech recognition stopped unexpectedly")
		state, reason = domain.CaptureStateFailed, domain.CaptureReasonRecognitionFailed
		outcome = reason
	}
	a.metrics.RecordCaptureSession(context.Background(), string(domain.StrategyLive), string(outcome))
	a.events.CaptureStateChanged(state, reason)

	a.mu.Lock()
	if a.current == s {
		a.current = nil
	}
	a.mu.Unlock()
	close(s.done)
}

// Stop ends listening. The state flips to idle right away while the
// recognizer flushes its last results in the background.
func (a *liveAdapter) Stop() error {
	s := a.session()
	if s == nil || !s.stopRequested.CompareAndSwap(false, true) {
		return domain.ErrNoActiveCapture
	}
	a.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonStopped)
	go a.stopAudio(s)
	return nil
}

// Cancel stops listening and ignores any results still in flight.
func (a *liveAdapter) Cancel() error {
	s := a.session()
	if s == nil {
		return domain.ErrNoActiveCapture
	}
	s.cancelled.Store(true)
	s.detached.Store(true)
	if s.stopRequested.CompareAndSwap(false, true) {
		a.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonDiscarded)
		go a.stopAudio(s)
	}
	return nil
}

func (a *liveAdapter) stopAudio(s *liveSession) {
	if err := s.audio.Stop(); err != nil {
		a.logger.Warn("audio capture did not stop cleanly",
			zap.String("kind", string(domain.ErrorCodeAudioStop)),
			zap.Error(err),
		)
		a.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
}

func (a *liveAdapter) Active() bool {
	s := a.session()
	return s != nil && !s.stopRequested.Load()
}

func (a *liveAdapter) State() domain.CaptureState {
	if a.Active() {
		return domain.CaptureStateCapturing
	}
	return domain.CaptureStateIdle
}

func (a *liveAdapter) DisplayText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDisplay
}

// ResetTranscript forgets accumulated text. A session that is already
// stopping is detached so its late results cannot refill the input.
func (a *liveAdapter) ResetTranscript() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastDisplay = ""
	if a.current == nil {
		return
	}
	a.current.accumulator = transcriptAccumulator{}
	if a.current.stopRequested.Load() {
		a.current.detached.Store(true)
	}
}

func (a *liveAdapter) session() *liveSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

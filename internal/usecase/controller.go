package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nori/internal/domain"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
)

// captureAdapter is one voice capture strategy.
type captureAdapter interface {
	Start(ctx context.Context) error
	Stop() error
	Cancel() error
	Active() bool
	State() domain.CaptureState
	DisplayText() string
	ResetTranscript()
}

// VoiceDeps are the collaborators a VoiceController may need. Only the ones
// used by the chosen strategy must be set.
type VoiceDeps struct {
	Capture     ports.AudioCapture
	Microphone  ports.Microphone
	Recognizer  ports.StreamingRecognizer
	Transcriber ports.Transcriber
	Corrector   ports.Corrector
	Input       *InputField
	Events      ports.EventSink
	Logger      *zap.Logger
	Metrics     *observe.Metrics
}

// VoiceConfig carries per-strategy settings.
type VoiceConfig struct {
	Live   LiveConfig
	Upload UploadConfig
}

// VoiceController toggles voice capture on and off. The strategy is fixed
// at construction; callers never branch on it.
type VoiceController struct {
	strategy domain.CaptureStrategy
	adapter  captureAdapter

	mu sync.Mutex
}

func NewVoiceController(strategy domain.CaptureStrategy, deps VoiceDeps, cfg VoiceConfig) *VoiceController {
	var adapter captureAdapter
	switch strategy {
	case domain.StrategyLive:
		adapter = newLiveAdapter(deps, cfg.Live)
	case domain.StrategyRecordUpload:
		adapter = newUploadAdapter(deps, cfg.Upload)
	default:
		strategy = domain.StrategyUnsupported
		adapter = unsupportedAdapter{events: deps.Events, logger: logging.OrNop(deps.Logger)}
	}
	return &VoiceController{strategy: strategy, adapter: adapter}
}

// Toggle starts a capture when idle and stops it when active.
func (c *VoiceController) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adapter.Active() {
		return c.adapter.Stop()
	}
	return c.adapter.Start(ctx)
}

// Cancel abandons the active capture without keeping its result.
func (c *VoiceController) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.Cancel()
}

func (c *VoiceController) CurrentDisplayText() string {
	return c.adapter.DisplayText()
}

func (c *VoiceController) ResetTranscript() {
	c.adapter.ResetTranscript()
}

func (c *VoiceController) Strategy() domain.CaptureStrategy {
	return c.strategy
}

func (c *VoiceController) Status() domain.Status {
	status := domain.Status{
		Strategy: c.strategy,
		State:    c.adapter.State(),
		Active:   c.adapter.Active(),
	}
	if c.strategy == domain.StrategyUnsupported {
		status.Message = unsupportedNotice
	}
	return status
}

const unsupportedNotice = "voice input is not supported in this browser"

// unsupportedAdapter only tells the user voice input is unavailable.
type unsupportedAdapter struct {
	events ports.EventSink
	logger *zap.Logger
}

func (u unsupportedAdapter) Start(context.Context) error {
	u.logger.Info("voice capture requested on unsupported environment")
	u.events.SessionError(domain.ErrorCodeUnsupported, unsupportedNotice)
	return domain.ErrUnsupportedEnvironment
}

func (unsupportedAdapter) Stop() error                { return domain.ErrNoActiveCapture }
func (unsupportedAdapter) Cancel() error              { return domain.ErrNoActiveCapture }
func (unsupportedAdapter) Active() bool               { return false }
func (unsupportedAdapter) State() domain.CaptureState { return domain.CaptureStateIdle }
func (unsupportedAdapter) DisplayText() string        { return "" }
func (unsupportedAdapter) ResetTranscript()           {}

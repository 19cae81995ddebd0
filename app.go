package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"nori/internal/bootstrap"
	"nori/internal/domain"
)

const (
	eventCapture  = "nori:capture"
	eventInput    = "nori:input"
	eventMessages = "nori:messages"
	eventPending  = "nori:pending"
	eventError    = "nori:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	mu       sync.RWMutex
	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

func (a *App) shutdown(ctx context.Context) {
	a.mu.RLock()
	services := a.services
	a.mu.RUnlock()
	if services != nil {
		_ = services.Close(ctx)
	}
}

// Init builds the backend for the frontend's environment. Later calls
// return the status of the first build.
func (a *App) Init(env domain.Environment) (domain.Status, error) {
	a.mu.Lock()
	if a.services != nil || a.bootErr != nil {
		bootErr := a.bootErr
		a.mu.Unlock()
		return a.GetStatus(), bootErr
	}

	services, err := bootstrap.Build(a.context(), a, env)
	if err != nil {
		a.bootErr = err
		a.mu.Unlock()
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return a.GetStatus(), err
	}
	a.services = services
	a.mu.Unlock()

	if services.Strategy != domain.StrategyUnsupported {
		a.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonMicReady)
	}
	return a.GetStatus(), nil
}

// ToggleMic starts voice capture when idle and stops it when active.
func (a *App) ToggleMic() (domain.Status, error) {
	services, err := a.ready()
	if err != nil {
		return domain.Status{}, err
	}
	if err := services.Voice.Toggle(a.context()); err != nil {
		return services.Voice.Status(), err
	}
	return services.Voice.Status(), nil
}

// CancelMic discards the active capture.
func (a *App) CancelMic() error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	if err := services.Voice.Cancel(); err != nil && !errors.Is(err, domain.ErrNoActiveCapture) {
		return err
	}
	return nil
}

// SetInput mirrors typing in the text box.
func (a *App) SetInput(text string) error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	services.Input.Set(text)
	return nil
}

// Send submits the text box. Blank input and a send while an answer is
// pending are ignored.
func (a *App) Send() (domain.ChatState, error) {
	services, err := a.ready()
	if err != nil {
		return domain.ChatState{}, err
	}
	err = services.Chat.Send(a.context())
	if err != nil && !isIgnoredSend(err) {
		return services.Chat.State(), err
	}
	return services.Chat.State(), nil
}

// Rate records thumbs feedback on an assistant message. Unknown ids and
// user messages are ignored.
func (a *App) Rate(messageID string, up bool) error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	err = services.Chat.Rate(a.context(), messageID, up)
	if errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrNotAssistantMessage) {
		return nil
	}
	return err
}

// SubmitFeedbackText sends a comment for a message rated down.
func (a *App) SubmitFeedbackText(messageID string, text string) error {
	services, err := a.ready()
	if err != nil {
		return err
	}
	if err := services.Chat.SubmitFeedbackText(a.context(), messageID, text); err != nil {
		a.SessionError(domain.ErrorCodeFeedback, err.Error())
		return err
	}
	return nil
}

// GetStatus returns the current voice capture status.
func (a *App) GetStatus() domain.Status {
	a.mu.RLock()
	services, bootErr := a.services, a.bootErr
	a.mu.RUnlock()

	if services == nil {
		if bootErr != nil {
			return domain.Status{State: domain.CaptureStateFailed, Message: bootErr.Error()}
		}
		return domain.Status{State: domain.CaptureStateIdle}
	}
	return services.Voice.Status()
}

// GetChatState returns the message log, the pending flag and the input.
func (a *App) GetChatState() (domain.ChatState, error) {
	services, err := a.ready()
	if err != nil {
		return domain.ChatState{}, err
	}
	return services.Chat.State(), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	a.mu.RLock()
	services, bootErr := a.services, a.bootErr
	a.mu.RUnlock()

	if bootErr != nil {
		return map[string]string{"error": bootErr.Error()}
	}
	if services == nil {
		return map[string]string{"error": "application is not initialized"}
	}

	cfg := services.Config
	info := map[string]string{
		"strategy":        string(services.Strategy),
		"service":         cfg.Service.BaseURL,
		"serviceHealthy":  "true",
		"recognizer":      "Deepgram",
		"model":           cfg.Deepgram.Model,
		"language":        cfg.Capture.Language,
		"correctionsFile": cfg.Corrections.Path,
		"audioInput":      cfg.Audio.InputDevice,
	}

	ctx, cancel := context.WithTimeout(a.context(), 3*time.Second)
	defer cancel()
	if err := services.Service.Health(ctx); err != nil {
		info["serviceHealthy"] = "false"
		info["serviceError"] = err.Error()
	}
	return info
}

func (a *App) ready() (*bootstrap.Services, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	if a.services == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.services, nil
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func isIgnoredSend(err error) bool {
	return errors.Is(err, domain.ErrEmptyQuestion) || errors.Is(err, domain.ErrRequestOutstanding)
}

// CaptureStateChanged emits voice capture lifecycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventCapture, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

// InputChanged emits the new text box value.
func (a *App) InputChanged(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventInput, map[string]string{"text": text})
}

// MessagesChanged emits the whole message log.
func (a *App) MessagesChanged(messages []domain.Message) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMessages, messages)
}

// PendingChanged toggles the thinking indicator.
func (a *App) PendingChanged(pending bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPending, map[string]bool{"pending": pending})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func captureReasonMessage(reason domain.CaptureReason) string {
	switch reason {
	case domain.CaptureReasonMicReady:
		return "Tap the mic to speak"
	case domain.CaptureReasonListening:
		return "Listening..."
	case domain.CaptureReasonRecording:
		return "Recording..."
	case domain.CaptureReasonStopped:
		return "Stopped listening"
	case domain.CaptureReasonEnded:
		return ""
	case domain.CaptureReasonTranscribing:
		return "Transcribing..."
	case domain.CaptureReasonTranscribed:
		return "Transcript ready"
	case domain.CaptureReasonDiscarded:
		return "Recording discarded"
	case domain.CaptureReasonNoAudio:
		return "No audio captured"
	case domain.CaptureReasonPermissionDenied:
		return "Microphone access denied"
	case domain.CaptureReasonRecognitionFailed:
		return "Speech recognition stopped"
	case domain.CaptureReasonTranscriptionFailed:
		return "Transcription failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermissionDenied:
		return "Microphone access denied"
	case domain.ErrorCodeUnsupported:
		return "Voice input is not supported in this browser"
	case domain.ErrorCodeRecognition:
		return "Speech recognition error"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeFeedback:
		return "Feedback could not be sent"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

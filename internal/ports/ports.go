package ports

import (
	"context"
	"io"

	"nori/internal/domain"
)

// AudioConfig describes how the microphone should be captured. A zero Format
// captures raw 16-bit PCM for streaming recognition.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	Format      domain.AudioFormat
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Microphone grants capture access and reports encodings the recorder supports.
type Microphone interface {
	RequestAccess(ctx context.Context) error
	SupportsFormat(format domain.AudioFormat) bool
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an active incremental recognition session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.RecognitionBatch
	Wait() error
	Close() error
}

// StreamingRecognizer starts incremental recognition sessions.
type StreamingRecognizer interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Transcriber converts a finished recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip domain.AudioClip) (string, error)
}

// Corrector rewrites recognized text through the term dictionary.
type Corrector interface {
	Correct(text string) string
}

// AnswerService answers submitted questions.
type AnswerService interface {
	Ask(ctx context.Context, question domain.Question) (domain.Answer, error)
}

// FeedbackService records message feedback.
type FeedbackService interface {
	SendFeedback(ctx context.Context, record domain.FeedbackRecord) error
}

// KeyValueStore is the persistent per-profile store holding identity values.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason)
	InputChanged(text string)
	MessagesChanged(messages []domain.Message)
	PendingChanged(pending bool)
	SessionError(code domain.ErrorCode, detail string)
}

package domain

import "errors"

// Failure kinds. Every failure is converted to one of these at the component
// boundary that issued the suspending call.
var (
	ErrPermissionDenied       = errors.New("microphone access denied")
	ErrUnsupportedEnvironment = errors.New("voice capture is not supported in this environment")
	ErrRecognition            = errors.New("speech recognition failed")
	ErrTranscription          = errors.New("transcription failed")
	ErrAnswerRequest          = errors.New("answer request failed")
)

var (
	ErrCaptureActive       = errors.New("capture already in progress")
	ErrNoActiveCapture     = errors.New("no active capture")
	ErrNoSupportedFormat   = errors.New("no supported audio format")
	ErrEmptyQuestion       = errors.New("question is empty")
	ErrRequestOutstanding  = errors.New("a question is already awaiting an answer")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotAssistantMessage = errors.New("message is not an assistant message")
)

package domain

import "strings"

// CaptureStrategy is the voice capture approach chosen once per process.
type CaptureStrategy string

const (
	StrategyLive         CaptureStrategy = "live"
	StrategyRecordUpload CaptureStrategy = "record_upload"
	StrategyUnsupported  CaptureStrategy = "unsupported"
)

// CaptureState models the voice capture lifecycle.
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateCapturing  CaptureState = "capturing"
	CaptureStateFinalizing CaptureState = "finalizing"
	CaptureStateFailed     CaptureState = "failed"
)

// CaptureReason provides a structured reason for capture state transitions.
type CaptureReason string

const (
	CaptureReasonMicReady            CaptureReason = "mic_ready"
	CaptureReasonListening           CaptureReason = "listening"
	CaptureReasonRecording           CaptureReason = "recording"
	CaptureReasonStopped             CaptureReason = "stopped"
	CaptureReasonEnded               CaptureReason = "ended"
	CaptureReasonTranscribing        CaptureReason = "transcribing"
	CaptureReasonTranscribed         CaptureReason = "transcribed"
	CaptureReasonDiscarded           CaptureReason = "discarded"
	CaptureReasonNoAudio             CaptureReason = "no_audio"
	CaptureReasonPermissionDenied    CaptureReason = "permission_denied"
	CaptureReasonRecognitionFailed   CaptureReason = "recognition_failed"
	CaptureReasonTranscriptionFailed CaptureReason = "transcription_failed"
)

// ErrorCode identifies the failure kinds surfaced to the frontend.
type ErrorCode string

const (
	ErrorCodeStartup          ErrorCode = "startup"
	ErrorCodePermissionDenied ErrorCode = "permission_denied"
	ErrorCodeUnsupported      ErrorCode = "unsupported_environment"
	ErrorCodeRecognition      ErrorCode = "recognition"
	ErrorCodeAudioStream      ErrorCode = "audio_stream"
	ErrorCodeAudioStop        ErrorCode = "audio_stop"
	ErrorCodeTranscription    ErrorCode = "transcription"
	ErrorCodeAnswer           ErrorCode = "answer_request"
	ErrorCodeFeedback         ErrorCode = "feedback"
)

// Environment describes the client runtime the widget is embedded in.
type Environment struct {
	UserAgent          string   `json:"userAgent"`
	HasMediaDevices    bool     `json:"hasMediaDevices"`
	HasLiveRecognition bool     `json:"hasLiveRecognition"`
	Brands             []string `json:"brands,omitempty"`
}

// Segment is one recognition result, either interim or final.
type Segment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// RecognitionBatch is one incremental recognition callback. Results before
// ResultIndex were finalized by an earlier batch.
type RecognitionBatch struct {
	ResultIndex int       `json:"resultIndex"`
	Results     []Segment `json:"results"`
}

// AudioFormat is an audio encoding the recorder may produce.
type AudioFormat struct {
	MimeType  string `json:"mimeType" yaml:"mime_type"`
	Extension string `json:"extension" yaml:"extension"`
}

// AudioClip is a finished recording ready for upload.
type AudioClip struct {
	Data   []byte
	Format AudioFormat
}

// FileName returns the upload file name for the clip.
func (c AudioClip) FileName() string {
	ext := strings.TrimPrefix(strings.TrimSpace(c.Format.Extension), ".")
	if ext == "" {
		ext = "bin"
	}
	return "recording." + ext
}

// DefaultApologyText replaces an answer that could not be obtained.
const DefaultApologyText = "Sorry, something went wrong."

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Feedback is the thumbs state of an assistant message. At most one flag is set.
type Feedback struct {
	ThumbsUp   bool `json:"thumbsUp"`
	ThumbsDown bool `json:"thumbsDown"`
}

// Message is one entry of the chat log.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Question is one submitted send request.
type Question struct {
	Text      string
	SessionID string
	UserID    string
}

// Answer is a successful answer service reply.
type Answer struct {
	MessageID string
	Text      string
}

// FeedbackRecord is the payload delivered to the feedback service.
type FeedbackRecord struct {
	MessageID  string
	ThumbsUp   bool
	ThumbsDown bool
	Comment    string
}

// Status summarizes the current voice capture status.
type Status struct {
	Strategy CaptureStrategy `json:"strategy"`
	State    CaptureState    `json:"state"`
	Active   bool            `json:"active"`
	Message  string          `json:"message,omitempty"`
}

// ChatState is a snapshot of the chat session for the frontend.
type ChatState struct {
	Messages []Message `json:"messages"`
	Pending  bool      `json:"pending"`
	Input    string    `json:"input"`
}

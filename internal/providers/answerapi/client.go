// Package answerapi talks to the remote answering service: questions,
// message feedback, recorded clip transcription and a health probe.
package answerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"nori/internal/domain"
)

const maxErrorBody = 512

// Config describes the answering service endpoints.
type Config struct {
	BaseURL        string
	AskPath        string
	FeedbackPath   string
	TranscribePath string
	HealthPath     string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client implements the answer, feedback and transcription ports over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	newID      func() string
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.AskPath == "" {
		cfg.AskPath = "/api/ask"
	}
	if cfg.FeedbackPath == "" {
		cfg.FeedbackPath = "/api/feedback"
	}
	if cfg.TranscribePath == "" {
		cfg.TranscribePath = "/api/transcribe"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{cfg: cfg, httpClient: client, newID: uuid.NewString}
}

type askRequest struct {
	Question  string  `json:"question"`
	SessionID string  `json:"sessionId"`
	UserID    *string `json:"userId"`
}

type askResponse struct {
	Answer    *string   `json:"answer"`
	MessageID messageID `json:"messageId"`
}

// messageID accepts either a JSON string or a JSON number.
type messageID string

func (m *messageID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*m = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*m = messageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("messageId: %w", err)
	}
	*m = messageID(n.String())
	return nil
}

// Ask posts a question and returns the answer. Every failure wraps
// domain.ErrAnswerRequest.
func (c *Client) Ask(ctx context.Context, question domain.Question) (domain.Answer, error) {
	payload := askRequest{Question: question.Text, SessionID: question.SessionID}
	if question.UserID != "" {
		userID := question.UserID
		payload.UserID = &userID
	}

	var out askResponse
	if err := c.postJSON(ctx, c.cfg.AskPath, payload, &out); err != nil {
		return domain.Answer{}, fmt.Errorf("%w: %w", domain.ErrAnswerRequest, err)
	}
	if out.Answer == nil {
		return domain.Answer{}, fmt.Errorf("%w: response has no answer", domain.ErrAnswerRequest)
	}

	id := strings.TrimSpace(string(out.MessageID))
	if id == "" {
		id = c.newID()
	}
	return domain.Answer{MessageID: id, Text: *out.Answer}, nil
}

type feedbackRequest struct {
	MessageID  string `json:"messageId"`
	ThumbsUp   bool   `json:"thumbsUp"`
	ThumbsDown bool   `json:"thumbsDown"`
	Feedback   string `json:"feedback"`
}

// SendFeedback posts a feedback record. The response body is ignored.
func (c *Client) SendFeedback(ctx context.Context, record domain.FeedbackRecord) error {
	payload := feedbackRequest{
		MessageID:  record.MessageID,
		ThumbsUp:   record.ThumbsUp,
		ThumbsDown: record.ThumbsDown,
		Feedback:   record.Comment,
	}
	if err := c.postJSON(ctx, c.cfg.FeedbackPath, payload, nil); err != nil {
		return fmt.Errorf("answerapi: feedback: %w", err)
	}
	return nil
}

// Transcribe uploads clip as the single "file" field of a multipart form.
// Every failure wraps domain.ErrTranscription.
func (c *Client) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("%w: empty audio clip", domain.ErrTranscription)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", clip.FileName())
	if err != nil {
		return "", fmt.Errorf("%w: create form file: %w", domain.ErrTranscription, err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return "", fmt.Errorf("%w: write audio data: %w", domain.ErrTranscription, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: close multipart writer: %w", domain.ErrTranscription, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.TranscribePath), &body)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", domain.ErrTranscription, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// A body without text is an empty transcription, not a failure.
	var result struct {
		Text string `json:"text"`
	}
	if err := c.do(req, &result); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscription, err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Health reports whether the service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.HealthPath), nil)
	if err != nil {
		return fmt.Errorf("answerapi: health: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("answerapi: health: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + path
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "server returned HTTP " + strconv.Itoa(e.Code)
	}
	return "server returned HTTP " + strconv.Itoa(e.Code) + ": " + e.Body
}

// IsStatus reports whether err carries a StatusError with code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

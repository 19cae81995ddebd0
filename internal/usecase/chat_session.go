package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nori/internal/domain"
	"nori/internal/identity"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
)

// transcriptResetter is the part of voice capture the chat session touches.
type transcriptResetter interface {
	ResetTranscript()
}

// ChatConfig controls the chat session.
type ChatConfig struct {
	Identity       identity.Identity
	ApologyText    string
	RequestTimeout time.Duration
}

// ChatSession owns the message log, the single outstanding question and
// feedback state.
type ChatSession struct {
	answers  ports.AnswerService
	feedback ports.FeedbackService
	voice    transcriptResetter
	input    *InputField
	events   ports.EventSink
	logger   *zap.Logger
	metrics  *observe.Metrics
	cfg      ChatConfig
	newID    func() string

	mu          sync.Mutex
	messages    []domain.Message
	outstanding bool

	deliveries sync.WaitGroup
}

func NewChatSession(
	answers ports.AnswerService,
	feedback ports.FeedbackService,
	voice transcriptResetter,
	input *InputField,
	events ports.EventSink,
	logger *zap.Logger,
	metrics *observe.Metrics,
	cfg ChatConfig,
) *ChatSession {
	if strings.TrimSpace(cfg.ApologyText) == "" {
		cfg.ApologyText = domain.DefaultApologyText
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &ChatSession{
		answers:  answers,
		feedback: feedback,
		voice:    voice,
		input:    input,
		events:   events,
		logger:   logging.OrNop(logger).Named("chat"),
		metrics:  metrics,
		cfg:      cfg,
		newID:    uuid.NewString,
	}
}

// Send submits the current input field value.
func (s *ChatSession) Send(ctx context.Context) error {
	return s.Submit(ctx, s.input.Value())
}

// Submit asks the answer service one question and blocks until the reply,
// or the apology message, is in the log. Blank text and a second question
// while one is outstanding are rejected without any state change.
func (s *ChatSession) Submit(ctx context.Context, text string) error {
	question := strings.TrimSpace(text)
	if question == "" {
		return domain.ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.outstanding {
		s.mu.Unlock()
		return domain.ErrRequestOutstanding
	}
	s.outstanding = true
	s.messages = append(s.messages, domain.Message{
		ID:      s.newID(),
		Role:    domain.RoleUser,
		Content: question,
	})
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.events.MessagesChanged(snapshot)
	if s.voice != nil {
		s.voice.ResetTranscript()
	}
	s.input.Clear()
	s.events.PendingChanged(true)

	reply := s.ask(ctx, question)

	s.mu.Lock()
	s.messages = append(s.messages, reply)
	s.outstanding = false
	snapshot = s.snapshotLocked()
	s.mu.Unlock()

	s.events.PendingChanged(false)
	s.events.MessagesChanged(snapshot)
	return nil
}

func (s *ChatSession) ask(ctx context.Context, question string) domain.Message {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	started := time.Now()
	answer, err := s.answers.Ask(ctx, domain.Question{
		Text:      question,
		SessionID: s.cfg.Identity.SessionID,
		UserID:    s.cfg.Identity.UserID,
	})
	s.metrics.RecordAnswer(ctx, time.Since(started), err)
	if err != nil {
		s.logger.Warn("answer request failed",
			zap.String("kind", string(domain.ErrorCodeAnswer)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return domain.Message{ID: s.newID(), Role: domain.RoleAssistant, Content: s.cfg.ApologyText}
	}

	id := strings.TrimSpace(answer.MessageID)
	if id == "" {
		id = s.newID()
	}
	return domain.Message{ID: id, Role: domain.RoleAssistant, Content: answer.Text}
}

// Rate sets thumbs feedback on an assistant message and notifies the
// feedback service in the background. A failed delivery keeps the local
// rating.
func (s *ChatSession) Rate(ctx context.Context, messageID string, up bool) error {
	s.mu.Lock()
	idx, err := s.assistantIndexLocked(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	feedback := domain.Feedback{ThumbsUp: up, ThumbsDown: !up}
	s.messages[idx].Feedback = &feedback
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.events.MessagesChanged(snapshot)

	record := domain.FeedbackRecord{MessageID: messageID, ThumbsUp: feedback.ThumbsUp, ThumbsDown: feedback.ThumbsDown}
	deliveryCtx := context.WithoutCancel(ctx)
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		if err := s.deliver(deliveryCtx, record); err != nil {
			s.logger.Warn("feedback delivery failed",
				zap.String("kind", string(domain.ErrorCodeFeedback)),
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// SubmitFeedbackText sends a free-text comment for a message rated down.
// The delivery error is returned to the caller.
func (s *ChatSession) SubmitFeedbackText(ctx context.Context, messageID, comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return errors.New("feedback text is empty")
	}

	s.mu.Lock()
	idx, err := s.assistantIndexLocked(messageID)
	var rated *domain.Feedback
	if err == nil {
		rated = s.messages[idx].Feedback
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if rated == nil || !rated.ThumbsDown {
		return fmt.Errorf("message %s is not rated down", messageID)
	}

	return s.deliver(ctx, domain.FeedbackRecord{
		MessageID:  messageID,
		ThumbsDown: true,
		Comment:    comment,
	})
}

func (s *ChatSession) deliver(ctx context.Context, record domain.FeedbackRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	err := s.feedback.SendFeedback(ctx, record)
	s.metrics.RecordFeedback(ctx, err)
	return err
}

func (s *ChatSession) assistantIndexLocked(messageID string) (int, error) {
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		if s.messages[i].Role != domain.RoleAssistant {
			return -1, domain.ErrNotAssistantMessage
		}
		return i, nil
	}
	return -1, domain.ErrMessageNotFound
}

// Messages returns a copy of the log.
func (s *ChatSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ChatSession) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func (s *ChatSession) State() domain.ChatState {
	s.mu.Lock()
	messages := s.snapshotLocked()
	pending := s.outstanding
	s.mu.Unlock()
	return domain.ChatState{Messages: messages, Pending: pending, Input: s.input.Value()}
}

// Wait blocks until background feedback deliveries finish.
func (s *ChatSession) Wait() {
	s.deliveries.Wait()
}

func (s *ChatSession) snapshotLocked() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	for i, msg := range s.messages {
		if msg.Feedback != nil {
			feedback := *msg.Feedback
			msg.Feedback = &feedback
		}
		out[i] = msg
	}
	return out
}

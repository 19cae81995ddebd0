package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nori/internal/domain"
	"nori/internal/identity"
)

type fakeAnswerService struct {
	mu        sync.Mutex
	answer    domain.Answer
	err       error
	questions []domain.Question
	called    chan struct{}
	release   chan struct{}
}

func (f *fakeAnswerService) Ask(_ context.Context, question domain.Question) (domain.Answer, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	called, release := f.called, f.release
	f.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.answer, f.err
}

func (f *fakeAnswerService) asked() []domain.Question {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Question(nil), f.questions...)
}

type fakeFeedbackService struct {
	mu      sync.Mutex
	err     error
	records []domain.FeedbackRecord
}

func (f *fakeFeedbackService) SendFeedback(_ context.Context, record domain.FeedbackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return f.err
}

func (f *fakeFeedbackService) delivered() []domain.FeedbackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FeedbackRecord(nil), f.records...)
}

type countingResetter struct {
	mu    sync.Mutex
	count int
}

func (r *countingResetter) ResetTranscript() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *countingResetter) resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type chatFixture struct {
	session  *ChatSession
	answers  *fakeAnswerService
	feedback *fakeFeedbackService
	voice    *countingResetter
	input    *InputField
	events   *fakeEventSink
}

func newChatFixture(answers *fakeAnswerService) chatFixture {
	events := &fakeEventSink{}
	input := NewInputField(events)
	feedback := &fakeFeedbackService{}
	voice := &countingResetter{}
	session := NewChatSession(answers, feedback, voice, input, events, nil, nil, ChatConfig{
		Identity: identity.Identity{SessionID: "session-1", UserID: "user-7"},
	})
	return chatFixture{session: session, answers: answers, feedback: feedback, voice: voice, input: input, events: events}
}

func TestChatSessionSubmitAppendsQuestionAndAnswer(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "42", Text: "Paris"}})
	f.input.Set("  capital of France?  ")

	if err := f.session.Send(context.Background()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	messages := f.session.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %+v", messages)
	}
	if messages[0].Role != domain.RoleUser || messages[0].Content != "capital of France?" || messages[0].ID == "" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].ID != "42" || messages[1].Content != "Paris" {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}

	asked := f.answers.asked()
	if len(asked) != 1 || asked[0].SessionID != "session-1" || asked[0].UserID != "user-7" {
		t.Fatalf("unexpected question: %+v", asked)
	}
	if f.input.Value() != "" {
		t.Fatalf("expected input cleared, got %q", f.input.Value())
	}
	if f.voice.resets() != 1 {
		t.Fatalf("expected transcript reset on submit")
	}
	if pending := f.events.snapshotPending(); len(pending) != 2 || !pending[0] || pending[1] {
		t.Fatalf("unexpected pending transitions: %v", pending)
	}
	if f.session.Pending() {
		t.Fatalf("expected no outstanding request")
	}
}

func TestChatSessionSubmitBlankIsIgnored(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{})

	if err := f.session.Submit(context.Background(), "  \t "); !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("expected empty question, got %v", err)
	}
	if len(f.session.Messages()) != 0 || len(f.answers.asked()) != 0 {
		t.Fatalf("blank submit must not change state")
	}
	if len(f.events.snapshotPending()) != 0 {
		t.Fatalf("blank submit must not toggle pending")
	}
}

func TestChatSessionSecondSubmitWhileOutstandingIsRejected(t *testing.T) {
	t.Parallel()

	answers := &fakeAnswerService{
		answer:  domain.Answer{MessageID: "a1", Text: "first answer"},
		called:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newChatFixture(answers)

	done := make(chan error, 1)
	go func() { done <- f.session.Submit(context.Background(), "first") }()
	<-answers.called

	if !f.session.Pending() {
		t.Fatalf("expected outstanding request")
	}
	if err := f.session.Submit(context.Background(), "second"); !errors.Is(err, domain.ErrRequestOutstanding) {
		t.Fatalf("expected outstanding error, got %v", err)
	}

	close(answers.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	messages := f.session.Messages()
	if len(messages) != 2 || messages[0].Content != "first" || messages[1].Content != "first answer" {
		t.Fatalf("expected exactly one exchange, got %+v", messages)
	}
	if len(answers.asked()) != 1 {
		t.Fatalf("expected one request, got %d", len(answers.asked()))
	}
}

func TestChatSessionAnswerFailureAppendsApology(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{err: errors.New("connection refused")})

	if err := f.session.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	messages := f.session.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected question and apology, got %+v", messages)
	}
	apology := messages[1]
	if apology.Role != domain.RoleAssistant || apology.Content != domain.DefaultApologyText || apology.ID == "" {
		t.Fatalf("unexpected apology: %+v", apology)
	}
	if apology.ID == messages[0].ID {
		t.Fatalf("expected distinct ids")
	}
	if f.session.Pending() {
		t.Fatalf("expected outstanding cleared after failure")
	}
	if err := f.session.Submit(context.Background(), "again"); err != nil {
		t.Fatalf("expected next submit accepted: %v", err)
	}
}

func TestChatSessionAnswerWithoutIDGetsLocalID(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{Text: "ok"}})
	if err := f.session.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if f.session.Messages()[1].ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestChatSessionRateIsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "m1", Text: "answer"}})
	if err := f.session.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := f.session.Rate(context.Background(), "m1", true); err != nil {
		t.Fatalf("rate up failed: %v", err)
	}
	if err := f.session.Rate(context.Background(), "m1", false); err != nil {
		t.Fatalf("rate down failed: %v", err)
	}
	f.session.Wait()

	feedback := f.session.Messages()[1].Feedback
	if feedback == nil || feedback.ThumbsUp || !feedback.ThumbsDown {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}
	if records := f.feedback.delivered(); len(records) != 2 {
		t.Fatalf("expected two deliveries, got %+v", records)
	}
}

func TestChatSessionRateKeepsStateWhenDeliveryFails(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "m1", Text: "answer"}})
	f.feedback.err = errors.New("feedback service down")
	if err := f.session.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := f.session.Rate(context.Background(), "m1", true); err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	f.session.Wait()

	feedback := f.session.Messages()[1].Feedback
	if feedback == nil || !feedback.ThumbsUp {
		t.Fatalf("expected local rating kept, got %+v", feedback)
	}
}

func TestChatSessionRateRejectsUnknownAndUserMessages(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "m1", Text: "answer"}})
	if err := f.session.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	userID := f.session.Messages()[0].ID

	if err := f.session.Rate(context.Background(), "missing", true); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.session.Rate(context.Background(), userID, true); !errors.Is(err, domain.ErrNotAssistantMessage) {
		t.Fatalf("expected not assistant, got %v", err)
	}
	f.session.Wait()

	if len(f.feedback.delivered()) != 0 {
		t.Fatalf("rejected ratings must not be delivered")
	}
	for _, msg := range f.session.Messages() {
		if msg.Feedback != nil {
			t.Fatalf("unexpected feedback on %+v", msg)
		}
	}
}

func TestChatSessionSubmitFeedbackText(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "m1", Text: "answer"}})
	if err := f.session.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := f.session.SubmitFeedbackText(context.Background(), "m1", "wrong city"); err == nil {
		t.Fatalf("expected error for a message not rated down")
	}

	if err := f.session.Rate(context.Background(), "m1", false); err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	f.session.Wait()

	if err := f.session.SubmitFeedbackText(context.Background(), "m1", " wrong city "); err != nil {
		t.Fatalf("feedback text failed: %v", err)
	}
	records := f.feedback.delivered()
	last := records[len(records)-1]
	if last.Comment != "wrong city" || !last.ThumbsDown || last.ThumbsUp {
		t.Fatalf("unexpected record: %+v", last)
	}

	f.feedback.mu.Lock()
	f.feedback.err = errors.New("boom")
	f.feedback.mu.Unlock()
	if err := f.session.SubmitFeedbackText(context.Background(), "m1", "again"); err == nil {
		t.Fatalf("expected delivery error returned")
	}
}

func TestChatSessionSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	f := newChatFixture(&fakeAnswerService{answer: domain.Answer{MessageID: "m1", Text: "answer"}})
	if err := f.session.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := f.session.Rate(context.Background(), "m1", true); err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	f.session.Wait()

	snapshot := f.session.Messages()
	snapshot[1].Feedback.ThumbsDown = true
	snapshot[1].Content = "edited"

	state := f.session.State()
	if state.Messages[1].Feedback.ThumbsDown || state.Messages[1].Content != "answer" {
		t.Fatalf("expected session state isolated from snapshots")
	}
}

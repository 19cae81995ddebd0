package usecase

import (
	"sync"

	"nori/internal/ports"
)

// InputField holds the text box value shared by typing, voice capture and
// the chat session.
type InputField struct {
	mu     sync.Mutex
	value  string
	events ports.EventSink
}

func NewInputField(events ports.EventSink) *InputField {
	return &InputField{events: events}
}

func (f *InputField) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set replaces the whole value and notifies the frontend.
func (f *InputField) Set(text string) {
	f.mu.Lock()
	f.value = text
	f.mu.Unlock()
	f.events.InputChanged(text)
}

func (f *InputField) Clear() {
	f.Set("")
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"nori/internal/domain"
	"nori/internal/ports"
)

var (
	mp4Format  = domain.AudioFormat{MimeType: "audio/mp4", Extension: "mp4"}
	webmFormat = domain.AudioFormat{MimeType: "audio/webm", Extension: "webm"}
)

func newTestUploadAdapter(events *fakeEventSink, mic *fakeMicrophone, capture *fakeAudioCapture, transcriber *fakeTranscriber) (*uploadAdapter, *InputField) {
	input := NewInputField(events)
	adapter := newUploadAdapter(VoiceDeps{
		Capture:     capture,
		Microphone:  mic,
		Transcriber: transcriber,
		Input:       input,
		Events:      events,
	}, UploadConfig{Formats: []domain.AudioFormat{mp4Format, webmFormat}})
	return adapter, input
}

func TestUploadAdapterRecordsAndTranscribes(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	capture := &fakeAudioCapture{sessions: []ports.AudioSession{
		newFakeAudioSession(true, []byte("ab"), []byte("cd")),
	}}
	transcriber := &fakeTranscriber{text: "hello there"}
	adapter, input := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"webm": true}},
		capture,
		transcriber,
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := capture.lastConfig().Format; got != webmFormat {
		t.Fatalf("expected first supported format, got %+v", got)
	}
	if adapter.State() != domain.CaptureStateCapturing || adapter.DisplayText() != "" {
		t.Fatalf("unexpected recording state: %s %q", adapter.State(), adapter.DisplayText())
	}

	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitFor(t, func() bool { return events.hasState(domain.CaptureStateIdle, domain.CaptureReasonTranscribed) })

	clips := transcriber.calls()
	if len(clips) != 1 {
		t.Fatalf("expected one upload, got %d", len(clips))
	}
	if string(clips[0].Data) != "abcd" || clips[0].FileName() != "recording.webm" {
		t.Fatalf("unexpected clip: %q %s", clips[0].Data, clips[0].FileName())
	}
	if input.Value() != "hello there" || adapter.DisplayText() != "hello there" {
		t.Fatalf("unexpected result: %q / %q", input.Value(), adapter.DisplayText())
	}

	states := events.snapshotStates()
	want := []stateEvent{
		{domain.CaptureStateCapturing, domain.CaptureReasonRecording},
		{domain.CaptureStateFinalizing, domain.CaptureReasonTranscribing},
		{domain.CaptureStateIdle, domain.CaptureReasonTranscribed},
	}
	if len(states) != len(want) {
		t.Fatalf("unexpected states: %+v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state %d: got %+v want %+v", i, states[i], want[i])
		}
	}
}

func TestUploadAdapterPermissionDenied(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	capture := &fakeAudioCapture{}
	adapter, _ := newTestUploadAdapter(events,
		&fakeMicrophone{accessErr: errors.New("NotAllowedError")},
		capture,
		&fakeTranscriber{},
	)

	err := adapter.Start(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if capture.starts() != 0 {
		t.Fatalf("capture must not start without permission")
	}
	if !events.hasState(domain.CaptureStateIdle, domain.CaptureReasonPermissionDenied) {
		t.Fatalf("expected idle permission denied state")
	}
	if !events.hasError(domain.ErrorCodePermissionDenied) {
		t.Fatalf("expected permission denied notice")
	}
	if adapter.Active() {
		t.Fatalf("expected idle adapter")
	}
}

func TestUploadAdapterNoSupportedFormat(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	adapter, _ := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"ogg": true}},
		&fakeAudioCapture{},
		&fakeTranscriber{},
	)

	if err := adapter.Start(context.Background()); !errors.Is(err, domain.ErrNoSupportedFormat) {
		t.Fatalf("expected no supported format, got %v", err)
	}
}

func TestUploadAdapterFailureLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	adapter, input := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(true, []byte("clip"))}},
		&fakeTranscriber{err: errors.New("502 bad gateway")},
	)
	input.Set("typed by hand")

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitFor(t, func() bool {
		return events.hasState(domain.CaptureStateFailed, domain.CaptureReasonTranscriptionFailed)
	})

	if input.Value() != "typed by hand" {
		t.Fatalf("expected input untouched, got %q", input.Value())
	}
	if !events.hasError(domain.ErrorCodeTranscription) {
		t.Fatalf("expected transcription error event")
	}
	waitFor(t, func() bool { return adapter.State() == domain.CaptureStateIdle })
}

func TestUploadAdapterCancelBeforeUploadDiscards(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	transcriber := &fakeTranscriber{text: "never"}
	adapter, input := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(true, []byte("clip"))}},
		transcriber,
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := adapter.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if adapter.Active() {
		t.Fatalf("expected inactive adapter right after cancel")
	}
	waitFor(t, func() bool { return adapter.session() == nil })

	if len(transcriber.calls()) != 0 {
		t.Fatalf("expected no upload after cancel")
	}
	if input.Value() != "" {
		t.Fatalf("expected empty input, got %q", input.Value())
	}
	if events.countState(domain.CaptureStateIdle, domain.CaptureReasonDiscarded) != 1 {
		t.Fatalf("expected exactly one discarded state, got %+v", events.snapshotStates())
	}
}

func TestUploadAdapterCancelAfterUploadIssuedCompletes(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	transcriber := &fakeTranscriber{
		text:    "still applied",
		called:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	adapter, input := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(true, []byte("clip"))}},
		transcriber,
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	<-transcriber.called

	if err := adapter.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(transcriber.release)
	waitFor(t, func() bool { return events.hasState(domain.CaptureStateIdle, domain.CaptureReasonTranscribed) })

	if input.Value() != "still applied" {
		t.Fatalf("expected issued upload to apply its text, got %q", input.Value())
	}
	if events.hasState(domain.CaptureStateIdle, domain.CaptureReasonDiscarded) {
		t.Fatalf("issued upload must not be reported as discarded")
	}
}

func TestUploadAdapterStopWhileFinalizingIsNoop(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	transcriber := &fakeTranscriber{
		text:    "done",
		called:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	adapter, _ := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(true, []byte("clip"))}},
		transcriber,
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	<-transcriber.called
	if adapter.State() != domain.CaptureStateFinalizing {
		t.Fatalf("expected finalizing, got %s", adapter.State())
	}
	if err := adapter.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if err := adapter.Start(context.Background()); !errors.Is(err, domain.ErrCaptureActive) {
		t.Fatalf("expected capture active while finalizing, got %v", err)
	}
	close(transcriber.release)
	waitFor(t, func() bool { return adapter.session() == nil })

	if n := events.countState(domain.CaptureStateFinalizing, domain.CaptureReasonTranscribing); n != 1 {
		t.Fatalf("expected one finalizing transition, got %d", n)
	}
}

func TestUploadAdapterEmptyRecording(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	transcriber := &fakeTranscriber{}
	adapter, _ := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(true)}},
		transcriber,
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := adapter.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitFor(t, func() bool { return events.hasState(domain.CaptureStateIdle, domain.CaptureReasonNoAudio) })
	if len(transcriber.calls()) != 0 {
		t.Fatalf("expected no upload for an empty recording")
	}
}

func TestUploadAdapterRecorderEndingOnItsOwnFinalizes(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	adapter, input := newTestUploadAdapter(events,
		&fakeMicrophone{supported: map[string]bool{"mp4": true}},
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession(false, []byte("clip"))}},
		&fakeTranscriber{text: "short"},
	)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return events.hasState(domain.CaptureStateIdle, domain.CaptureReasonTranscribed) })
	if !events.hasState(domain.CaptureStateFinalizing, domain.CaptureReasonTranscribing) {
		t.Fatalf("expected finalizing transition")
	}
	if input.Value() != "short" {
		t.Fatalf("unexpected input: %q", input.Value())
	}
}

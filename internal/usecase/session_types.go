package usecase

import (
	"sync/atomic"

	"nori/internal/domain"
	"nori/internal/ports"
)

// liveSession is one live recognition capture. It is never reused.
type liveSession struct {
	cancel func()
	audio  ports.AudioSession
	stream ports.StreamingSession

	// Guarded by liveAdapter.mu.
	accumulator transcriptAccumulator

	stopRequested atomic.Bool
	cancelled     atomic.Bool
	// detached sessions no longer write to the input field.
	detached atomic.Bool

	audioDone chan struct{}
	done      chan struct{}
}

func newLiveSession(cancel func(), audio ports.AudioSession, stream ports.StreamingSession) *liveSession {
	return &liveSession{
		cancel:    cancel,
		audio:     audio,
		stream:    stream,
		audioDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// uploadSession is one record-then-upload capture. It is never reused.
type uploadSession struct {
	cancel func()
	audio  ports.AudioSession
	format domain.AudioFormat

	finalizing   atomic.Bool
	discarded    atomic.Bool
	uploadIssued atomic.Bool

	done chan struct{}
}

func newUploadSession(cancel func(), audio ports.AudioSession, format domain.AudioFormat) *uploadSession {
	return &uploadSession{
		cancel: cancel,
		audio:  audio,
		format: format,
		done:   make(chan struct{}),
	}
}

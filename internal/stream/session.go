package stream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotRecording is returned when a chunk arrives without an open session
	ErrNotRecording = errors.New("no recording session open")

	// ErrRecordingTooLarge is returned when a chunk would exceed the recording size limit
	ErrRecordingTooLarge = errors.New("recording exceeds maximum size")
)

// State is the recording state of a connection
type State uint8

const (
	StateIdle State = iota
	StateRecording
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// RecordingSession accumulates decoded audio between AUDIO_START and AUDIO_END.
// It is owned by a single connection and is not safe for concurrent use.
type RecordingSession struct {
	state     State
	payload   []byte
	chunks    int
	startedAt time.Time

	maxBytes int // 0 means unbounded
	now      func() time.Time
}

// SessionOption configures a RecordingSession
type SessionOption func(*RecordingSession)

// WithMaxBytes caps the size of a single recording
func WithMaxBytes(n int) SessionOption {
	return func(s *RecordingSession) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithClock overrides the time source used for capture timestamps
func WithClock(now func() time.Time) SessionOption {
	return func(s *RecordingSession) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRecordingSession creates an idle session
func NewRecordingSession(opts ...SessionOption) *RecordingSession {
	s := &RecordingSession{
		state: StateIdle,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a recording with a fresh empty buffer. When a recording is already
// open it is re-armed: the partial buffer is discarded and its size returned.
func (s *RecordingSession) Start() (discarded int) {
	if s.state == StateRecording {
		discarded = len(s.payload)
	}

	s.state = StateRecording
	s.payload = make([]byte, 0, 32*1024)
	s.chunks = 0
	s.startedAt = s.now()

	return discarded
}

// Append adds a decoded chunk to the open recording
func (s *RecordingSession) Append(chunk []byte) error {
	if s.state != StateRecording {
		return ErrNotRecording
	}

	if s.maxBytes > 0 && len(s.payload)+len(chunk) > s.maxBytes {
		return fmt.Errorf("%w: %d + %d bytes > %d", ErrRecordingTooLarge, len(s.payload), len(chunk), s.maxBytes)
	}

	s.payload = append(s.payload, chunk...)
	s.chunks++
	return nil
}

// Finish closes the recording and returns to Idle. The payload is returned only
// when a recording was open and holds data; ownership passes to the caller and the
// session keeps no reference to it. The buffer is reset in every case.
func (s *RecordingSession) Finish() (payload []byte, ok bool) {
	wasRecording := s.state == StateRecording
	payload = s.payload

	s.state = StateIdle
	s.payload = nil
	s.chunks = 0

	if !wasRecording || len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

// Abort drops an open recording without producing a payload and returns how
// many bytes were discarded
func (s *RecordingSession) Abort() (discarded int) {
	if s.state == StateRecording {
		discarded = len(s.payload)
	}

	s.state = StateIdle
	s.payload = nil
	s.chunks = 0

	return discarded
}

// State returns the current recording state
func (s *RecordingSession) State() State {
	return s.state
}

// Len returns the number of bytes accumulated in the open recording
func (s *RecordingSession) Len() int {
	return len(s.payload)
}

// Chunks returns the number of chunks appended to the open recording
func (s *RecordingSession) Chunks() int {
	return s.chunks
}

// StartedAt returns when the current recording was opened
func (s *RecordingSession) StartedAt() time.Time {
	return s.startedAt
}

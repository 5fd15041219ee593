package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names
const (
	BackendHTTP   = "http"
	BackendOpenAI = "openai"
	BackendNone   = "none"
)

// ErrUnknownBackend is returned by New for an unrecognized backend name
var ErrUnknownBackend = errors.New("unknown transcription backend")

// Transcriber turns a WAV recording into text
type Transcriber interface {
	Transcribe(ctx context.Context, request *Request) (*Response, error)
}

// Request represents a transcription request for one completed recording
type Request struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connection_id"`
	Audio        []byte        `json:"-"` // WAV bytes, sent as file
	Filename     string        `json:"filename"`
	SampleRate   int           `json:"sample_rate"`
	Duration     time.Duration `json:"duration"`
	CapturedAt   time.Time     `json:"captured_at"`
	Language     string        `json:"language,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
}

// Response represents the transcription result
type Response struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Config contains transcription backend configuration
type Config struct {
	Backend       string
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	OutputFormat  string // "json" or "text"
	TextPath      string // dot path to the text in a JSON response
}

// New creates the transcriber for cfg.Backend
func New(cfg Config) (Transcriber, error) {
	switch cfg.Backend {
	case BackendHTTP, "":
		return NewClient(cfg)
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendNone:
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Discard is a Transcriber that never produces text
type Discard struct{}

// Transcribe returns an empty response
func (Discard) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	return &Response{ProcessedAt: time.Now()}, nil
}

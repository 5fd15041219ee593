package transcription

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the OpenAI audio API or any compatible server
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed transcriber. A non-empty
// Endpoint replaces the API base URL (e.g. a local whisper server's /v1).
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" && config.Endpoint == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(config.Endpoint, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Transcribe sends the WAV recording to the audio transcriptions endpoint
func (c *OpenAIClient) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	filename := request.Filename
	if filename == "" {
		filename = request.ID + ".wav"
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   bytes.NewReader(request.Audio),
		Language: request.Language,
		Prompt:   request.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription failed: %w", err)
	}

	return &Response{
		Text:        strings.TrimSpace(resp.Text),
		Language:    resp.Language,
		Duration:    resp.Duration,
		ProcessedAt: time.Now(),
	}, nil
}

package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		frame           string
		expectedKind    Kind
		expectedPayload string
	}{
		{
			name:         "audio start",
			frame:        "AUDIO_START",
			expectedKind: KindAudioStart,
		},
		{
			name:         "audio end",
			frame:        "AUDIO_END",
			expectedKind: KindAudioEnd,
		},
		{
			name:            "audio chunk",
			frame:           "AUDIO:aGVsbG8=",
			expectedKind:    KindAudioChunk,
			expectedPayload: "aGVsbG8=",
		},
		{
			name:            "audio chunk with empty payload",
			frame:           "AUDIO:",
			expectedKind:    KindAudioChunk,
			expectedPayload: "",
		},
		{
			name:         "handshake",
			frame:        "WATCH_CONNECTED",
			expectedKind: KindHandshake,
		},
		{
			name:         "swipe command",
			frame:        "Swipe Left",
			expectedKind: KindCommand,
		},
		{
			name:         "lowercase marker is a command",
			frame:        "audio_start",
			expectedKind: KindCommand,
		},
		{
			name:         "lowercase chunk prefix is a command",
			frame:        "audio:aGVsbG8=",
			expectedKind: KindCommand,
		},
		{
			name:         "marker with suffix is a command",
			frame:        "AUDIO_START_NOW",
			expectedKind: KindCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Classify(tt.frame)

			if msg.Kind != tt.expectedKind {
				t.Errorf("Expected kind %s, got %s", tt.expectedKind, msg.Kind)
			}
			if msg.Payload != tt.expectedPayload {
				t.Errorf("Expected payload %q, got %q", tt.expectedPayload, msg.Payload)
			}
			if msg.Text != tt.frame {
				t.Errorf("Expected text %q, got %q", tt.frame, msg.Text)
			}
		})
	}
}

func TestDecodeAudioChunk(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		expected    []byte
		expectError bool
	}{
		{
			name:     "valid payload",
			payload:  "aGVsbG8=",
			expected: []byte("hello"),
		},
		{
			name:     "binary pcm payload",
			payload:  "AAH/fw==",
			expected: []byte{0x00, 0x01, 0xff, 0x7f},
		},
		{
			name:        "empty payload",
			payload:     "",
			expectError: true,
		},
		{
			name:        "invalid characters",
			payload:     "not base64!!",
			expectError: true,
		},
		{
			name:        "truncated padding",
			payload:     "aGVsbG8",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeAudioChunk(tt.payload)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !errors.Is(err, ErrInvalidChunk) {
					t.Errorf("Expected ErrInvalidChunk, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !reflect.DeepEqual(data, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, data)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindAudioChunk.String() != "audio_chunk" {
		t.Errorf("Expected audio_chunk, got %s", KindAudioChunk.String())
	}
	if !contains(Kind(42).String(), "unknown") {
		t.Errorf("Expected unknown kind string, got %s", Kind(42).String())
	}
}

// contains checks if a string contains a substring
func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Wire protocol markers sent by the watch client
const (
	MarkerAudioStart = "AUDIO_START"
	MarkerAudioEnd   = "AUDIO_END"
	MarkerHandshake  = "WATCH_CONNECTED"

	// AudioChunkPrefix precedes one base64-encoded chunk of PCM audio
	AudioChunkPrefix = "AUDIO:"
)

// ErrInvalidChunk is returned when an audio chunk payload is not valid base64
var ErrInvalidChunk = errors.New("invalid audio chunk")

// Kind identifies the shape of a frame
type Kind uint8

const (
	KindCommand Kind = iota // Anything that is not a marker or chunk
	KindAudioStart
	KindAudioEnd
	KindAudioChunk
	KindHandshake
)

// String returns a human-readable name for the frame kind
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindAudioStart:
		return "audio_start"
	case KindAudioEnd:
		return "audio_end"
	case KindAudioChunk:
		return "audio_chunk"
	case KindHandshake:
		return "handshake"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Message is a classified frame
type Message struct {
	Kind    Kind
	Text    string // The complete frame text
	Payload string // Base64 payload for KindAudioChunk, empty otherwise
}

// Classify maps a frame onto one of the recognized wire shapes.
// Markers are matched exactly; the chunk prefix is case-sensitive.
func Classify(frame string) Message {
	switch frame {
	case MarkerAudioStart:
		return Message{Kind: KindAudioStart, Text: frame}
	case MarkerAudioEnd:
		return Message{Kind: KindAudioEnd, Text: frame}
	case MarkerHandshake:
		return Message{Kind: KindHandshake, Text: frame}
	}

	if payload, ok := strings.CutPrefix(frame, AudioChunkPrefix); ok {
		return Message{Kind: KindAudioChunk, Text: frame, Payload: payload}
	}

	return Message{Kind: KindCommand, Text: frame}
}

// DecodeAudioChunk decodes the base64 payload of an AUDIO: frame into raw PCM bytes
func DecodeAudioChunk(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidChunk)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}

	return data, nil
}

// String returns a human-readable representation of the message
func (m Message) String() string {
	if m.Kind == KindAudioChunk {
		return fmt.Sprintf("Message{Kind:%s, PayloadLen:%d}", m.Kind, len(m.Payload))
	}
	return fmt.Sprintf("Message{Kind:%s, Text:%q}", m.Kind, m.Text)
}

package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag
const wavFormatPCM = 1

// ErrEmptyAudio is returned when there is no PCM data to encode
var ErrEmptyAudio = errors.New("cannot encode empty audio")

// Format describes raw PCM audio
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// DefaultFormat is what the watch client records: 16 kHz, mono, 16-bit little endian
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// Validate checks that the format can be encoded
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", f.BitDepth)
	}
	return nil
}

// BytesPerSecond returns the PCM data rate
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// Duration returns the playback length of pcmLen bytes of PCM
func Duration(pcmLen int, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || pcmLen <= 0 {
		return 0
	}
	return time.Duration(int64(pcmLen) * int64(time.Second) / int64(bps))
}

// EncodeWAV wraps little-endian 16-bit PCM in a WAV container.
// A trailing odd byte is ignored.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(pcm) < 2 {
		return nil, ErrEmptyAudio
	}

	buf := &goaudio.IntBuffer{
		Data:           pcmToInts(pcm),
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		SourceBitDepth: f.BitDepth,
	}

	out := &writeSeeker{buf: make([]byte, 0, 44+len(pcm))}
	enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.Channels, wavFormatPCM)

	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV: %w", err)
	}

	return out.Bytes(), nil
}

// WAVInfo contains basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
	DataSize      int           `json:"data_size_bytes"`
	NumSamples    int           `json:"num_samples"`
}

// ReadWAVInfo extracts metadata from a WAV file
func ReadWAVInfo(data []byte) (*WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	info := &WAVInfo{
		SampleRate:    dec.SampleRate,
		Channels:      dec.NumChans,
		BitsPerSample: dec.BitDepth,
		DataSize:      dec.PCMSize,
	}

	frameSize := int(dec.NumChans) * int(dec.BitDepth) / 8
	if frameSize > 0 {
		info.NumSamples = dec.PCMSize / frameSize
	}
	info.Duration = Duration(dec.PCMSize, Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	})

	return info, nil
}

// DecodeWAV returns the interleaved samples and format of a 16-bit WAV file
func DecodeWAV(data []byte) ([]int, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode WAV: %w", err)
	}

	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return buf.Data, f, nil
}

// pcmToInts converts S16LE bytes to samples
func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return samples
}

// writeSeeker is an in-memory io.WriteSeeker for the WAV encoder,
// which seeks back to patch chunk sizes on Close
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, len(w.buf), max(end, 2*cap(w.buf)))
			copy(grown, w.buf)
			w.buf = grown
		}
		w.buf = w.buf[:end]
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position: %d", abs)
	}
	w.pos = int(abs)
	return abs, nil
}

func (w *writeSeeker) Bytes() []byte {
	return w.buf
}

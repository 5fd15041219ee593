package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultDelimiter terminates every frame on the wire
var DefaultDelimiter = []byte("\n")

var (
	// ErrInvalidEncoding marks a completed frame that is not valid UTF-8
	ErrInvalidEncoding = errors.New("frame is not valid UTF-8")

	// ErrFrameTooLarge is returned when pending bytes exceed the configured frame limit
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// FrameError describes a frame that was dropped by the decoder
type FrameError struct {
	Size int   // Size of the dropped frame in bytes
	Err  error // Underlying cause
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("dropped %d byte frame: %v", e.Size, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Decoder turns an arbitrarily fragmented byte stream into delimiter-terminated
// text frames. Pending bytes are kept raw and only completed frame slices are
// decoded as text, so a multi-byte character split across reads is never cut.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf          []byte // Reassembly buffer
	head         int    // Start of the first unresolved byte
	scan         int    // Position where the next delimiter search resumes
	delim        []byte
	maxFrameSize int  // 0 means unbounded
	discarding   bool // Inside an oversized frame already reported, skipping to its delimiter
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithDelimiter overrides the frame delimiter. Empty delimiters are ignored.
func WithDelimiter(delim []byte) DecoderOption {
	return func(d *Decoder) {
		if len(delim) > 0 {
			d.delim = append([]byte(nil), delim...)
		}
	}
}

// WithMaxFrameSize bounds the size of a single frame, delimiter excluded
func WithMaxFrameSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrameSize = n
		}
	}
}

// NewDecoder creates a decoder with an empty reassembly buffer
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{delim: DefaultDelimiter}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends p to the reassembly buffer and returns every frame it completes,
// in arrival order. Frames are trimmed of surrounding whitespace and empty frames
// are discarded. Frames that fail text decoding are dropped and reported in errs;
// the remaining frames are unaffected. A frame longer than the size limit is
// reported once as ErrFrameTooLarge and skipped up to its delimiter, however
// the stream was split; its bytes are never held beyond the limit.
func (d *Decoder) Feed(p []byte) (frames []string, errs []error) {
	d.buf = append(d.buf, p...)

	for {
		start := max(d.scan, d.head)
		idx := bytes.Index(d.buf[start:], d.delim)
		if idx < 0 {
			// The delimiter may straddle this read and the next one
			d.scan = max(d.head, len(d.buf)-len(d.delim)+1)
			break
		}

		end := start + idx
		raw := d.buf[d.head:end]
		d.head = end + len(d.delim)
		d.scan = d.head

		if d.discarding {
			d.discarding = false
			continue
		}

		if d.maxFrameSize > 0 && len(raw) > d.maxFrameSize {
			errs = append(errs, &FrameError{Size: len(raw), Err: ErrFrameTooLarge})
			continue
		}

		if !utf8.Valid(raw) {
			errs = append(errs, &FrameError{Size: len(raw), Err: ErrInvalidEncoding})
			continue
		}

		frame := strings.TrimSpace(string(raw))
		if frame == "" {
			continue
		}
		frames = append(frames, frame)
	}

	// The tail may end with a partial delimiter, which is not part of the frame
	if !d.discarding && d.maxFrameSize > 0 && d.Buffered() > d.maxFrameSize+len(d.delim)-1 {
		errs = append(errs, &FrameError{Size: d.Buffered(), Err: ErrFrameTooLarge})
		d.discarding = true
	}
	if d.discarding {
		// Keep only what could be the start of the delimiter
		d.head = max(d.head, len(d.buf)-len(d.delim)+1)
		d.scan = d.head
	}

	d.compact()
	return frames, errs
}

// Buffered returns the number of bytes not yet resolved into a frame
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.head
}

// Reset drops all pending bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.head = 0
	d.scan = 0
	d.discarding = false
}

// compact reclaims consumed bytes at the head of the buffer
func (d *Decoder) compact() {
	if d.head == len(d.buf) {
		d.buf = d.buf[:0]
		d.head = 0
		d.scan = 0
		return
	}

	if d.head > cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.head:])
		d.buf = d.buf[:n]
		d.scan -= d.head
		d.head = 0
	}
}

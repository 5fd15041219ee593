package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// feedAll feeds each fragment in order and collects frames and errors
func feedAll(d *Decoder, fragments ...[]byte) ([]string, []error) {
	var frames []string
	var errs []error
	for _, fragment := range fragments {
		f, e := d.Feed(fragment)
		frames = append(frames, f...)
		errs = append(errs, e...)
	}
	return frames, errs
}

func TestDecoderFragmentedAudioSession(t *testing.T) {
	d := NewDecoder()

	frames, errs := feedAll(d,
		[]byte("AUDIO_ST"),
		[]byte("ART\nAUDIO:"),
		[]byte("aGVsbG8=\nAUDIO_END\n"),
	)

	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}

	expected := []string{"AUDIO_START", "AUDIO:aGVsbG8=", "AUDIO_END"}
	if !reflect.DeepEqual(frames, expected) {
		t.Errorf("Expected frames %q, got %q", expected, frames)
	}

	if d.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d pending bytes", d.Buffered())
	}
}

func TestDecoderPartialFrameHeldAcrossReads(t *testing.T) {
	d := NewDecoder()

	frames, _ := d.Feed([]byte("Swipe"))
	if len(frames) != 0 {
		t.Fatalf("Expected no frames yet, got %q", frames)
	}
	if d.Buffered() != 5 {
		t.Errorf("Expected 5 pending bytes, got %d", d.Buffered())
	}

	frames, _ = d.Feed([]byte(" Left\nSwipe Up\nk"))
	expected := []string{"Swipe Left", "Swipe Up"}
	if !reflect.DeepEqual(frames, expected) {
		t.Errorf("Expected frames %q, got %q", expected, frames)
	}
	if d.Buffered() != 1 {
		t.Errorf("Expected 1 pending byte, got %d", d.Buffered())
	}

	frames, _ = d.Feed([]byte("\n"))
	if !reflect.DeepEqual(frames, []string{"k"}) {
		t.Errorf("Expected frame k, got %q", frames)
	}
}

func TestDecoderArbitrarySplits(t *testing.T) {
	stream := []byte("WATCH_CONNECTED\nAUDIO_START\nAUDIO:AAH/fw==\r\n  \nAUDIO:aGVsbG8=\nAUDIO_END\nSwipe Right\nh\n\xff\xfe\nButton Pressed\nk")

	reference, referenceErrs := NewDecoder().Feed(stream)
	if len(reference) != 8 {
		t.Fatalf("Expected 8 reference frames, got %d: %q", len(reference), reference)
	}
	if len(referenceErrs) != 1 {
		t.Fatalf("Expected 1 reference error, got %d", len(referenceErrs))
	}

	// Every pair of split points yields the same frame sequence
	for i := 0; i <= len(stream); i++ {
		for j := i; j <= len(stream); j++ {
			d := NewDecoder()
			frames, errs := feedAll(d, stream[:i], stream[i:j], stream[j:])

			if !reflect.DeepEqual(frames, reference) {
				t.Fatalf("Split (%d,%d): expected %q, got %q", i, j, reference, frames)
			}
			if len(errs) != len(referenceErrs) {
				t.Fatalf("Split (%d,%d): expected %d errors, got %d", i, j, len(referenceErrs), len(errs))
			}
		}
	}

	// Byte at a time
	d := NewDecoder()
	var frames []string
	for i := range stream {
		f, _ := d.Feed(stream[i : i+1])
		frames = append(frames, f...)
	}
	if !reflect.DeepEqual(frames, reference) {
		t.Errorf("Byte-wise: expected %q, got %q", reference, frames)
	}
}

func TestDecoderMultiByteDelimiter(t *testing.T) {
	stream := []byte("AUDIO_START\r\nj\r\nAUDIO_END\r\n")

	reference, _ := NewDecoder(WithDelimiter([]byte("\r\n"))).Feed(stream)
	expected := []string{"AUDIO_START", "j", "AUDIO_END"}
	if !reflect.DeepEqual(reference, expected) {
		t.Fatalf("Expected %q, got %q", expected, reference)
	}

	for i := 0; i <= len(stream); i++ {
		d := NewDecoder(WithDelimiter([]byte("\r\n")))
		frames, _ := feedAll(d, stream[:i], stream[i:])
		if !reflect.DeepEqual(frames, expected) {
			t.Errorf("Split %d: expected %q, got %q", i, expected, frames)
		}
	}
}

func TestDecoderInvalidEncodingDropsOnlyThatFrame(t *testing.T) {
	d := NewDecoder()

	frames, errs := d.Feed([]byte("Swipe Up\n\xc3\x28bad\nSwipe Down\n"))

	expected := []string{"Swipe Up", "Swipe Down"}
	if !reflect.DeepEqual(frames, expected) {
		t.Errorf("Expected frames %q, got %q", expected, frames)
	}

	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if !errors.Is(errs[0], ErrInvalidEncoding) {
		t.Errorf("Expected ErrInvalidEncoding, got %v", errs[0])
	}

	var frameErr *FrameError
	if !errors.As(errs[0], &frameErr) {
		t.Fatalf("Expected *FrameError, got %T", errs[0])
	}
	if frameErr.Size != 5 {
		t.Errorf("Expected dropped frame size 5, got %d", frameErr.Size)
	}

	// Subsequent valid fragments are unaffected
	frames, errs = d.Feed([]byte("l\n"))
	if len(errs) != 0 || !reflect.DeepEqual(frames, []string{"l"}) {
		t.Errorf("Expected frame l without errors, got %q %v", frames, errs)
	}
}

func TestDecoderMultiByteCharacterSplit(t *testing.T) {
	d := NewDecoder()

	// "é" is 0xC3 0xA9; split it across two reads
	frames, errs := d.Feed([]byte("caf\xc3"))
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("Expected nothing yet, got %q %v", frames, errs)
	}

	frames, errs = d.Feed([]byte("\xa9\n"))
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if !reflect.DeepEqual(frames, []string{"café"}) {
		t.Errorf("Expected frame café, got %q", frames)
	}
}

func TestDecoderDiscardsEmptyFrames(t *testing.T) {
	d := NewDecoder()

	frames, errs := d.Feed([]byte("\n\n   \n\t\r\n  Swipe Left  \r\n\n"))
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if !reflect.DeepEqual(frames, []string{"Swipe Left"}) {
		t.Errorf("Expected single trimmed frame, got %q", frames)
	}
}

func TestDecoderMaxFrameSize(t *testing.T) {
	d := NewDecoder(WithMaxFrameSize(16))

	frames, errs := d.Feed([]byte("ok\n" + strings.Repeat("x", 32)))
	if !reflect.DeepEqual(frames, []string{"ok"}) {
		t.Errorf("Expected frame ok, got %q", frames)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrFrameTooLarge) {
		t.Fatalf("Expected ErrFrameTooLarge, got %v", errs)
	}
	if d.Buffered() != 0 {
		t.Errorf("Expected pending bytes to be discarded, got %d", d.Buffered())
	}
}

func TestDecoderOversizedFrameSplitInvariant(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
	}{
		{"single read", []string{"0123456789\nok\n"}},
		{"delimiter in next read", []string{"0123456789", "\nok\n"}},
		{"byte by byte", strings.Split("0123456789\nok\n", "")},
		{"limit reached mid frame", []string{"0123", "456789", "\n", "ok\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(WithMaxFrameSize(8))

			fragments := make([][]byte, len(tt.fragments))
			for i, f := range tt.fragments {
				fragments[i] = []byte(f)
			}
			frames, errs := feedAll(d, fragments...)

			if !reflect.DeepEqual(frames, []string{"ok"}) {
				t.Errorf("Expected only frame ok, got %q", frames)
			}
			if len(errs) != 1 || !errors.Is(errs[0], ErrFrameTooLarge) {
				t.Fatalf("Expected one ErrFrameTooLarge, got %v", errs)
			}
			if d.Buffered() != 0 {
				t.Errorf("Expected no pending bytes, got %d", d.Buffered())
			}
		})
	}
}

func TestDecoderFrameAtSizeLimit(t *testing.T) {
	d := NewDecoder(WithMaxFrameSize(8))

	frames, errs := feedAll(d, []byte("0123"), []byte("4567"), []byte("\n"))
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if !reflect.DeepEqual(frames, []string{"01234567"}) {
		t.Errorf("Expected frame at the limit, got %q", frames)
	}
}

func TestDecoderCompaction(t *testing.T) {
	d := NewDecoder()

	chunk := "AUDIO:" + strings.Repeat("QUFB", 64) + "\n"
	total := 0
	for i := 0; i < 1000; i++ {
		frames, _ := d.Feed([]byte(chunk[:10]))
		total += len(frames)
		frames, _ = d.Feed([]byte(chunk[10:]))
		total += len(frames)
	}

	if total != 1000 {
		t.Errorf("Expected 1000 frames, got %d", total)
	}
	if d.Buffered() != 0 {
		t.Errorf("Expected no pending bytes, got %d", d.Buffered())
	}
	if cap(d.buf) > 4*len(chunk) {
		t.Errorf("Expected buffer to be reclaimed, capacity is %d", cap(d.buf))
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("partial"))
	d.Reset()

	if d.Buffered() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", d.Buffered())
	}

	frames, _ := d.Feed([]byte("k\n"))
	if !reflect.DeepEqual(frames, []string{"k"}) {
		t.Errorf("Expected frame k, got %q", frames)
	}
}

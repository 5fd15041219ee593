package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Recorder persists WAV recordings to a directory. A zero-value or
// empty-directory Recorder is disabled and Save does nothing.
type Recorder struct {
	dir string
}

// NewRecorder creates the directory if needed
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return &Recorder{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Enabled reports whether recordings are written
func (r *Recorder) Enabled() bool {
	return r != nil && r.dir != ""
}

// Save writes a WAV file named name.wav and returns its path.
// It returns an empty path when the recorder is disabled.
func (r *Recorder) Save(name string, wavData []byte) (string, error) {
	if !r.Enabled() {
		return "", nil
	}

	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid recording name")
	}
	if !strings.HasSuffix(name, ".wav") {
		name += ".wav"
	}

	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}
	return path, nil
}

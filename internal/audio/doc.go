// Package audio wraps raw PCM recordings into WAV containers for transcription.
// It also reads WAV headers back for inspection and optionally persists recordings to disk.
package audio

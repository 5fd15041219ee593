// Package server implements the TCP connection supervisor for watch clients and the HTTP monitoring API.
// Each accepted connection runs its own read loop that decodes frames, drives the recording session,
// dispatches commands, and submits finished recordings to the transcription pipeline.
package server

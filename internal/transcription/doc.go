// Package transcription implements the speech-to-text backends used by the pipeline.
// The HTTP backend posts multipart form data with retry and exponential backoff, the OpenAI
// backend calls a Whisper-compatible API, and the discard backend skips transcription entirely.
package transcription

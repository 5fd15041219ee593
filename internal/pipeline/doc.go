// Package pipeline hands completed recordings from connections to a pool of
// transcription workers.
//
// Submit never blocks a connection for longer than the configured submit
// timeout: when the bounded queue stays full that long, the new job is
// dropped and counted. Stop closes intake and lets the workers drain every
// queued job before returning.
package pipeline

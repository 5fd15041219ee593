// Package protocol implements the newline-delimited text protocol spoken by the watch client.
// It reassembles frames from an arbitrarily fragmented TCP byte stream, classifies them
// into audio markers, base64 audio chunks, handshakes and command tokens, and decodes chunk payloads.
package protocol

// Package stream tracks per-connection recording sessions and the registry of live connections.
// A RecordingSession accumulates decoded audio between start and end markers and hands the
// completed payload off exactly once; the Manager exposes connection state for monitoring.
package stream

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsolated(t *testing.T) {
	// Two instances must not collide on registration
	first := NewMetrics()
	second := NewMetrics()

	first.RecordConnectionAccepted()

	if got := testutil.ToFloat64(first.ConnectionsAccepted); got != 1 {
		t.Errorf("Expected 1 accepted connection, got %v", got)
	}
	if got := testutil.ToFloat64(second.ConnectionsAccepted); got != 0 {
		t.Errorf("Expected second instance untouched, got %v", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	m.RecordConnectionAccepted()
	m.SetActiveConnections(3)
	m.RecordConnectionClosed(1.5)
	m.RecordFrame("command")
	m.RecordFramingError("invalid_utf8")
	m.RecordChunkDropped("not_recording")
	m.RecordAction("enter", "command")
	m.RecordCommandMiss()
	m.RecordKeyPressFailure("enter")
	m.RecordRecording("submitted", 1024)
	m.RecordJobSubmitted()
	m.RecordJobDropped("queue_full")
	m.RecordJobPanic()
	m.SetQueueSize(1)
	m.RecordTranscriptionSuccess(0.2)
	m.RecordTranscriptionFailure(0.2)
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
	m.RecordHTTPError("GET", "/health", "encode")
}

func TestRecordMethods(t *testing.T) {
	m := NewMetrics()

	m.RecordFrame("command")
	m.RecordFrame("command")
	m.RecordFrame("audio_chunk")
	m.RecordAction("next-track", "command")
	m.RecordCommandMiss()
	m.RecordJobDropped("queue_full")
	m.RecordRecording("empty", 0)
	m.SetQueueSize(4)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"command frames", testutil.ToFloat64(m.FramesDecoded.WithLabelValues("command")), 2},
		{"chunk frames", testutil.ToFloat64(m.FramesDecoded.WithLabelValues("audio_chunk")), 1},
		{"actions", testutil.ToFloat64(m.ActionsDispatched.WithLabelValues("next-track", "command")), 1},
		{"misses", testutil.ToFloat64(m.CommandMisses), 1},
		{"dropped jobs", testutil.ToFloat64(m.JobsDropped.WithLabelValues("queue_full")), 1},
		{"empty recordings", testutil.ToFloat64(m.RecordingsCompleted.WithLabelValues("empty")), 1},
		{"queue size", testutil.ToFloat64(m.QueueSize), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordConnectionAccepted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "watch_connections_accepted_total 1") {
		t.Errorf("Expected accepted connections in scrape output")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("Expected Go runtime metrics in scrape output")
	}
}

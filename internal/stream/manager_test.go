package stream

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewManager(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestRegisterSession(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	session, err := mgr.Register("conn-1", "10.0.0.19:40000", nil)
	if err != nil {
		t.Fatalf("Failed to register session: %v", err)
	}

	if session.ID != "conn-1" {
		t.Errorf("Expected id conn-1, got %s", session.ID)
	}
	if session.RemoteAddr != "10.0.0.19:40000" {
		t.Errorf("Expected remote addr 10.0.0.19:40000, got %s", session.RemoteAddr)
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	if _, err := mgr.Register("conn-1", "10.0.0.19:40001", nil); err == nil {
		t.Error("Expected error registering duplicate connection id")
	}
}

func TestGetSession(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	original, _ := mgr.Register("conn-1", "10.0.0.19:40000", nil)

	session, exists := mgr.GetSession("conn-1")
	if !exists {
		t.Fatal("Expected session to exist")
	}
	if session != original {
		t.Error("Expected same session instance")
	}

	if _, exists := mgr.GetSession("missing"); exists {
		t.Error("Expected session to not exist")
	}
}

func TestUnregisterSession(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	mgr.Register("conn-1", "10.0.0.19:40000", nil)

	if !mgr.Unregister("conn-1") {
		t.Error("Expected unregister to succeed")
	}
	if mgr.Unregister("conn-1") {
		t.Error("Expected second unregister to report missing session")
	}
	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestSessionCounters(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	session, _ := mgr.Register("conn-1", "10.0.0.19:40000", nil)

	session.RecordFrame()
	session.RecordFrame()
	session.RecordFramingError()
	session.RecordCommand(true)
	session.RecordCommand(false)
	session.RecordStart(false)

	info := session.GetSessionInfo()
	if info.State != "recording" {
		t.Errorf("Expected recording state, got %s", info.State)
	}

	session.RecordChunk(false)
	session.RecordChunk(true)
	session.RecordStart(true)
	session.RecordFinish(FinishSubmitted)
	session.RecordFinish(FinishEmpty)
	session.RecordFinish(FinishDropped)

	info = session.GetSessionInfo()
	if info.FramesReceived != 2 {
		t.Errorf("Expected 2 frames, got %d", info.FramesReceived)
	}
	if info.FramingErrors != 1 {
		t.Errorf("Expected 1 framing error, got %d", info.FramingErrors)
	}
	if info.CommandsReceived != 2 || info.CommandsMatched != 1 {
		t.Errorf("Expected 2 commands with 1 match, got %d/%d", info.CommandsReceived, info.CommandsMatched)
	}
	if info.ChunksReceived != 2 || info.ChunksDropped != 1 {
		t.Errorf("Expected 2 chunks with 1 dropped, got %d/%d", info.ChunksReceived, info.ChunksDropped)
	}
	if info.RecordingsStarted != 2 || info.RecordingsRearmed != 1 {
		t.Errorf("Expected 2 starts with 1 rearm, got %d/%d", info.RecordingsStarted, info.RecordingsRearmed)
	}
	if info.RecordingsSubmitted != 1 || info.RecordingsEmpty != 1 || info.RecordingsDropped != 1 {
		t.Errorf("Unexpected finish counters: %+v", info)
	}
	if info.State != "idle" {
		t.Errorf("Expected idle state, got %s", info.State)
	}
}

func TestGetAllSessions(t *testing.T) {
	mgr := NewManager(newTestLogger(), 0)
	defer mgr.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if _, err := mgr.Register(id, "127.0.0.1:1", nil); err != nil {
				t.Errorf("Register %s failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if len(mgr.GetAllSessions()) != 10 {
		t.Errorf("Expected 10 sessions, got %d", len(mgr.GetAllSessions()))
	}
}

func TestIdleConnectionsAreClosed(t *testing.T) {
	mgr := NewManager(newTestLogger(), 50*time.Millisecond)
	defer mgr.Stop()

	var idleClosed, activeClosed atomic.Int32
	mgr.Register("idle", "127.0.0.1:1", func() error {
		idleClosed.Add(1)
		return nil
	})
	active, _ := mgr.Register("active", "127.0.0.1:2", func() error {
		activeClosed.Add(1)
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for idleClosed.Load() == 0 && time.Now().Before(deadline) {
		active.Touch()
		time.Sleep(5 * time.Millisecond)
	}

	if idleClosed.Load() == 0 {
		t.Error("Expected idle connection to be closed")
	}
	if activeClosed.Load() != 0 {
		t.Error("Expected active connection to stay open")
	}
}

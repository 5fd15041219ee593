package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionSession is the monitoring view of one live watch connection.
// The owning connection updates it; the HTTP API and cleanup routine read it.
type ConnectionSession struct {
	ID           string
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	state State

	// Frame counters
	framesReceived   uint64
	framingErrors    uint64
	commandsReceived uint64
	commandsMatched  uint64
	chunksReceived   uint64
	chunksDropped    uint64

	// Recording counters
	recordingsStarted   uint64
	recordingsRearmed   uint64
	recordingsSubmitted uint64
	recordingsDropped   uint64
	recordingsEmpty     uint64
	recordingsAborted   uint64

	// closer terminates the underlying connection
	closer func() error

	mu sync.RWMutex
}

// SessionInfo is a snapshot of a connection session for APIs
type SessionInfo struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	State        string        `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	FramesReceived   uint64 `json:"frames_received"`
	FramingErrors    uint64 `json:"framing_errors"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsMatched  uint64 `json:"commands_matched"`
	ChunksReceived   uint64 `json:"chunks_received"`
	ChunksDropped    uint64 `json:"chunks_dropped"`

	RecordingsStarted   uint64 `json:"recordings_started"`
	RecordingsRearmed   uint64 `json:"recordings_rearmed"`
	RecordingsSubmitted uint64 `json:"recordings_submitted"`
	RecordingsDropped   uint64 `json:"recordings_dropped"`
	RecordingsEmpty     uint64 `json:"recordings_empty"`
	RecordingsAborted   uint64 `json:"recordings_aborted"`
}

// Manager keeps the registry of live connections and closes idle ones
type Manager struct {
	sessions map[string]*ConnectionSession
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration // 0 disables idle cleanup

	// Cleanup management
	ctx      context.Context
	cancel   context.CancelFunc
	cleanup  chan struct{}
	interval time.Duration
}

// NewManager creates a connection registry. A positive idleTimeout starts a
// background routine that closes connections without activity for that long.
func NewManager(logger *slog.Logger, idleTimeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*ConnectionSession),
		logger:   logger,
		timeout:  idleTimeout,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	if idleTimeout > 0 {
		mgr.interval = min(30*time.Second, max(idleTimeout/2, 10*time.Millisecond))
		go mgr.startCleanupRoutine()
	} else {
		close(mgr.cleanup)
	}

	return mgr
}

// Register adds a connection to the registry. closer is invoked when the
// connection is evicted for inactivity.
func (m *Manager) Register(id, remoteAddr string, closer func() error) (*ConnectionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("connection %s already registered", id)
	}

	now := time.Now()
	session := &ConnectionSession{
		ID:           id,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
		state:        StateIdle,
		closer:       closer,
	}
	m.sessions[id] = session

	m.logger.Debug("Registered connection session",
		slog.String("conn_id", id),
		slog.String("remote_addr", remoteAddr),
	)

	return session, nil
}

// Unregister removes a connection from the registry
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := session.GetSessionInfo()
	m.logger.Info("Connection session removed",
		slog.String("conn_id", id),
		slog.String("remote_addr", info.RemoteAddr),
		slog.Duration("duration", info.Duration),
		slog.Uint64("frames_received", info.FramesReceived),
		slog.Uint64("recordings_submitted", info.RecordingsSubmitted),
	)

	return true
}

// GetSession retrieves a live connection session
func (m *Manager) GetSession(id string) (*ConnectionSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of live connections
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all live connection sessions
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*ConnectionSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	return infos
}

// Stop halts the cleanup routine. Registered connections are left to their owners.
func (m *Manager) Stop() {
	m.cancel()
	<-m.cleanup
}

// startCleanupRoutine periodically evicts idle connections
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Connection cleanup routine started",
		slog.Duration("idle_timeout", m.timeout),
		slog.Duration("check_interval", m.interval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.closeIdleSessions()
		}
	}
}

// closeIdleSessions closes connections that have been inactive for too long.
// The connection's own read loop observes the close and unregisters itself.
func (m *Manager) closeIdleSessions() {
	now := time.Now()
	var idle []*ConnectionSession

	m.mu.RLock()
	for _, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.timeout {
			idle = append(idle, session)
		}
	}
	m.mu.RUnlock()

	for _, session := range idle {
		m.logger.Info("Closing idle connection",
			slog.String("conn_id", session.ID),
			slog.String("remote_addr", session.RemoteAddr),
			slog.Duration("idle_timeout", m.timeout),
		)
		if session.closer == nil {
			continue
		}
		if err := session.closer(); err != nil {
			m.logger.Warn("Failed to close idle connection",
				slog.String("conn_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Touch records activity on the connection
func (s *ConnectionSession) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// RecordFrame counts a decoded frame
func (s *ConnectionSession) RecordFrame() {
	s.mu.Lock()
	s.framesReceived++
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// RecordFramingError counts a frame dropped by the decoder
func (s *ConnectionSession) RecordFramingError() {
	s.mu.Lock()
	s.framingErrors++
	s.mu.Unlock()
}

// RecordCommand counts a command frame and whether it resolved to an action
func (s *ConnectionSession) RecordCommand(matched bool) {
	s.mu.Lock()
	s.commandsReceived++
	if matched {
		s.commandsMatched++
	}
	s.mu.Unlock()
}

// RecordChunk counts an audio chunk and whether it was dropped
func (s *ConnectionSession) RecordChunk(dropped bool) {
	s.mu.Lock()
	s.chunksReceived++
	if dropped {
		s.chunksDropped++
	}
	s.mu.Unlock()
}

// RecordStart counts a start marker and mirrors the new recording state
func (s *ConnectionSession) RecordStart(rearmed bool) {
	s.mu.Lock()
	s.recordingsStarted++
	if rearmed {
		s.recordingsRearmed++
	}
	s.state = StateRecording
	s.mu.Unlock()
}

// RecordFinish counts the outcome of an end marker and mirrors the idle state
func (s *ConnectionSession) RecordFinish(outcome FinishOutcome) {
	s.mu.Lock()
	switch outcome {
	case FinishSubmitted:
		s.recordingsSubmitted++
	case FinishDropped:
		s.recordingsDropped++
	case FinishEmpty:
		s.recordingsEmpty++
	case FinishAborted:
		s.recordingsAborted++
	}
	s.state = StateIdle
	s.mu.Unlock()
}

// FinishOutcome describes what happened to a recording at AUDIO_END
type FinishOutcome uint8

const (
	FinishEmpty     FinishOutcome = iota // Nothing to submit
	FinishSubmitted                      // Handed to the pipeline
	FinishDropped                        // Rejected by the pipeline
	FinishAborted                        // Discarded because the connection closed mid-recording
)

// GetSessionInfo returns a snapshot of the connection session
func (s *ConnectionSession) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:           s.ID,
		RemoteAddr:   s.RemoteAddr,
		State:        s.state.String(),
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime),

		FramesReceived:   s.framesReceived,
		FramingErrors:    s.framingErrors,
		CommandsReceived: s.commandsReceived,
		CommandsMatched:  s.commandsMatched,
		ChunksReceived:   s.chunksReceived,
		ChunksDropped:    s.chunksDropped,

		RecordingsStarted:   s.recordingsStarted,
		RecordingsRearmed:   s.recordingsRearmed,
		RecordingsSubmitted: s.recordingsSubmitted,
		RecordingsDropped:   s.recordingsDropped,
		RecordingsEmpty:     s.recordingsEmpty,
		RecordingsAborted:   s.recordingsAborted,
	}
}

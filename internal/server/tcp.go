package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saltchicken/watch-controller/internal/config"
	"github.com/saltchicken/watch-controller/internal/dispatch"
	"github.com/saltchicken/watch-controller/internal/metrics"
	"github.com/saltchicken/watch-controller/internal/pipeline"
	"github.com/saltchicken/watch-controller/internal/stream"
)

// CommandDispatcher resolves a command frame and presses the mapped key
type CommandDispatcher interface {
	Dispatch(text string) (dispatch.ActionToken, bool)
}

// Submitter accepts completed recordings for transcription
type Submitter interface {
	Submit(job pipeline.Job) pipeline.SubmitResult
}

// TCPServer accepts watch connections and runs one read loop per connection
type TCPServer struct {
	listener          net.Listener
	config            *config.ServerConfig
	maxRecordingBytes int
	logger            *slog.Logger
	manager           *stream.Manager
	dispatcher        CommandDispatcher
	submitter         Submitter
	metrics           *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	conns  map[string]*Connection
	connMu sync.Mutex

	// Statistics
	connectionsAccepted atomic.Uint64
	connectionsRejected atomic.Uint64
	framesDecoded       atomic.Uint64
	framingErrors       atomic.Uint64
	recordingsSubmitted atomic.Uint64
	recordingsDropped   atomic.Uint64
}

// ServerStatistics represents server counters
type ServerStatistics struct {
	Address             string `json:"address"`
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	ActiveConnections   int    `json:"active_connections"`
	FramesDecoded       uint64 `json:"frames_decoded"`
	FramingErrors       uint64 `json:"framing_errors"`
	RecordingsSubmitted uint64 `json:"recordings_submitted"`
	RecordingsDropped   uint64 `json:"recordings_dropped"`
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(cfg *config.Config, logger *slog.Logger, manager *stream.Manager,
	dispatcher CommandDispatcher, submitter Submitter, m *metrics.Metrics) *TCPServer {

	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:            &cfg.Server,
		maxRecordingBytes: cfg.Audio.MaxRecordingBytes,
		logger:            logger,
		manager:           manager,
		dispatcher:        dispatcher,
		submitter:         submitter,
		metrics:           m,
		ctx:               ctx,
		cancel:            cancel,
		conns:             make(map[string]*Connection),
	}
}

// Start binds the listening socket and begins accepting connections.
// A bind failure is returned; everything after that is handled per connection.
func (s *TCPServer) Start() error {
	address := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))

	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(s.ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = listener

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("read_buffer_size", s.config.ReadBufferSize),
		slog.Int("max_frame_size", s.config.MaxFrameSize),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every live connection, then waits for their handlers
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	s.connMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("TCP server stopped",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("frames_decoded", stats.FramesDecoded),
		slog.Uint64("framing_errors", stats.FramingErrors),
		slog.Uint64("recordings_submitted", stats.RecordingsSubmitted),
	)

	return nil
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			// Transient failures (e.g. EMFILE) back off and retry
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.logger.Warn("Failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)

			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return
			}
		}
		backoff = 0

		if limit := s.config.MaxConnections; limit > 0 && s.manager.GetActiveSessionCount() >= limit {
			s.connectionsRejected.Add(1)
			s.logger.Warn("Connection limit reached, rejecting connection",
				slog.String("remote_addr", netConn.RemoteAddr().String()),
				slog.Int("max_connections", limit),
			)
			netConn.Close()
			continue
		}

		s.handleConn(netConn)
	}
}

// handleConn registers a new connection and starts its read loop
func (s *TCPServer) handleConn(netConn net.Conn) {
	id := uuid.NewString()
	conn := newConnection(id, netConn, s)

	session, err := s.manager.Register(id, netConn.RemoteAddr().String(), conn.Close)
	if err != nil {
		s.logger.Error("Failed to register connection",
			slog.String("conn_id", id),
			slog.String("error", err.Error()),
		)
		netConn.Close()
		return
	}
	conn.session = session

	// Stop cancels before it walks conns, so one of the two sides closes this connection
	s.connMu.Lock()
	s.conns[id] = conn
	stopping := s.ctx.Err() != nil
	s.connMu.Unlock()
	if stopping {
		conn.Close()
	}

	s.connectionsAccepted.Add(1)
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(s.manager.GetActiveSessionCount())

	s.logger.Info("Watch connection accepted",
		slog.String("conn_id", id),
		slog.String("remote_addr", netConn.RemoteAddr().String()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.serve()
	}()
}

// removeConn releases the server's references to a finished connection
func (s *TCPServer) removeConn(conn *Connection) {
	s.connMu.Lock()
	delete(s.conns, conn.id)
	s.connMu.Unlock()

	s.manager.Unregister(conn.id)
	s.metrics.SetActiveConnections(s.manager.GetActiveSessionCount())
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	stats := ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted.Load(),
		ConnectionsRejected: s.connectionsRejected.Load(),
		ActiveConnections:   s.manager.GetActiveSessionCount(),
		FramesDecoded:       s.framesDecoded.Load(),
		FramingErrors:       s.framingErrors.Load(),
		RecordingsSubmitted: s.recordingsSubmitted.Load(),
		RecordingsDropped:   s.recordingsDropped.Load(),
	}
	if addr := s.Addr(); addr != nil {
		stats.Address = addr.String()
	}
	return stats
}

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/saltchicken/watch-controller/internal/pipeline"
	"github.com/saltchicken/watch-controller/internal/protocol"
	"github.com/saltchicken/watch-controller/internal/stream"
)

// Connection owns one accepted socket together with its frame decoder and
// recording session. Frames are handled strictly in arrival order on the
// connection's own goroutine.
type Connection struct {
	id        string
	conn      net.Conn
	server    *TCPServer
	logger    *slog.Logger
	decoder   *protocol.Decoder
	recording *stream.RecordingSession
	session   *stream.ConnectionSession
	startTime time.Time

	closeOnce sync.Once
	closeErr  error
}

func newConnection(id string, conn net.Conn, server *TCPServer) *Connection {
	var decoderOpts []protocol.DecoderOption
	if server.config.MaxFrameSize > 0 {
		decoderOpts = append(decoderOpts, protocol.WithMaxFrameSize(server.config.MaxFrameSize))
	}

	var sessionOpts []stream.SessionOption
	if server.maxRecordingBytes > 0 {
		sessionOpts = append(sessionOpts, stream.WithMaxBytes(server.maxRecordingBytes))
	}

	return &Connection{
		id:     id,
		conn:   conn,
		server: server,
		logger: server.logger.With(
			slog.String("conn_id", id),
			slog.String("remote_addr", conn.RemoteAddr().String()),
		),
		decoder:   protocol.NewDecoder(decoderOpts...),
		recording: stream.NewRecordingSession(sessionOpts...),
		startTime: time.Now(),
	}
}

// Close closes the socket; the read loop observes it and exits
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// serve runs the read loop until the peer closes or a read fails
func (c *Connection) serve() {
	defer c.release()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in connection handler, closing connection",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	buffer := make([]byte, c.server.config.ReadBufferSize)

	for {
		n, err := c.conn.Read(buffer)
		if n > 0 {
			c.session.Touch()
			c.handleBytes(buffer[:n])
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Info("Connection closed by peer")
			case errors.Is(err, net.ErrClosed):
				c.logger.Info("Connection closed by server")
			default:
				c.logger.Warn("Connection read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// release frees everything the connection owns. Pending frame bytes and an
// open recording are dropped with it.
func (c *Connection) release() {
	if c.recording.State() == stream.StateRecording {
		discarded := c.recording.Abort()
		c.session.RecordFinish(stream.FinishAborted)
		c.server.metrics.RecordRecording("aborted", 0)
		c.logger.Info("Discarding unfinished recording", slog.Int("bytes", discarded))
	}
	c.decoder.Reset()

	c.Close()
	c.server.removeConn(c)
	c.server.metrics.RecordConnectionClosed(time.Since(c.startTime).Seconds())
}

// handleBytes feeds one read into the decoder and handles the resulting frames.
// Framing errors drop the offending frame only.
func (c *Connection) handleBytes(p []byte) {
	frames, errs := c.decoder.Feed(p)

	for _, frame := range frames {
		c.handleFrame(frame)
	}

	for _, err := range errs {
		reason := "invalid_encoding"
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			reason = "too_large"
		}

		c.server.framingErrors.Add(1)
		c.session.RecordFramingError()
		c.server.metrics.RecordFramingError(reason)
		c.logger.Warn("Dropping undecodable frame",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// handleFrame routes one frame to the recording session or the dispatcher
func (c *Connection) handleFrame(frame string) {
	msg := protocol.Classify(frame)

	c.server.framesDecoded.Add(1)
	c.session.RecordFrame()
	c.server.metrics.RecordFrame(msg.Kind.String())

	switch msg.Kind {
	case protocol.KindHandshake:
		c.handleHandshake()
	case protocol.KindAudioStart:
		c.handleAudioStart()
	case protocol.KindAudioChunk:
		c.handleAudioChunk(msg.Payload)
	case protocol.KindAudioEnd:
		c.handleAudioEnd()
	default:
		c.handleCommand(msg.Text)
	}
}

// handleHandshake logs the watch greeting. It does not touch the recording
// state; a greeting mid-recording leaves the recording open.
func (c *Connection) handleHandshake() {
	c.logger.Info("Watch handshake received",
		slog.Bool("recording", c.recording.State() == stream.StateRecording),
	)
}

func (c *Connection) handleAudioStart() {
	rearmed := c.recording.State() == stream.StateRecording
	discarded := c.recording.Start()
	c.session.RecordStart(rearmed)

	if rearmed {
		c.logger.Warn("Recording restarted before end marker, discarding partial audio",
			slog.Int("bytes", discarded),
		)
		return
	}
	c.logger.Debug("Recording started")
}

func (c *Connection) handleAudioChunk(payload string) {
	data, err := protocol.DecodeAudioChunk(payload)
	if err != nil {
		c.dropChunk("invalid_base64", err, len(payload))
		return
	}

	if err := c.recording.Append(data); err != nil {
		reason := "too_large"
		if errors.Is(err, stream.ErrNotRecording) {
			reason = "not_recording"
		}
		c.dropChunk(reason, err, len(data))
		return
	}

	c.session.RecordChunk(false)
}

func (c *Connection) dropChunk(reason string, err error, size int) {
	c.session.RecordChunk(true)
	c.server.metrics.RecordChunkDropped(reason)

	level := slog.LevelWarn
	if reason == "not_recording" {
		level = slog.LevelDebug
	}
	c.logger.Log(c.server.ctx, level, "Dropping audio chunk",
		slog.String("reason", reason),
		slog.Int("size", size),
		slog.String("error", err.Error()),
	)
}

func (c *Connection) handleAudioEnd() {
	capturedAt := c.recording.StartedAt()
	chunks := c.recording.Chunks()

	payload, ok := c.recording.Finish()
	if !ok {
		c.session.RecordFinish(stream.FinishEmpty)
		c.server.metrics.RecordRecording("empty", 0)
		c.logger.Debug("Audio end without recorded data, nothing to transcribe")
		return
	}

	job := pipeline.NewJob(c.id, payload, capturedAt)
	result := c.server.submitter.Submit(job)

	if result != pipeline.SubmitQueued {
		c.server.recordingsDropped.Add(1)
		c.session.RecordFinish(stream.FinishDropped)
		c.server.metrics.RecordRecording("dropped", len(payload))
		c.logger.Warn("Recording not accepted for transcription",
			slog.String("job_id", job.ID),
			slog.String("result", result.String()),
			slog.Int("bytes", len(payload)),
		)
		return
	}

	c.server.recordingsSubmitted.Add(1)
	c.session.RecordFinish(stream.FinishSubmitted)
	c.server.metrics.RecordRecording("submitted", len(payload))
	c.logger.Info("Recording submitted for transcription",
		slog.String("job_id", job.ID),
		slog.Int("bytes", len(payload)),
		slog.Int("chunks", chunks),
	)
}

func (c *Connection) handleCommand(text string) {
	_, matched := c.server.dispatcher.Dispatch(text)
	c.session.RecordCommand(matched)
}

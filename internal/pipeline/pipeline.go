package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saltchicken/watch-controller/internal/audio"
	"github.com/saltchicken/watch-controller/internal/metrics"
	"github.com/saltchicken/watch-controller/internal/transcription"
)

// Job is a completed recording handed off by a connection.
// The pipeline owns Audio after Submit; the caller must not touch it again.
type Job struct {
	ID           string
	ConnectionID string
	Audio        []byte // raw PCM
	CapturedAt   time.Time
}

// NewJob creates a job with a fresh id
func NewJob(connectionID string, pcm []byte, capturedAt time.Time) Job {
	return Job{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Audio:        pcm,
		CapturedAt:   capturedAt,
	}
}

// SubmitResult reports what happened to a submitted job
type SubmitResult int

const (
	// SubmitQueued means a worker will process the job
	SubmitQueued SubmitResult = iota
	// SubmitDropped means the queue stayed full for the whole submit timeout
	SubmitDropped
	// SubmitClosed means the pipeline is stopping and no longer accepts jobs
	SubmitClosed
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitQueued:
		return "queued"
	case SubmitDropped:
		return "dropped"
	case SubmitClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// TranscriptDispatcher presses the actions triggered by a transcript
type TranscriptDispatcher interface {
	DispatchTranscript(text string) int
}

// Config contains pipeline settings
type Config struct {
	Workers       int
	QueueSize     int
	SubmitTimeout time.Duration
	JobTimeout    time.Duration // 0 means no timeout
	Format        audio.Format
	Language      string
	Prompt        string
	TextTriggers  bool
}

// Stats is a snapshot of pipeline counters.
// Submitted == Processed + Failed + QueueSize + InFlight.
type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Dropped       uint64 `json:"dropped"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	InFlight      int64  `json:"in_flight"`
	QueueSize     int    `json:"queue_size"`
	QueueCapacity int    `json:"queue_capacity"`
	Workers       int    `json:"workers"`
}

// Pipeline is a bounded job queue drained by a fixed pool of workers
type Pipeline struct {
	config      Config
	transcriber transcription.Transcriber
	dispatcher  TranscriptDispatcher
	recorder    *audio.Recorder
	logger      *slog.Logger
	metrics     *metrics.Metrics

	jobs     chan Job
	stopping chan struct{}
	stopOnce sync.Once

	// intake guards closing jobs against concurrent sends
	intake sync.RWMutex
	closed bool

	started atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// New creates a pipeline. dispatcher and recorder may be nil.
func New(cfg Config, transcriber transcription.Transcriber, dispatcher TranscriptDispatcher, recorder *audio.Recorder, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.SubmitTimeout < 0 {
		cfg.SubmitTimeout = 0
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}

	return &Pipeline{
		config:      cfg,
		transcriber: transcriber,
		dispatcher:  dispatcher,
		recorder:    recorder,
		logger:      logger,
		metrics:     m,
		jobs:        make(chan Job, cfg.QueueSize),
		stopping:    make(chan struct{}),
	}
}

// Start launches the workers
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Transcription pipeline started",
		slog.Int("workers", p.config.Workers),
		slog.Int("queue_size", p.config.QueueSize),
		slog.Duration("submit_timeout", p.config.SubmitTimeout),
	)
}

// Submit enqueues a job. If the queue is full it waits up to SubmitTimeout
// for room, then drops the job.
func (p *Pipeline) Submit(job Job) SubmitResult {
	p.intake.RLock()
	defer p.intake.RUnlock()

	if p.closed {
		return p.reject(job, SubmitClosed, "closed")
	}

	select {
	case p.jobs <- job:
		return p.accept(job)
	default:
	}

	if p.config.SubmitTimeout > 0 {
		timer := time.NewTimer(p.config.SubmitTimeout)
		defer timer.Stop()

		select {
		case p.jobs <- job:
			return p.accept(job)
		case <-p.stopping:
			return p.reject(job, SubmitClosed, "closed")
		case <-timer.C:
		}
	}

	return p.reject(job, SubmitDropped, "queue_full")
}

func (p *Pipeline) accept(job Job) SubmitResult {
	p.submitted.Add(1)
	p.metrics.RecordJobSubmitted()
	p.metrics.SetQueueSize(len(p.jobs))

	p.logger.Debug("Transcription job queued",
		slog.String("job_id", job.ID),
		slog.String("conn_id", job.ConnectionID),
		slog.Int("bytes", len(job.Audio)),
	)
	return SubmitQueued
}

func (p *Pipeline) reject(job Job, result SubmitResult, reason string) SubmitResult {
	p.dropped.Add(1)
	p.metrics.RecordJobDropped(reason)

	p.logger.Warn("Dropping transcription job",
		slog.String("job_id", job.ID),
		slog.String("conn_id", job.ConnectionID),
		slog.Int("bytes", len(job.Audio)),
		slog.String("reason", reason),
	)
	return result
}

// Stop closes intake and waits for the workers to drain the queue.
// It returns ctx.Err() if the drain outlives ctx; workers keep draining in the background.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping transcription pipeline...", slog.Int("queued", len(p.jobs)))

		// Release submitters waiting on a full queue, then wait for them to leave
		close(p.stopping)
		p.intake.Lock()
		p.closed = true
		close(p.jobs)
		p.intake.Unlock()

		// Drain with at least one worker even if Start was never called
		if p.started.CompareAndSwap(false, true) {
			p.wg.Add(1)
			go p.worker(0)
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		stats := p.GetStats()
		p.logger.Info("Transcription pipeline stopped",
			slog.Uint64("submitted", stats.Submitted),
			slog.Uint64("processed", stats.Processed),
			slog.Uint64("failed", stats.Failed),
			slog.Uint64("dropped", stats.Dropped),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain interrupted: %w", ctx.Err())
	}
}

// worker processes jobs until the queue is closed and empty
func (p *Pipeline) worker(workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Transcription worker started", slog.Int("worker_id", workerID))

	for job := range p.jobs {
		p.inFlight.Add(1)
		p.metrics.SetQueueSize(len(p.jobs))

		if err := p.process(workerID, job); err != nil {
			p.failed.Add(1)
			p.logger.Error("Transcription job failed",
				slog.Int("worker_id", workerID),
				slog.String("job_id", job.ID),
				slog.String("conn_id", job.ConnectionID),
				slog.String("error", err.Error()),
			)
		} else {
			p.processed.Add(1)
		}

		p.inFlight.Add(-1)
	}

	p.logger.Debug("Transcription worker stopped", slog.Int("worker_id", workerID))
}

// process runs one job; panics are converted to errors so the worker survives
func (p *Pipeline) process(workerID int, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordJobPanic()
			err = fmt.Errorf("panic in transcription job: %v", r)
		}
	}()

	wavData, err := audio.EncodeWAV(job.Audio, p.config.Format)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	filename := job.ID + ".wav"
	if p.recorder.Enabled() {
		path, err := p.recorder.Save(filename, wavData)
		if err != nil {
			p.logger.Warn("Failed to save recording",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			p.logger.Info("Recording saved", slog.String("job_id", job.ID), slog.String("path", path))
		}
	}

	ctx := context.Background()
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	duration := audio.Duration(len(job.Audio), p.config.Format)
	request := &transcription.Request{
		ID:           job.ID,
		ConnectionID: job.ConnectionID,
		Audio:        wavData,
		Filename:     filename,
		SampleRate:   p.config.Format.SampleRate,
		Duration:     duration,
		CapturedAt:   job.CapturedAt,
		Language:     p.config.Language,
		Prompt:       p.config.Prompt,
	}

	start := time.Now()
	response, err := p.transcriber.Transcribe(ctx, request)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		return fmt.Errorf("transcription failed: %w", err)
	}
	p.metrics.RecordTranscriptionSuccess(elapsed.Seconds())

	p.logger.Info("Transcription completed",
		slog.Int("worker_id", workerID),
		slog.String("job_id", job.ID),
		slog.String("conn_id", job.ConnectionID),
		slog.Duration("audio_duration", duration),
		slog.Duration("elapsed", elapsed),
		slog.String("text", response.Text),
	)

	if p.config.TextTriggers && p.dispatcher != nil && response.Text != "" {
		p.dispatcher.DispatchTranscript(response.Text)
	}

	return nil
}

// GetStats returns a snapshot of the pipeline counters
func (p *Pipeline) GetStats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Dropped:       p.dropped.Load(),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		InFlight:      p.inFlight.Load(),
		QueueSize:     len(p.jobs),
		QueueCapacity: cap(p.jobs),
		Workers:       p.config.Workers,
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/saltchicken/watch-controller/internal/audio"
	"github.com/saltchicken/watch-controller/internal/config"
	"github.com/saltchicken/watch-controller/internal/dispatch"
	"github.com/saltchicken/watch-controller/internal/keyboard"
	"github.com/saltchicken/watch-controller/internal/metrics"
	"github.com/saltchicken/watch-controller/internal/pipeline"
	"github.com/saltchicken/watch-controller/internal/server"
	"github.com/saltchicken/watch-controller/internal/stream"
	"github.com/saltchicken/watch-controller/internal/transcription"
)

const (
	serviceName    = "watch-controller"
	serviceVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to YAML configuration file (defaults apply when empty)")
	port := flag.IntP("port", "p", 0, "Override the watch TCP port")
	logLevel := flag.String("log-level", "", "Override the log level (debug, info, warn, error)")
	dryRun := flag.Bool("dry-run", false, "Log key presses instead of creating a virtual keyboard")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dryRun {
		cfg.Keyboard.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Deferred cleanup lives in run, which returns before the process exits
	if err := run(cfg, logger, sigChan); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run wires the service together, serves until a value arrives on stop and
// shuts everything down
func run(cfg *config.Config, logger *slog.Logger, stop <-chan os.Signal) error {
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("idle_timeout", cfg.Server.IdleTimeout),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.Int("queue_size", cfg.Pipeline.QueueSize),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("keyboard_enabled", cfg.Keyboard.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	table, triggers, err := buildTables(cfg)
	if err != nil {
		return fmt.Errorf("failed to build command tables: %w", err)
	}

	presser, closeKeyboard := openKeyboard(cfg, logger, unionActions(table.Actions(), triggers.Actions()))
	defer closeKeyboard()

	dispatcher := dispatch.NewDispatcher(table, triggers, presser, logger, appMetrics)
	logger.Info("Command dispatcher initialized",
		slog.Int("commands", table.Len()),
		slog.Int("actions", len(dispatcher.Actions())),
	)

	transcriber, err := transcription.New(transcription.Config{
		Backend:       cfg.Transcription.Backend,
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		OutputFormat:  cfg.Transcription.OutputFormat,
		TextPath:      cfg.Transcription.TextPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}

	recorder, err := audio.NewRecorder(cfg.Audio.SaveDir)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}

	var transcriptDispatcher pipeline.TranscriptDispatcher
	if cfg.Pipeline.TextTriggers {
		transcriptDispatcher = dispatcher
	}

	pool := pipeline.New(pipeline.Config{
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		SubmitTimeout: cfg.Pipeline.GetSubmitTimeout(),
		JobTimeout:    cfg.Pipeline.GetJobTimeout(),
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
		Language:     cfg.Transcription.Language,
		Prompt:       cfg.Transcription.Prompt,
		TextTriggers: cfg.Pipeline.TextTriggers,
	}, transcriber, transcriptDispatcher, recorder, logger, appMetrics)
	pool.Start()

	manager := stream.NewManager(logger, cfg.Server.GetIdleTimeout())

	tcpServer := server.NewTCPServer(cfg, logger, manager, dispatcher, pool, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, manager, tcpServer, pool, transcriber, appMetrics)
	}

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Connections go first so nothing new reaches the pipeline while it drains
		if err := tcpServer.Stop(); err != nil {
			logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
		}

		if err := pool.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping transcription pipeline", slog.String("error", err.Error()))
		} else if closer, ok := transcriber.(interface{ Close() error }); ok {
			// Close waits for in-flight requests, only safe once the workers are gone
			if err := closer.Close(); err != nil {
				logger.Warn("Error closing transcriber", slog.String("error", err.Error()))
			}
		}

		manager.Stop()

		if httpServer != nil {
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}
	}

	if err := tcpServer.Start(); err != nil {
		shutdown()
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			shutdown()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for watch connections...",
		slog.String("address", tcpServer.Addr().String()),
	)

	sig := <-stop
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdown()

	tcpStats := tcpServer.GetStatistics()
	pipelineStats := pool.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("connections_accepted", tcpStats.ConnectionsAccepted),
		slog.Uint64("frames_decoded", tcpStats.FramesDecoded),
		slog.Uint64("recordings_submitted", tcpStats.RecordingsSubmitted),
		slog.Uint64("jobs_processed", pipelineStats.Processed),
		slog.Uint64("jobs_failed", pipelineStats.Failed),
		slog.Uint64("jobs_dropped", pipelineStats.Dropped),
	)

	logger.Info("Service stopped")
	return nil
}

// buildTables returns the configured command table and transcript triggers,
// falling back to the built-in ones when a section is empty
func buildTables(cfg *config.Config) (*dispatch.Table, *dispatch.Triggers, error) {
	table := dispatch.DefaultTable()
	if len(cfg.Commands) > 0 {
		t, err := dispatch.NewTable(cfg.Commands)
		if err != nil {
			return nil, nil, err
		}
		table = t
	}

	triggers := dispatch.DefaultTriggers()
	if len(cfg.Triggers) > 0 {
		t, err := dispatch.NewTriggers(cfg.Triggers)
		if err != nil {
			return nil, nil, err
		}
		triggers = t
	}

	return table, triggers, nil
}

// openKeyboard creates the virtual keyboard, or a log-only presser when the
// keyboard is disabled or uinput is unavailable
func openKeyboard(cfg *config.Config, logger *slog.Logger, actions []dispatch.ActionToken) (dispatch.Presser, func()) {
	if !cfg.Keyboard.Enabled {
		logger.Info("Virtual keyboard disabled, key presses will only be logged")
		return keyboard.NewLogDevice(logger), func() {}
	}

	device, err := keyboard.Open(actions,
		keyboard.WithSettleDelay(cfg.Keyboard.GetSettleDelay()),
		keyboard.WithLogger(logger),
	)
	if err != nil {
		logger.Warn("Failed to open virtual keyboard, key presses will only be logged",
			slog.String("error", err.Error()),
		)
		return keyboard.NewLogDevice(logger), func() {}
	}

	return device, func() {
		if err := device.Close(); err != nil {
			logger.Warn("Error closing virtual keyboard", slog.String("error", err.Error()))
		}
	}
}

func unionActions(sets ...[]dispatch.ActionToken) []dispatch.ActionToken {
	seen := make(map[dispatch.ActionToken]bool)
	var actions []dispatch.ActionToken
	for _, set := range sets {
		for _, action := range set {
			if !seen[action] {
				seen[action] = true
				actions = append(actions, action)
			}
		}
	}
	return actions
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

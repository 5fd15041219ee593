package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saltchicken/watch-controller/internal/dispatch"
)

// Environment variables that override the configuration file
const (
	EnvPort                  = "WATCH_PORT"
	EnvTranscriptionAPIKey   = "WATCH_TRANSCRIPTION_API_KEY"
	EnvTranscriptionEndpoint = "WATCH_TRANSCRIPTION_ENDPOINT"
	EnvLogLevel              = "WATCH_LOG_LEVEL"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Audio         AudioConfig         `yaml:"audio" json:"audio"`
	Pipeline      PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	Keyboard      KeyboardConfig      `yaml:"keyboard" json:"keyboard"`
	Commands      map[string]string   `yaml:"commands" json:"commands,omitempty"` // frame token -> action, empty means the built-in table
	Triggers      map[string]string   `yaml:"triggers" json:"triggers,omitempty"` // transcript phrase -> action, empty means the built-in triggers
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// ServerConfig contains TCP server configuration
type ServerConfig struct {
	Port           int    `yaml:"port" json:"port"`
	BindAddress    string `yaml:"bind_address" json:"bind_address"`
	ReadBufferSize int    `yaml:"read_buffer_size" json:"read_buffer_size"`
	MaxFrameSize   int    `yaml:"max_frame_size" json:"max_frame_size"` // bytes, 0 = unbounded
	IdleTimeout    int    `yaml:"idle_timeout" json:"idle_timeout"`     // seconds, 0 = never
	MaxConnections int    `yaml:"max_connections" json:"max_connections"` // 0 = unlimited
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// AudioConfig describes the PCM the watch sends and what to do with it
type AudioConfig struct {
	SampleRate        int    `yaml:"sample_rate" json:"sample_rate"`
	Channels          int    `yaml:"channels" json:"channels"`
	BitDepth          int    `yaml:"bit_depth" json:"bit_depth"`
	MaxRecordingBytes int    `yaml:"max_recording_bytes" json:"max_recording_bytes"` // 0 = unbounded
	SaveDir           string `yaml:"save_dir" json:"save_dir"`                       // empty disables persistence
}

// PipelineConfig contains transcription worker pool configuration
type PipelineConfig struct {
	Workers         int  `yaml:"workers" json:"workers"`
	QueueSize       int  `yaml:"queue_size" json:"queue_size"`
	SubmitTimeoutMs int  `yaml:"submit_timeout_ms" json:"submit_timeout_ms"`
	JobTimeout      int  `yaml:"job_timeout" json:"job_timeout"` // seconds, 0 = none
	TextTriggers    bool `yaml:"text_triggers" json:"text_triggers"`
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // http, openai or none
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	APIKey        string `yaml:"api_key" json:"api_key"`
	Model         string `yaml:"model" json:"model"`
	Language      string `yaml:"language" json:"language"`
	Prompt        string `yaml:"prompt" json:"prompt"`
	Timeout       int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" json:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent"`
	OutputFormat  string `yaml:"output_format" json:"output_format"`
	TextPath      string `yaml:"text_path" json:"text_path"`
}

// KeyboardConfig contains virtual keyboard configuration
type KeyboardConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	SettleDelayMs int  `yaml:"settle_delay_ms" json:"settle_delay_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           5001,
			BindAddress:    "0.0.0.0",
			ReadBufferSize: 1024,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			BitDepth:          16,
			MaxRecordingBytes: 16 << 20,
		},
		Pipeline: PipelineConfig{
			Workers:         1,
			QueueSize:       8,
			SubmitTimeoutMs: 250,
			JobTimeout:      120,
			TextTriggers:    true,
		},
		Transcription: TranscriptionConfig{
			Backend:       "http",
			Endpoint:      "http://localhost:8000/transcribe",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 4,
			OutputFormat:  "json",
			TextPath:      "text",
		},
		Keyboard: KeyboardConfig{
			Enabled:       true,
			SettleDelayMs: 2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then .env and environment overrides, then validation
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadDotEnv loads variables from a .env file without overriding the real environment
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the WATCH_* environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}

	if v, ok := os.LookupEnv(EnvTranscriptionAPIKey); ok {
		c.Transcription.APIKey = v
	}

	if v, ok := os.LookupEnv(EnvTranscriptionEndpoint); ok {
		c.Transcription.Endpoint = v
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Keyboard.Validate(); err != nil {
		return fmt.Errorf("keyboard config: %w", err)
	}

	if err := validateActions(c.Commands); err != nil {
		return fmt.Errorf("commands: %w", err)
	}

	if err := validateActions(c.Triggers); err != nil {
		return fmt.Errorf("triggers: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateActions(entries map[string]string) error {
	for key, action := range entries {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("entry for %q has an empty key", action)
		}
		if _, err := dispatch.ParseAction(action); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.ReadBufferSize < 64 {
		return fmt.Errorf("read_buffer_size must be at least 64 bytes, got %d", s.ReadBufferSize)
	}

	if s.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size cannot be negative, got %d", s.MaxFrameSize)
	}

	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	if s.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative, got %d", s.MaxConnections)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MaxRecordingBytes < 0 {
		return fmt.Errorf("max_recording_bytes cannot be negative, got %d", a.MaxRecordingBytes)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}

	if p.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", p.QueueSize)
	}

	if p.SubmitTimeoutMs < 0 || p.SubmitTimeoutMs > 5000 {
		return fmt.Errorf("submit_timeout_ms must be between 0 and 5000, got %d", p.SubmitTimeoutMs)
	}

	if p.JobTimeout < 0 {
		return fmt.Errorf("job_timeout cannot be negative, got %d", p.JobTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "openai":
		if t.APIKey == "" && t.Endpoint == "" {
			return fmt.Errorf("api_key or endpoint is required for the openai backend")
		}
	case "none":
		return nil
	default:
		return fmt.Errorf("backend must be one of [http, openai, none], got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	if t.OutputFormat == "json" && t.TextPath == "" {
		return fmt.Errorf("text_path cannot be empty with json output")
	}

	return nil
}

// Validate validates keyboard configuration
func (k *KeyboardConfig) Validate() error {
	if k.SettleDelayMs < 0 {
		return fmt.Errorf("settle_delay_ms cannot be negative, got %d", k.SettleDelayMs)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path

	return nil
}

// Redacted returns a copy safe to expose over the monitoring API
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.Transcription.APIKey != "" {
		redacted.Transcription.APIKey = "***"
	}
	return redacted
}

// GetIdleTimeout returns the idle timeout as a time.Duration
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetSubmitTimeout returns the queue submit timeout as a time.Duration
func (p *PipelineConfig) GetSubmitTimeout() time.Duration {
	return time.Duration(p.SubmitTimeoutMs) * time.Millisecond
}

// GetJobTimeout returns the per-job timeout as a time.Duration
func (p *PipelineConfig) GetJobTimeout() time.Duration {
	return time.Duration(p.JobTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetSettleDelay returns the uinput settle delay as a time.Duration
func (k *KeyboardConfig) GetSettleDelay() time.Duration {
	return time.Duration(k.SettleDelayMs) * time.Millisecond
}

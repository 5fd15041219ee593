package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}

	if cfg.Server.Port != 5001 || cfg.Server.BindAddress != "0.0.0.0" {
		t.Errorf("Unexpected listener defaults: %+v", cfg.Server)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.BitDepth != 16 {
		t.Errorf("Unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Pipeline.Workers != 1 {
		t.Errorf("Expected 1 worker by default, got %d", cfg.Pipeline.Workers)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty bind address",
			mutate:      func(c *Config) { c.Server.BindAddress = "" },
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
		{
			name:        "tiny read buffer",
			mutate:      func(c *Config) { c.Server.ReadBufferSize = 8 },
			expectError: true,
			errorMsg:    "read_buffer_size",
		},
		{
			name:        "negative idle timeout",
			mutate:      func(c *Config) { c.Server.IdleTimeout = -1 },
			expectError: true,
			errorMsg:    "idle_timeout",
		},
		{
			name: "http disabled skips validation",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 0 },
			expectError: true,
			errorMsg:    "http port",
		},
		{
			name:        "unsupported bit depth",
			mutate:      func(c *Config) { c.Audio.BitDepth = 24 },
			expectError: true,
			errorMsg:    "bit_depth must be 16",
		},
		{
			name:        "zero workers",
			mutate:      func(c *Config) { c.Pipeline.Workers = 0 },
			expectError: true,
			errorMsg:    "workers must be at least 1",
		},
		{
			name:        "submit timeout too long",
			mutate:      func(c *Config) { c.Pipeline.SubmitTimeoutMs = 60000 },
			expectError: true,
			errorMsg:    "submit_timeout_ms",
		},
		{
			name:        "unknown backend",
			mutate:      func(c *Config) { c.Transcription.Backend = "carrier-pigeon" },
			expectError: true,
			errorMsg:    "backend must be one of",
		},
		{
			name:        "http backend without endpoint",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name: "openai backend with key",
			mutate: func(c *Config) {
				c.Transcription.Backend = "openai"
				c.Transcription.Endpoint = ""
				c.Transcription.APIKey = "sk-test"
			},
		},
		{
			name: "openai backend without credentials",
			mutate: func(c *Config) {
				c.Transcription.Backend = "openai"
				c.Transcription.Endpoint = ""
			},
			expectError: true,
			errorMsg:    "api_key or endpoint",
		},
		{
			name: "none backend ignores the rest",
			mutate: func(c *Config) {
				c.Transcription.Backend = "none"
				c.Transcription.Endpoint = ""
				c.Transcription.Timeout = 0
			},
		},
		{
			name:        "invalid output format",
			mutate:      func(c *Config) { c.Transcription.OutputFormat = "xml" },
			expectError: true,
			errorMsg:    "output_format",
		},
		{
			name:   "custom commands",
			mutate: func(c *Config) { c.Commands = map[string]string{"Tap": "play-pause"} },
		},
		{
			name:        "unknown command action",
			mutate:      func(c *Config) { c.Commands = map[string]string{"Tap": "self-destruct"} },
			expectError: true,
			errorMsg:    "unknown action",
		},
		{
			name:        "empty trigger phrase",
			mutate:      func(c *Config) { c.Triggers = map[string]string{" ": "enter"} },
			expectError: true,
			errorMsg:    "empty key",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  port: 6001
  idle_timeout: 300
pipeline:
  workers: 2
  queue_size: 16
transcription:
  backend: "http"
  endpoint: "https://api.example.com/transcribe"
  text_path: "result.text"
commands:
  "Double Tap": "enter"
logging:
  level: "debug"
`,
			check: func(t *testing.T, c *Config) {
				if c.Server.Port != 6001 || c.Server.IdleTimeout != 300 {
					t.Errorf("Unexpected server config: %+v", c.Server)
				}
				// Unset fields keep their defaults
				if c.Server.BindAddress != "0.0.0.0" || c.Server.ReadBufferSize != 1024 {
					t.Errorf("Expected defaults to survive, got %+v", c.Server)
				}
				if c.Pipeline.Workers != 2 || c.Pipeline.SubmitTimeoutMs != 250 {
					t.Errorf("Unexpected pipeline config: %+v", c.Pipeline)
				}
				if c.Commands["Double Tap"] != "enter" {
					t.Errorf("Expected custom command, got %v", c.Commands)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("Expected debug level, got %s", c.Logging.Level)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  port: 5001
  read_buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid values",
			configYAML: `
server:
  bind_address: ""
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadWithoutFile(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults to load, got %v", err)
	}
	if config.Server.Port != 5001 {
		t.Errorf("Expected default port, got %d", config.Server.Port)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "7001")
	t.Setenv(EnvTranscriptionAPIKey, "env-key")
	t.Setenv(EnvTranscriptionEndpoint, "http://env.example.com/stt")
	t.Setenv(EnvLogLevel, "WARN")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Port != 7001 {
		t.Errorf("Expected port 7001, got %d", config.Server.Port)
	}
	if config.Transcription.APIKey != "env-key" {
		t.Errorf("Expected API key from env, got %q", config.Transcription.APIKey)
	}
	if config.Transcription.Endpoint != "http://env.example.com/stt" {
		t.Errorf("Expected endpoint from env, got %q", config.Transcription.Endpoint)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected warn level, got %q", config.Logging.Level)
	}
}

func TestEnvOverrideInvalidPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")

	if _, err := Load(""); err == nil || !contains(err.Error(), EnvPort) {
		t.Errorf("Expected error naming %s, got %v", EnvPort, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WATCH_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("WATCH_TEST_DOTENV") })

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}
	if got := os.Getenv("WATCH_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected variable from .env, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Transcription.APIKey = "secret"

	redacted := cfg.Redacted()
	if redacted.Transcription.APIKey != "***" {
		t.Errorf("Expected redacted API key, got %q", redacted.Transcription.APIKey)
	}
	if cfg.Transcription.APIKey != "secret" {
		t.Error("Redacted must not modify the original")
	}
}

func TestDurationHelpers(t *testing.T) {
	server := ServerConfig{IdleTimeout: 90}
	if server.GetIdleTimeout() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", server.GetIdleTimeout())
	}

	pipeline := PipelineConfig{SubmitTimeoutMs: 250, JobTimeout: 60}
	if pipeline.GetSubmitTimeout() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", pipeline.GetSubmitTimeout())
	}
	if pipeline.GetJobTimeout() != time.Minute {
		t.Errorf("Expected 1 minute, got %v", pipeline.GetJobTimeout())
	}

	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	keyboard := KeyboardConfig{SettleDelayMs: 1500}
	if keyboard.GetSettleDelay() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", keyboard.GetSettleDelay())
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Package config provides configuration loading and validation for the watch controller.
// It handles YAML-based configuration with defaults, .env and environment overrides,
// and per-section validation.
package config

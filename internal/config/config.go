// Package config provides the configuration schema and loader for the
// dispatchd call-handling system.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML values can use the usual Go
// duration syntax ("100ms", "10s").
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for dispatchd processes.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for dispatchd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Voice      ProviderEntry    `yaml:"voice"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Signals    SignalsConfig    `yaml:"signals"`
	Capture    CaptureConfig    `yaml:"capture"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the address for the admin HTTP server serving health
	// probes and Prometheus metrics. Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// ProviderEntry is the common configuration block shared by external
// provider connections.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "hume").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// ConfigID is the provider-side session configuration token.
	ConfigID string `yaml:"config_id"`
}

// ClassifierConfig selects the LLM backend used to classify transcripts.
type ClassifierConfig struct {
	// Provider selects the LLM backend (e.g., "groq", "openai", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the backend.
	Model string `yaml:"model"`

	// APIKey is the authentication key, when the backend needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each classification request. Validate fills in a
	// 30-second default when unset; the call is never unbounded.
	Timeout Duration `yaml:"timeout"`

	// Fallbacks lists additional backends tried in order when the primary
	// fails or its circuit breaker is open.
	Fallbacks []ClassifierBackend `yaml:"fallbacks"`
}

// ClassifierBackend describes one fallback LLM backend.
type ClassifierBackend struct {
	// Provider selects the LLM backend.
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the backend.
	Model string `yaml:"model"`

	// APIKey is the authentication key, when the backend needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	// PostgresDSN is the connection string for the conversations database.
	// When empty, records are kept in memory and lost on exit.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TranscriptConfig holds the live transcript surface settings.
type TranscriptConfig struct {
	// Path is the transcript file location. Truncated at call start,
	// appended to while streaming, readable at any time.
	Path string `yaml:"path"`

	// Places lists known street and landmark names for phonetic correction
	// of caller speech. When empty, no correction is applied.
	Places []string `yaml:"places"`
}

// SignalsConfig holds the durable marker channel settings.
type SignalsConfig struct {
	// Dir is the directory holding the stop and completion markers.
	Dir string `yaml:"dir"`

	// PollInterval is how often marker presence is checked. Must stay
	// sub-second so audio never delays stop detection noticeably.
	PollInterval Duration `yaml:"poll_interval"`
}

// CaptureConfig holds microphone capture settings.
type CaptureConfig struct {
	// Command is the capture binary. Defaults to "ffmpeg".
	Command string `yaml:"command"`

	// InputFormat is the capture backend (e.g., "pulse", "alsa", "avfoundation").
	InputFormat string `yaml:"input_format"`

	// InputDevice is the device identifier passed to the backend.
	InputDevice string `yaml:"input_device"`

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Defaults to 1.
	Channels int `yaml:"channels"`
}

// SupervisorConfig holds escalation windows for the worker supervisor.
type SupervisorConfig struct {
	// Command is the worker command line to launch.
	Command []string `yaml:"command"`

	// StopGrace is how long the worker gets to exit after a stop request.
	StopGrace Duration `yaml:"stop_grace"`

	// KillGrace is how long the worker gets after a graceful terminate
	// before being force-killed.
	KillGrace Duration `yaml:"kill_grace"`
}

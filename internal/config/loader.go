package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"voice":      {"hume"},
	"classifier": {"groq", "openai", "openai-native", "anthropic", "gemini", "ollama", "deepseek", "mistral"},
}

// Defaults applied by [Validate] when fields are unset.
const (
	DefaultTranscriptPath    = "conversations.txt"
	DefaultSignalsDir        = "."
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultClassifierTimeout = Duration(30 * time.Second)
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("voice", cfg.Voice.Name)
	validateProviderName("classifier", cfg.Classifier.Provider)

	if cfg.Voice.Name != "" && cfg.Voice.APIKey == "" {
		errs = append(errs, fmt.Errorf("voice.api_key is required when voice.name is set"))
	}
	if cfg.Classifier.Provider != "" && cfg.Classifier.Model == "" {
		errs = append(errs, fmt.Errorf("classifier.model is required when classifier.provider is set"))
	}
	if cfg.Classifier.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout must not be negative"))
	}
	if cfg.Classifier.Timeout == 0 {
		// An unset timeout would leave the classification call unbounded.
		cfg.Classifier.Timeout = DefaultClassifierTimeout
	}
	for i, fb := range cfg.Classifier.Fallbacks {
		validateProviderName("classifier", fb.Provider)
		if fb.Provider == "" || fb.Model == "" {
			errs = append(errs, fmt.Errorf("classifier.fallbacks[%d] needs both provider and model", i))
		}
	}

	// Signals
	if cfg.Signals.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("signals.poll_interval must not be negative"))
	}
	if cfg.Signals.PollInterval.Std() >= time.Second {
		errs = append(errs, fmt.Errorf("signals.poll_interval %v is too coarse; stop detection must stay sub-second", cfg.Signals.PollInterval))
	}
	if cfg.Signals.Dir == "" {
		cfg.Signals.Dir = DefaultSignalsDir
	}

	// Transcript
	if cfg.Transcript.Path == "" {
		cfg.Transcript.Path = DefaultTranscriptPath
	}

	// Capture
	if cfg.Capture.SampleRate < 0 || cfg.Capture.Channels < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate and capture.channels must not be negative"))
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = DefaultChannels
	}

	// Supervisor
	if cfg.Supervisor.StopGrace < 0 || cfg.Supervisor.KillGrace < 0 {
		errs = append(errs, fmt.Errorf("supervisor grace periods must not be negative"))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("no store configured; records will be kept in memory and lost on exit")
	}

	return errors.Join(errs...)
}

// validateProviderName warns if a provider name is set but unrecognised.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name; continuing anyway", "kind", kind, "name", name)
	}
}

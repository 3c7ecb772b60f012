// Command dispatchd handles one emergency call end to end: it streams the
// caller against the voice provider, writes the live transcript, and when the
// call stops it classifies the transcript and persists the resulting record.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/telawney/dispatchd/internal/capture"
	"github.com/telawney/dispatchd/internal/classify"
	"github.com/telawney/dispatchd/internal/config"
	"github.com/telawney/dispatchd/internal/health"
	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/observe"
	"github.com/telawney/dispatchd/internal/record"
	"github.com/telawney/dispatchd/internal/resilience"
	"github.com/telawney/dispatchd/internal/session"
	"github.com/telawney/dispatchd/internal/transcript"
	"github.com/telawney/dispatchd/internal/transcript/gazetteer"
	"github.com/telawney/dispatchd/pkg/provider/llm"
	"github.com/telawney/dispatchd/pkg/provider/llm/anyllm"
	oaillm "github.com/telawney/dispatchd/pkg/provider/llm/openai"
	"github.com/telawney/dispatchd/pkg/provider/voice"
	"github.com/telawney/dispatchd/pkg/provider/voice/hume"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("dispatchd starting",
		"config", *configPath,
		"voice", cfg.Voice.Name,
		"classifier", cfg.Classifier.Provider,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitTelemetry("dispatchd")
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Record store ──────────────────────────────────────────────────────────
	store, storeClose, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open record store", "err", err)
		return 1
	}
	defer storeClose()

	// ── Providers ─────────────────────────────────────────────────────────────
	voiceProvider, err := buildVoiceProvider(cfg)
	if err != nil {
		slog.Error("failed to build voice provider", "err", err)
		return 1
	}
	classifier, err := buildClassifier(cfg)
	if err != nil {
		slog.Error("failed to build classifier", "err", err)
		return 1
	}

	// ── Shared surfaces ───────────────────────────────────────────────────────
	signals, err := ipc.New(cfg.Signals.Dir, ipc.WithPollInterval(cfg.Signals.PollInterval.Std()))
	if err != nil {
		slog.Error("failed to open signal channel", "err", err)
		return 1
	}
	var sink transcript.Sink = transcript.NewFileSink(cfg.Transcript.Path)
	if len(cfg.Transcript.Places) > 0 {
		sink = transcript.NewCorrectingSink(sink, gazetteer.New(cfg.Transcript.Places))
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		checkers := []health.Checker{
			{Name: "signals", Check: func(context.Context) error {
				_, err := signals.StopRequested()
				return err
			}},
		}
		if ps, ok := store.(*record.PostgresStore); ok {
			checkers = append(checkers, health.Checker{Name: "store", Check: ps.Ping})
		}
		admin := health.New(checkers...)
		go func() {
			if err := admin.Serve(ctx, cfg.Server.ListenAddr); err != nil {
				slog.Warn("admin server stopped", "err", err)
			}
		}()
	}

	// ── Run the call ──────────────────────────────────────────────────────────
	controller := session.New(voiceProvider, capture.NewFFmpeg(cfg.Capture.Command), sink, session.Config{
		Voice: voice.SessionConfig{ConfigID: cfg.Voice.ConfigID},
		Capture: capture.Config{
			SampleRate:  cfg.Capture.SampleRate,
			Channels:    cfg.Capture.Channels,
			InputFormat: cfg.Capture.InputFormat,
			InputDevice: cfg.Capture.InputDevice,
		},
	}, session.WithSignals(signals))

	slog.Info("call ready — press Ctrl+C or raise the stop marker to end it")
	runErr := controller.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("call failed", "err", runErr)
		// Fall through: whatever transcript exists is still worth a record.
	}

	// ── Classify the finished call ────────────────────────────────────────────
	text, err := sink.ReadAll()
	if err != nil {
		slog.Error("failed to read transcript", "err", err)
		return 1
	}
	if sessionFailed(runErr, text) {
		slog.Error("session failed before any speech was captured")
		return 1
	}

	classifyCtx := context.Background()
	if timeout := cfg.Classifier.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(classifyCtx, timeout)
		defer cancel()
	}

	pipeline := classify.New(classifier, store, classify.WithSignals(signals))
	rec, err := pipeline.Run(classifyCtx, text)
	if err != nil {
		slog.Error("classification failed", "err", err)
		return 1
	}
	if rec == nil {
		slog.Info("call produced no speech, nothing recorded")
		return 0
	}

	slog.Info("call recorded",
		"record_id", rec.ID,
		"criticality", rec.Criticality,
		"is_spam", rec.IsSpam,
	)
	return 0
}

// sessionFailed reports whether a session error should abort the worker
// outright. A mid-stream failure with a partial transcript still gets
// classified; a failure before any speech was captured (connect refused, bad
// auth) has nothing worth a record and must surface as a failed run so the
// supervisor sees it.
func sessionFailed(runErr error, transcript string) bool {
	if runErr == nil || errors.Is(runErr, context.Canceled) {
		return false
	}
	return strings.TrimSpace(transcript) == ""
}

// buildStore opens the configured record store, falling back to an in-memory
// store when no DSN is set.
func buildStore(ctx context.Context, cfg *config.Config) (record.Store, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		return &record.MemStore{}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := record.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store, pool.Close, nil
}

// buildVoiceProvider constructs the configured voice streaming provider.
func buildVoiceProvider(cfg *config.Config) (voice.Provider, error) {
	switch cfg.Voice.Name {
	case "", "hume":
		var opts []hume.Option
		if cfg.Voice.BaseURL != "" {
			opts = append(opts, hume.WithBaseURL(cfg.Voice.BaseURL))
		}
		return hume.New(cfg.Voice.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown voice provider %q", cfg.Voice.Name)
	}
}

// buildClassifier constructs the configured LLM backend, wrapping it in a
// failover chain when fallbacks are configured.
func buildClassifier(cfg *config.Config) (llm.Provider, error) {
	primaryName := cfg.Classifier.Provider
	if primaryName == "" {
		primaryName = "groq"
	}
	primary, err := buildBackend(primaryName, config.ClassifierBackend{
		Provider: primaryName,
		Model:    cfg.Classifier.Model,
		APIKey:   cfg.Classifier.APIKey,
		BaseURL:  cfg.Classifier.BaseURL,
	}, cfg.Classifier.Timeout.Std())
	if err != nil {
		return nil, err
	}
	if len(cfg.Classifier.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewClassifier(primaryName, primary, resilience.BreakerConfig{})
	for _, fb := range cfg.Classifier.Fallbacks {
		backend, err := buildBackend(fb.Provider, fb, cfg.Classifier.Timeout.Std())
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Provider, err)
		}
		chain.AddFallback(fb.Provider, backend)
	}
	return chain, nil
}

// buildBackend constructs one LLM backend. Groq is the default; the
// "openai-native" name selects the first-party SDK client instead of the
// any-llm bridge.
func buildBackend(name string, entry config.ClassifierBackend, timeout time.Duration) (llm.Provider, error) {
	if name == "openai-native" {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(timeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(name, entry.Model, opts...)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

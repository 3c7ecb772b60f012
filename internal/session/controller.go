// Package session runs the lifecycle of a single emergency call: connect the
// voice provider, pump microphone audio into it, collect role-tagged
// utterances into the transcript, and tear everything down when a stop is
// requested.
//
// A [Controller] drives exactly one call at a time and is safe for concurrent
// use of its observation and stop methods while Run is in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telawney/dispatchd/internal/capture"
	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/observe"
	"github.com/telawney/dispatchd/internal/transcript"
	"github.com/telawney/dispatchd/pkg/provider/voice"
)

// State describes where a call is in its lifecycle.
type State int

const (
	// StateIdle is the state before Run is called.
	StateIdle State = iota
	// StateConnecting covers provider connect and capture start.
	StateConnecting
	// StateStreaming is the steady state: audio flowing up, utterances
	// flowing down.
	StateStreaming
	// StateStopping covers teardown after a stop was requested.
	StateStopping
	// StateClosed is the terminal state after a clean teardown.
	StateClosed
	// StateErrored is the terminal state after a streaming failure.
	StateErrored
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// audioChunkSize is the read size for microphone audio forwarded upstream.
const audioChunkSize = 4096

// Config bundles the per-call settings for a [Controller].
type Config struct {
	// Voice is the provider session configuration.
	Voice voice.SessionConfig

	// Capture is the microphone capture configuration.
	Capture capture.Config
}

// Option configures a [Controller].
type Option func(*Controller)

// WithSignals makes the controller honour durable stop markers: stale markers
// are cleared at call start, and a freshly raised marker stops the call.
func WithSignals(ch *ipc.Channel) Option {
	return func(c *Controller) { c.signals = ch }
}

// WithAudioOutput directs operator audio from the provider to w. By default
// incoming audio is drained and discarded.
func WithAudioOutput(w io.Writer) Option {
	return func(c *Controller) { c.audioOut = w }
}

// WithMetrics sets the metrics instance used for instrumentation. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller runs one voice call from connect to teardown.
type Controller struct {
	provider voice.Provider
	device   capture.Device
	sink     transcript.Sink
	cfg      Config

	signals  *ipc.Channel
	audioOut io.Writer
	metrics  *observe.Metrics

	mu       sync.Mutex
	state    State
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a [Controller] for a single call.
func New(provider voice.Provider, device capture.Device, sink transcript.Sink, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		device:   device,
		sink:     sink,
		cfg:      cfg,
		state:    StateIdle,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestStop asks the running call to stop. It is idempotent and safe to
// call from any goroutine, including before Run observes it.
func (c *Controller) RequestStop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stopCh)
	})
}

// IsStopped reports whether a stop has been requested.
func (c *Controller) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the call until a stop is requested, the context is cancelled,
// or the streaming layer fails. The transcript sink is reset at the start so
// the call's transcript never mixes with a previous one.
//
// A requested stop or context cancellation is a normal outcome and returns
// nil; only connect/capture setup failures and streaming errors are returned.
func (c *Controller) Run(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "session.run")
	defer span.End()
	log := observe.Logger(ctx)

	if err := c.sink.Reset(); err != nil {
		return fmt.Errorf("session: reset transcript: %w", err)
	}
	if c.signals != nil {
		// A marker left over from a previous call must not stop this one.
		if err := c.signals.ClearStop(); err != nil {
			return fmt.Errorf("session: clear stale stop marker: %w", err)
		}
	}

	c.setState(StateConnecting)
	handle, err := c.provider.Connect(ctx, c.cfg.Voice)
	if err != nil {
		c.setState(StateErrored)
		return fmt.Errorf("session: connect voice provider: %w", err)
	}

	capSess, err := c.device.Start(ctx, c.cfg.Capture)
	if err != nil {
		c.setState(StateErrored)
		c.release(ctx, nil, handle)
		return fmt.Errorf("session: start audio capture: %w", err)
	}

	c.setState(StateStreaming)
	c.metrics.ActiveSessions.Add(ctx, 1)
	start := time.Now()
	log.Info("call streaming", "config_id", c.cfg.Voice.ConfigID)

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)

	// Teardown must run as soon as the call ends for any reason: the capture
	// read and the provider channels only unblock once their ends are
	// released. Guarded by a Once so the post-Wait call is a no-op when the
	// watcher already ran it.
	var tdOnce sync.Once
	teardown := func() {
		tdOnce.Do(func() { c.release(ctx, capSess, handle) })
	}
	go func() {
		<-runCtx.Done()
		teardown()
	}()

	// Microphone pump: capture device into the provider.
	g.Go(func() error {
		buf := make([]byte, audioChunkSize)
		for {
			n, readErr := capSess.Read(buf)
			if n > 0 {
				if sendErr := handle.SendAudio(buf[:n]); sendErr != nil {
					return fmt.Errorf("send audio: %w", sendErr)
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) || runCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read capture: %w", readErr)
			}
		}
	})

	// Utterance drain: provider transcript events into the sink.
	g.Go(func() error {
		for utt := range handle.Utterances() {
			if appendErr := c.sink.Append(string(utt.Role), utt.Text); appendErr != nil {
				log.Error("append transcript turn failed", "error", appendErr)
				continue
			}
			c.metrics.RecordUtterance(runCtx, string(utt.Role))
		}
		// Channel closure means the provider session ended; surface its
		// error unless we asked for the teardown ourselves.
		if err := handle.Err(); err != nil && runCtx.Err() == nil && !c.IsStopped() {
			return fmt.Errorf("voice session: %w", err)
		}
		return nil
	})

	// Operator audio drain. Audio must always be consumed so the provider
	// session never blocks, even when nobody is listening.
	g.Go(func() error {
		for chunk := range handle.Audio() {
			if c.audioOut == nil {
				continue
			}
			if _, writeErr := c.audioOut.Write(chunk); writeErr != nil {
				log.Error("write operator audio failed", "error", writeErr)
				c.audioOut = nil
			}
		}
		return nil
	})

	// Stop watcher: durable marker, explicit request, or cancellation.
	g.Go(func() error {
		source, err := c.awaitStop(runCtx)
		if err != nil {
			return nil
		}
		log.Info("stop requested", "source", source)
		c.metrics.RecordStopSignal(runCtx, source)
		c.RequestStop()
		cancel()
		return nil
	})

	err = g.Wait()
	c.setState(StateStopping)
	cancel()
	teardown()
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.SessionDuration.Record(ctx, time.Since(start).Seconds())

	if c.signals != nil {
		// Observed markers are consumed so the next call starts clean.
		if raised, checkErr := c.signals.StopRequested(); checkErr == nil && raised {
			if clearErr := c.signals.ClearStop(); clearErr != nil {
				log.Error("clear stop marker failed", "error", clearErr)
			}
		}
	}

	if err != nil && ctx.Err() == nil && !c.IsStopped() {
		c.setState(StateErrored)
		c.metrics.RecordStopSignal(ctx, "stream_error")
		return fmt.Errorf("session: %w", err)
	}
	c.setState(StateClosed)
	log.Info("call closed")
	return nil
}

// awaitStop blocks until any stop trigger fires, returning its source.
func (c *Controller) awaitStop(ctx context.Context) (string, error) {
	if c.signals == nil {
		select {
		case <-c.stopCh:
			return "request", nil
		case <-ctx.Done():
			return "cancel", ctx.Err()
		}
	}

	watch := make(chan error, 1)
	go func() { watch <- c.signals.WatchStop(ctx) }()

	select {
	case <-c.stopCh:
		return "request", nil
	case err := <-watch:
		if err != nil {
			return "cancel", err
		}
		return "marker", nil
	case <-ctx.Done():
		return "cancel", ctx.Err()
	}
}

// release frees the capture session and the provider connection. Primary
// release is attempted first; on failure the transport is forcibly closed.
// Failures are logged and never propagated past this boundary.
func (c *Controller) release(ctx context.Context, capSess capture.Session, handle voice.SessionHandle) {
	log := observe.Logger(ctx)

	if capSess != nil {
		if err := capSess.Stop(); err != nil {
			log.Error("stop audio capture failed", "error", err)
		}
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Error("close voice session failed, forcing transport close", "error", err)
			handle.Abort()
		}
	}
}

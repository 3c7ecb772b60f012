// Package supervise runs and winds down a call-handling worker process.
//
// The supervisor and the worker share no memory; all coordination runs over
// the durable markers in [ipc.Channel] and the record store. Stopping a
// worker follows a three-tier escalation: raise the stop marker, wait a grace
// period, send a graceful terminate, wait again, then force-kill. Each timer
// is disarmed the moment the process exits so an already-gone process is
// never signalled.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/observe"
	"github.com/telawney/dispatchd/internal/record"
)

// Default escalation windows.
const (
	// DefaultStopGrace is how long the worker gets to exit after the stop
	// marker is raised.
	DefaultStopGrace = 10 * time.Second

	// DefaultKillGrace is how long the worker gets after a graceful
	// terminate before it is force-killed.
	DefaultKillGrace = 5 * time.Second
)

// ErrNotRunning is returned by operations that need a live worker process.
var ErrNotRunning = errors.New("supervise: worker not running")

// Option configures a [Supervisor].
type Option func(*Supervisor)

// WithStopGrace overrides [DefaultStopGrace].
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.stopGrace = d }
}

// WithKillGrace overrides [DefaultKillGrace].
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.killGrace = d }
}

// Supervisor starts one worker process at a time and coordinates with it
// through the signal channel and the record store.
type Supervisor struct {
	command []string
	signals *ipc.Channel
	store   record.Store

	stopGrace time.Duration
	killGrace time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	waited error
}

// New creates a [Supervisor] that launches command (program plus arguments)
// as the worker. The store may be nil when record resolution is not needed.
func New(command []string, signals *ipc.Channel, store record.Store, opts ...Option) (*Supervisor, error) {
	if len(command) == 0 {
		return nil, errors.New("supervise: empty worker command")
	}
	if signals == nil {
		return nil, errors.New("supervise: nil signal channel")
	}
	s := &Supervisor{
		command:   command,
		signals:   signals,
		store:     store,
		stopGrace: DefaultStopGrace,
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the worker process. The worker inherits stdout/stderr so
// its logs interleave with the supervisor's.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("supervise: worker already started")
	}

	// A done marker left over from a crashed run would be mistaken for this
	// call's completion. Drop it before the worker exists.
	if id, ok, err := s.signals.TakeDone(); err != nil {
		return fmt.Errorf("supervise: clear stale completion marker: %w", err)
	} else if ok {
		observe.Logger(ctx).Warn("cleared stale completion marker", "record_id", id)
	}

	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervise: start worker: %w", err)
	}

	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waited = err
		s.mu.Unlock()
		close(s.exited)
	}()

	observe.Logger(ctx).Info("worker started", "pid", cmd.Process.Pid, "command", s.command[0])
	return nil
}

// Running reports whether a worker process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Wait blocks until the worker exits or ctx is cancelled, returning the
// worker's exit error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited == nil {
		return ErrNotRunning
	}

	select {
	case <-exited:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.waited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop winds the worker down: raise the stop marker, then escalate to a
// graceful terminate and finally a force-kill, each after its grace period.
// Every wait is disarmed as soon as the process exits. Returns once the
// worker is gone.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()
	if cmd == nil {
		return ErrNotRunning
	}
	log := observe.Logger(ctx)

	// Already gone: no need to raise a marker the next run would have to clear.
	select {
	case <-exited:
		return nil
	default:
	}

	if err := s.signals.RequestStop(); err != nil {
		log.Error("raise stop marker failed, escalating immediately", "error", err)
	} else if s.awaitExit(ctx, exited, s.stopGrace) {
		log.Info("worker exited after stop request")
		return nil
	}

	log.Warn("worker still alive after stop grace, terminating", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Error("terminate worker failed", "error", err)
	}
	if s.awaitExit(ctx, exited, s.killGrace) {
		log.Info("worker exited after terminate")
		return nil
	}

	log.Warn("worker still alive after kill grace, force-killing", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("supervise: kill worker: %w", err)
	}
	<-exited
	return nil
}

// awaitExit waits for process exit up to the given duration, reporting
// whether it exited. The timer is released early on exit or cancellation.
func (s *Supervisor) awaitExit(ctx context.Context, exited chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// AwaitRecord blocks until the worker publishes a completion notice, then
// resolves the announced record from the store. The marker is consumed
// exactly once. Returns the resolved record, or nil with no error when the
// store has no row for the announced id yet.
func (s *Supervisor) AwaitRecord(ctx context.Context) (*record.Record, error) {
	id, err := s.signals.AwaitDone(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervise: await completion: %w", err)
	}
	if s.store == nil {
		return nil, fmt.Errorf("supervise: no store to resolve record %s", id)
	}
	rec, err := s.store.QueryByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("supervise: resolve record %s: %w", id, err)
	}
	return rec, nil
}

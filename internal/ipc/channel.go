// Package ipc implements the durable signal channel used to coordinate the
// session process and its supervisor across a process boundary.
//
// The two sides share no memory and no open connection; coordination happens
// through two named markers under a shared directory:
//
//   - the stop marker: raised by the supervisor to request that the active
//     session terminate, observed and cleared by the session controller;
//   - the done marker: raised by the classification pipeline once a record
//     is persisted, carrying the record id as payload, consumed exactly once
//     by the supervisor.
//
// Marker absence is always a valid state, never an error: an observer that
// checks before a marker exists sees "not yet", and one that checks after it
// was consumed sees "nothing to do". Payload markers are published with a
// temp-file-plus-rename so a reader can never observe a half-written payload.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stopMarker = "end_call"
	doneMarker = "classified"

	// DefaultPollInterval keeps termination detection under the sub-second
	// latency bound without busy-waiting.
	DefaultPollInterval = 100 * time.Millisecond
)

// Channel is a signal channel rooted at a filesystem directory.
// All methods are safe for concurrent use across processes.
type Channel struct {
	dir          string
	pollInterval time.Duration
}

// Option is a functional option for configuring a [Channel].
type Option func(*Channel)

// WithPollInterval overrides the interval used by the blocking watch methods.
// Useful in tests to keep suite execution fast.
func WithPollInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a Channel rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Channel, error) {
	if dir == "" {
		return nil, errors.New("ipc: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ipc: create dir %q: %w", dir, err)
	}
	c := &Channel{dir: dir, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ── Stop marker ───────────────────────────────────────────────────────────────

// RequestStop raises the stop marker. Raising an already-raised marker is a
// no-op, so concurrent producers are harmless.
func (c *Channel) RequestStop() error {
	if err := os.WriteFile(c.stopPath(), nil, 0o644); err != nil {
		return fmt.Errorf("ipc: raise stop marker: %w", err)
	}
	return nil
}

// StopRequested reports whether the stop marker is currently raised.
func (c *Channel) StopRequested() (bool, error) {
	return c.exists(c.stopPath())
}

// ClearStop lowers the stop marker. The observer that acted on the marker
// clears it so a second observer cannot re-trigger termination. Clearing an
// absent marker is a no-op.
func (c *Channel) ClearStop() error {
	if err := os.Remove(c.stopPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: clear stop marker: %w", err)
	}
	return nil
}

// WatchStop blocks until the stop marker is raised or ctx is cancelled.
// It polls at the configured interval; detection latency is bounded by one
// interval.
func (c *Channel) WatchStop(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		raised, err := c.StopRequested()
		if err != nil {
			return err
		}
		if raised {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ── Done marker ───────────────────────────────────────────────────────────────

// PublishDone raises the done marker carrying the record id. The payload is
// written to a temp file and renamed into place so observers never see a
// partial payload.
func (c *Channel) PublishDone(recordID string) error {
	if recordID == "" {
		return errors.New("ipc: record id must not be empty")
	}

	tmp, err := os.CreateTemp(c.dir, doneMarker+".tmp-*")
	if err != nil {
		return fmt.Errorf("ipc: create done marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(recordID); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ipc: write done marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ipc: close done marker: %w", err)
	}
	if err := os.Rename(tmpName, c.donePath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ipc: publish done marker: %w", err)
	}
	return nil
}

// TakeDone consumes the done marker, returning its record id payload.
// Returns ok=false when the marker does not exist — either not yet published
// or already consumed by another observer; both are normal.
func (c *Channel) TakeDone() (recordID string, ok bool, err error) {
	data, err := os.ReadFile(c.donePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ipc: read done marker: %w", err)
	}
	if err := os.Remove(c.donePath()); err != nil && !os.IsNotExist(err) {
		return "", false, fmt.Errorf("ipc: consume done marker: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// AwaitDone blocks until the done marker can be consumed or ctx is cancelled.
func (c *Channel) AwaitDone(ctx context.Context) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		id, ok, err := c.TakeDone()
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Channel) stopPath() string { return filepath.Join(c.dir, stopMarker) }
func (c *Channel) donePath() string { return filepath.Join(c.dir, doneMarker) }

func (c *Channel) exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("ipc: stat %q: %w", path, err)
}

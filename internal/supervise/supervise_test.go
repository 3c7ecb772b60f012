package supervise

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/record"
)

func newTestChannel(t *testing.T) (*ipc.Channel, string) {
	t.Helper()
	dir := t.TempDir()
	ch, err := ipc.New(dir, ipc.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("ipc.New() error = %v", err)
	}
	return ch, dir
}

func TestStartAndWait(t *testing.T) {
	signals, _ := newTestChannel(t)
	s, err := New([]string{"sh", "-c", "exit 0"}, signals, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after exit")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	signals, _ := newTestChannel(t)
	s, err := New([]string{"sleep", "10"}, signals, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() error = nil, want rejection")
	}
}

func TestStopGracefulViaMarker(t *testing.T) {
	signals, dir := newTestChannel(t)
	marker := filepath.Join(dir, "end_call")

	// Worker that exits as soon as the stop marker appears.
	script := "while [ ! -f " + marker + " ]; do sleep 0.02; done"
	s, err := New([]string{"sh", "-c", script}, signals, nil,
		WithStopGrace(5*time.Second), WithKillGrace(5*time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Stop() took %v, want well under the stop grace", elapsed)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestStopEscalatesToTerminate(t *testing.T) {
	signals, _ := newTestChannel(t)

	// Worker that ignores the stop marker entirely. SIGTERM takes it down.
	s, err := New([]string{"sleep", "60"}, signals, nil,
		WithStopGrace(100*time.Millisecond), WithKillGrace(5*time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Stop() took %v, want prompt terminate after stop grace", elapsed)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	signals, _ := newTestChannel(t)

	// Worker that ignores both the marker and SIGTERM.
	script := `trap "" TERM; while true; do sleep 0.1; done`
	s, err := New([]string{"sh", "-c", script}, signals, nil,
		WithStopGrace(100*time.Millisecond), WithKillGrace(200*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after force-kill")
	}
}

func TestStopWithoutStart(t *testing.T) {
	signals, _ := newTestChannel(t)
	s, err := New([]string{"sleep", "1"}, signals, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
	if err := s.Wait(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Wait() error = %v, want ErrNotRunning", err)
	}
}

func TestAwaitRecord(t *testing.T) {
	signals, _ := newTestChannel(t)
	store := &record.MemStore{}

	rec := &record.Record{
		ID:          "rec-1",
		Transcript:  "caller: test",
		Timestamp:   time.Now().UTC(),
		Summary:     "Test call",
		Criticality: record.CriticalityLow,
		Caller:      "Unknown",
		Location:    "Unknown",
	}
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	s, err := New([]string{"sleep", "1"}, signals, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := signals.PublishDone("rec-1"); err != nil {
		t.Fatalf("PublishDone() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := s.AwaitRecord(ctx)
	if err != nil {
		t.Fatalf("AwaitRecord() error = %v", err)
	}
	if got == nil || got.ID != "rec-1" {
		t.Fatalf("AwaitRecord() = %+v, want record rec-1", got)
	}

	// The marker was consumed; a second wait must time out rather than
	// re-resolve the same record.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if _, err := s.AwaitRecord(ctx2); err == nil {
		t.Error("second AwaitRecord() error = nil, want timeout")
	}
}

func TestStartClearsStaleDoneMarker(t *testing.T) {
	signals, _ := newTestChannel(t)
	store := &record.MemStore{}

	stale := &record.Record{
		ID:          "rec-stale",
		Transcript:  "caller: old call",
		Timestamp:   time.Now().UTC(),
		Summary:     "Previous call",
		Criticality: record.CriticalityLow,
		Caller:      "Unknown",
		Location:    "Unknown",
	}
	if err := store.Insert(context.Background(), stale); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// A prior run died between publishing its record and the marker being
	// consumed.
	if err := signals.PublishDone("rec-stale"); err != nil {
		t.Fatalf("PublishDone() error = %v", err)
	}

	s, err := New([]string{"sleep", "1"}, signals, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	// The leftover marker must be gone: waiting must time out instead of
	// resolving the previous call's record as this call's result.
	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	got, err := s.AwaitRecord(waitCtx)
	if err == nil {
		t.Fatalf("AwaitRecord() = %+v, want timeout after stale marker cleared", got)
	}

	if _, ok, err := signals.TakeDone(); err != nil {
		t.Fatalf("TakeDone() error = %v", err)
	} else if ok {
		t.Error("done marker still present after Start")
	}
}

func TestNewValidation(t *testing.T) {
	signals, _ := newTestChannel(t)
	if _, err := New(nil, signals, nil); err == nil {
		t.Error("New(nil command) error = nil")
	}
	if _, err := New([]string{"sleep"}, nil, nil); err == nil {
		t.Error("New(nil signals) error = nil")
	}
}

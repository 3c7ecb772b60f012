package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMockDeviceYieldsChunks(t *testing.T) {
	dev := &MockDevice{Chunks: [][]byte{[]byte("aaaa"), []byte("bb")}}

	sess, err := dev.Start(context.Background(), Config{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	buf := make([]byte, 8)
	n, err := sess.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "aaaa" {
		t.Errorf("Read() = %q, want %q", got, "aaaa")
	}
	n, err = sess.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "bb" {
		t.Errorf("Read() = %q, want %q", got, "bb")
	}

	done := make(chan error, 1)
	go func() {
		_, readErr := sess.Read(buf)
		done <- readErr
	}()

	select {
	case err := <-done:
		t.Fatalf("Read() returned %v before Stop", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Read() after Stop error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() did not unblock after Stop")
	}

	if err := sess.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestMockDeviceStartErr(t *testing.T) {
	wantErr := errors.New("no such device")
	dev := &MockDevice{StartErr: wantErr}

	if _, err := dev.Start(context.Background(), Config{}); !errors.Is(err, wantErr) {
		t.Errorf("Start() error = %v, want %v", err, wantErr)
	}
	if len(dev.StartCalls) != 1 {
		t.Errorf("StartCalls = %d, want 1", len(dev.StartCalls))
	}
}

func TestFFmpegReadsUntilProcessExit(t *testing.T) {
	// Stands in for ffmpeg: ignores the capture flags, emits a burst of
	// samples, stays alive past the startup probe, then exits.
	script := filepath.Join(t.TempDir(), "fake-ffmpeg")
	const body = "#!/bin/sh\nprintf pcmpcm\nsleep 0.5\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	dev := NewFFmpeg(script)
	sess, err := dev.Start(context.Background(), Config{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	data, err := io.ReadAll(sess)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "pcmpcm" {
		t.Errorf("captured %q, want %q", data, "pcmpcm")
	}

	// Reads past exit stay at EOF and Stop on a dead process is a no-op.
	if _, err := sess.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after exit error = %v, want io.EOF", err)
	}
	if err := sess.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestFFmpegStartFailure(t *testing.T) {
	dev := NewFFmpeg("definitely-not-a-real-binary")

	_, err := dev.Start(context.Background(), Config{
		SampleRate:  16000,
		Channels:    1,
		InputFormat: "pulse",
		InputDevice: "default",
	})
	if err == nil {
		t.Fatal("Start() error = nil, want command failure")
	}
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Compile-time assertion that FFmpeg satisfies the Device interface.
var _ Device = (*FFmpeg)(nil)

// startupProbe is how long Start waits to catch an ffmpeg process that dies
// immediately (missing device, bad input format).
const startupProbe = 250 * time.Millisecond

// FFmpeg captures microphone PCM audio by running ffmpeg as a subprocess and
// reading raw s16le samples from its stdout.
type FFmpeg struct {
	command string
}

// NewFFmpeg creates an FFmpeg device. An empty command defaults to "ffmpeg"
// resolved via PATH.
func NewFFmpeg(command string) *FFmpeg {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpeg{command: command}
}

// Start implements [Device.Start].
func (d *FFmpeg) Start(ctx context.Context, cfg Config) (Session, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16_000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// An explicit pipe instead of StdoutPipe: Wait runs in its own goroutine
	// while the session is still reading, which StdoutPipe's managed pipe
	// does not allow.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("capture: ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}
	// The child holds its own copy of the write end; drop ours so reads see
	// EOF as soon as ffmpeg exits.
	pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Catch immediate exits so callers get the real ffmpeg diagnostic
	// instead of an EOF on the first read.
	select {
	case err := <-waitErr:
		pr.Close()
		if err != nil {
			return nil, fmt.Errorf("capture: ffmpeg exited before capture started: %w: %s",
				err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("capture: ffmpeg exited before capture started")
	case <-time.After(startupProbe):
	}

	return &ffmpegSession{
		stdout:  pr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegSession struct {
	stdout  io.ReadCloser
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
}

// Read implements [Session]. Returns io.EOF once the process has exited.
func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop implements [Session]. It interrupts ffmpeg, escalating to a kill if
// the process ignores the interrupt, and waits for it to exit.
func (s *ffmpegSession) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		// Interrupt lets ffmpeg flush and exit cleanly.
		if err := s.process.Signal(os.Interrupt); err != nil {
			_ = s.process.Kill()
		}

		select {
		case <-s.waitErr:
		case <-time.After(2 * time.Second):
			_ = s.process.Kill()
			<-s.waitErr
		}
		stopErr = s.stdout.Close()
	})
	return stopErr
}

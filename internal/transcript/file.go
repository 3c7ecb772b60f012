package transcript

import (
	"fmt"
	"os"
	"sync"
)

// Compile-time assertion that FileSink satisfies the Sink interface.
var _ Sink = (*FileSink)(nil)

// FileSink is a [Sink] backed by a single text file. The file is the shared
// surface between the session process (writer) and any observer process
// (reader): appends go through O_APPEND writes so a concurrent reader sees
// whole lines only.
type FileSink struct {
	path string

	mu sync.Mutex
}

// NewFileSink creates a FileSink writing to path. The file is not touched
// until the first [FileSink.Reset] or [FileSink.Append].
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the backing file path.
func (s *FileSink) Path() string {
	return s.path
}

// Append implements [Sink.Append].
func (s *FileSink) Append(role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open %q: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(role, text)); err != nil {
		return fmt.Errorf("transcript: append to %q: %w", s.path, err)
	}
	return nil
}

// ReadAll implements [Sink.ReadAll]. A missing file reads as an empty
// transcript, matching the "absence is a valid transient state" semantics
// observers rely on.
func (s *FileSink) ReadAll() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("transcript: read %q: %w", s.path, err)
	}
	return string(data), nil
}

// Reset implements [Sink.Reset] by truncating the backing file.
func (s *FileSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		return fmt.Errorf("transcript: truncate %q: %w", s.path, err)
	}
	return nil
}

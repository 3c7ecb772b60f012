package transcript

import (
	"strings"
	"sync"
)

// Compile-time assertion that Buffer satisfies the Sink interface.
var _ Sink = (*Buffer)(nil)

// Buffer is an in-memory [Sink] for tests and for running a session without
// a shared file surface. The zero value is ready to use.
type Buffer struct {
	mu sync.Mutex
	sb strings.Builder
}

// Append implements [Sink.Append].
func (b *Buffer) Append(role, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(formatLine(role, text))
	return nil
}

// ReadAll implements [Sink.ReadAll].
func (b *Buffer) ReadAll() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String(), nil
}

// Reset implements [Sink.Reset].
func (b *Buffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.Reset()
	return nil
}

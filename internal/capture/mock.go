package capture

import (
	"context"
	"io"
	"sync"
)

// Compile-time assertions against the capture interfaces.
var _ Device = (*MockDevice)(nil)
var _ Session = (*MockSession)(nil)

// MockDevice is a [Device] test double. The zero value returns an empty
// session from Start.
type MockDevice struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// Chunks are the audio chunks the session yields, one per Read, before
	// blocking until Stop.
	Chunks [][]byte

	// StartCalls records the configs passed to Start in order.
	StartCalls []Config

	// LastSession is the most recently created session.
	LastSession *MockSession
}

// Start implements [Device.Start].
func (d *MockDevice) Start(ctx context.Context, cfg Config) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.StartCalls = append(d.StartCalls, cfg)
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	s := &MockSession{chunks: d.Chunks, stopped: make(chan struct{})}
	d.LastSession = s
	return s, nil
}

// MockSession yields scripted chunks, then blocks on Read until Stop, after
// which Read returns io.EOF.
type MockSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	stops   int
	stopped chan struct{}
}

// Read implements [Session].
func (s *MockSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return copy(p, chunk), nil
	}
	s.mu.Unlock()

	<-s.stopped
	return 0, io.EOF
}

// Stop implements [Session].
func (s *MockSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.stops == 1 {
		close(s.stopped)
	}
	return nil
}

// StopCalls returns how many times Stop was invoked.
func (s *MockSession) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Package mock provides test doubles for the voice.Provider and
// voice.SessionHandle interfaces.
//
// A mock Session is driven by the test: feed utterances with EmitUtterance,
// end the stream with Finish, and inspect recorded audio sends and
// close/abort calls afterwards.
package mock

import (
	"context"
	"sync"

	"github.com/telawney/dispatchd/pkg/provider/voice"
)

// Compile-time assertions against the voice interfaces.
var _ voice.Provider = (*Provider)(nil)
var _ voice.SessionHandle = (*Session)(nil)

// Provider is a mock implementation of voice.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectSession is the session returned by Connect. If nil, a fresh
	// [NewSession] is created per call.
	ConnectSession *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records the configs passed to Connect in order.
	ConnectCalls []voice.SessionConfig
}

// Connect implements voice.Provider.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.ConnectSession != nil {
		return p.ConnectSession, nil
	}
	return NewSession(), nil
}

// Session is a mock implementation of voice.SessionHandle.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// CloseErr, if non-nil, is returned from the first Close call.
	CloseErr error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	// CloseCalls counts Close invocations.
	CloseCalls int

	// AbortCalls counts Abort invocations.
	AbortCalls int

	errVal error
	closed bool

	audioCh    chan []byte
	utterances chan voice.Utterance
	finishOnce sync.Once
}

// NewSession returns a Session ready for use.
func NewSession() *Session {
	return &Session{
		audioCh:    make(chan []byte, 16),
		utterances: make(chan voice.Utterance, 16),
	}
}

// EmitUtterance delivers an utterance to the session's consumer.
func (s *Session) EmitUtterance(role voice.Role, text string) {
	s.utterances <- voice.Utterance{Role: role, Text: text}
}

// EmitAudio delivers an audio chunk to the session's consumer.
func (s *Session) EmitAudio(chunk []byte) {
	s.audioCh <- chunk
}

// Finish closes the utterance and audio channels, optionally recording err
// as the session-terminating error. Safe to call more than once.
func (s *Session) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		if s.errVal == nil {
			s.errVal = err
		}
		s.mu.Unlock()
		close(s.utterances)
		close(s.audioCh)
	})
}

// SendAudio implements voice.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.SentAudio = append(s.SentAudio, chunk)
	return nil
}

// Audio implements voice.SessionHandle.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Utterances implements voice.SessionHandle.
func (s *Session) Utterances() <-chan voice.Utterance { return s.utterances }

// Err implements voice.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements voice.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	alreadyClosed := s.closed
	s.closed = true
	err := s.CloseErr
	s.mu.Unlock()

	s.Finish(nil)
	if alreadyClosed {
		return nil
	}
	return err
}

// Abort implements voice.SessionHandle.
func (s *Session) Abort() {
	s.mu.Lock()
	s.AbortCalls++
	s.closed = true
	s.mu.Unlock()

	s.Finish(nil)
}

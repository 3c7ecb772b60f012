// Package voice defines the Provider interface for streaming voice backends.
//
// A voice provider wraps a real-time empathic-voice service that accepts raw
// audio frames and returns both synthesised audio and text-transcribed
// utterances, each tagged with a speaker role. One session covers one call
// from connect to teardown.
//
// All implementations must be safe for concurrent use.
package voice

import "context"

// Role identifies the speaker of an utterance.
type Role string

const (
	// RoleCaller is the human on the line.
	RoleCaller Role = "caller"

	// RoleOperator is the automated response agent.
	RoleOperator Role = "operator"
)

// Utterance is one finalised, transcribed piece of speech.
type Utterance struct {
	// Role identifies who spoke.
	Role Role

	// Text is the transcribed content.
	Text string
}

// SessionConfig is the initial configuration for a new voice session.
type SessionConfig struct {
	// ConfigID selects the provider-side session configuration (agent
	// persona, voice, language). Required by providers that scope sessions
	// to a pre-built configuration.
	ConfigID string

	// AllowInterrupt lets the caller barge in over the agent's speech.
	AllowInterrupt bool
}

// SessionHandle represents an open voice session.
//
// Audio I/O is channel-based so the caller's audio loop is never blocked by
// transcript consumers. Callers must call Close when the session is no
// longer needed; Abort is the forced low-level fallback for when a graceful
// Close cannot complete.
type SessionHandle interface {
	// SendAudio delivers a raw PCM audio chunk to the provider.
	// Returns an error if the session is closed or the transport rejects
	// the chunk.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting raw audio byte slices as
	// the agent speaks. The channel is closed when the session ends.
	Audio() <-chan []byte

	// Utterances returns a read-only channel emitting finalised,
	// role-tagged utterances for both sides of the conversation. The
	// channel is closed when the session ends.
	Utterances() <-chan Utterance

	// Err returns the error that ended the session prematurely, or nil if
	// it ended cleanly. Check after the Utterances channel closes.
	Err() error

	// Close terminates the session gracefully and releases all resources.
	// Calling Close more than once is safe and returns nil.
	Close() error

	// Abort force-closes the underlying transport without a closing
	// handshake. It never fails and is safe to call at any time, including
	// after Close. Use it as the last-resort teardown step.
	Abort()
}

// Provider is the abstraction over any streaming voice backend.
type Provider interface {
	// Connect opens a new session. The returned handle is ready to accept
	// audio immediately. Connection failures leave no resources behind.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}

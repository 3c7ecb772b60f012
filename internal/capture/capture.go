// Package capture abstracts microphone audio acquisition for the session
// controller.
//
// The session controller only needs a stream of raw PCM bytes and a way to
// stop it; everything device-specific lives behind the [Device] interface so
// tests can substitute a scripted source.
package capture

import (
	"context"
	"io"
)

// Config describes the requested capture format.
type Config struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels is the channel count. Defaults to 1.
	Channels int

	// InputFormat is the platform input backend (e.g., "pulse", "alsa",
	// "avfoundation"). Defaults to "pulse".
	InputFormat string

	// InputDevice selects the capture device. Defaults to "default".
	InputDevice string
}

// Session is one live capture stream. Read returns raw PCM16 bytes; it
// returns io.EOF after Stop. Stop is idempotent and releases the underlying
// device; a second Stop is a no-op.
type Session interface {
	io.Reader

	Stop() error
}

// Device starts capture sessions. Implementations must be safe for
// concurrent use.
type Device interface {
	// Start begins capturing with the given config. Cancelling ctx tears
	// the session down as if Stop had been called.
	Start(ctx context.Context, cfg Config) (Session, error)
}

// Package hume implements the voice.Provider interface for Hume's Empathic
// Voice Interface (EVI).
//
// It establishes a bidirectional WebSocket connection to the EVI chat
// endpoint and exchanges JSON events. Audio is transmitted as base64-encoded
// chunks; finalised speech is surfaced as role-tagged utterances (the
// caller's recognised speech via user_message events, the agent's replies
// via assistant_message events).
package hume

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/telawney/dispatchd/pkg/provider/voice"
)

// Compile-time assertions that Provider and session satisfy the voice interfaces.
var _ voice.Provider = (*Provider)(nil)
var _ voice.SessionHandle = (*session)(nil)

const defaultBaseURL = "wss://api.hume.ai/v0/evi/chat"

const (
	// audioBuf is the buffer depth of the agent-audio channel. Deep enough
	// to absorb playback jitter without stalling the receive loop.
	audioBuf = 64

	// utteranceBuf is the buffer depth of the utterance channel.
	utteranceBuf = 16
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// ── Provider ──────────────────────────────────────────────────────────────────

// Provider implements voice.Provider for Hume EVI.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a new EVI Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new EVI session scoped to cfg.ConfigID. The returned
// SessionHandle is ready to accept audio immediately. On failure no
// resources are left behind.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.SessionHandle, error) {
	wsURL := p.baseURL
	if cfg.ConfigID != "" {
		wsURL = fmt.Sprintf("%s?config_id=%s", p.baseURL, url.QueryEscape(cfg.ConfigID))
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"X-Hume-Api-Key": []string{p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hume: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:       conn,
		audioCh:    make(chan []byte, audioBuf),
		utterances: make(chan voice.Utterance, utteranceBuf),
		ctx:        sessCtx,
		cancel:     sessCancel,
	}

	if err := sess.sendSessionSettings(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session settings failed")
		return nil, fmt.Errorf("hume: session settings: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionSettingsMessage struct {
	Type  string        `json:"type"`
	Audio audioSettings `json:"audio"`
}

type audioSettings struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type audioInputMessage struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// user_message / assistant_message carry an object here; error events
	// carry a plain string. Decoded per event type in handleServerEvent.
	Message json.RawMessage `json:"message,omitempty"`

	// audio_output
	Data string `json:"data,omitempty"`

	// error event
	Code string `json:"code,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ── session ───────────────────────────────────────────────────────────────────

type session struct {
	conn       *websocket.Conn
	audioCh    chan []byte
	utterances chan voice.Utterance

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionSettings configures the audio format for the session.
func (s *session) sendSessionSettings(_ voice.SessionConfig) error {
	return s.writeJSON(sessionSettingsMessage{
		Type: "session_settings",
		Audio: audioSettings{
			Encoding:   "linear16",
			SampleRate: 16_000,
			Channels:   1,
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("hume: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns audioCh and utterances: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "audio_output":
		if evt.Data == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Data)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "user_message":
		s.emitUtterance(voice.RoleCaller, evt.Message)

	case "assistant_message":
		s.emitUtterance(voice.RoleOperator, evt.Message)

	case "error":
		msg := "unknown error"
		var text string
		if len(evt.Message) > 0 && json.Unmarshal(evt.Message, &text) == nil && text != "" {
			msg = text
		}
		s.setErr(fmt.Errorf("hume: server error %s: %s", evt.Code, msg))
	}
}

func (s *session) emitUtterance(role voice.Role, raw json.RawMessage) {
	var msg chatMessage
	if len(raw) == 0 || json.Unmarshal(raw, &msg) != nil || msg.Content == "" {
		return
	}
	select {
	case s.utterances <- voice.Utterance{Role: role, Text: msg.Content}:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.utterances)
	})
}

// ── SessionHandle methods ─────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to EVI.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("hume: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(audioInputMessage{
		Type: "audio_input",
		Data: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Audio returns the channel on which the agent's synthesised audio arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Utterances returns the channel on which finalised utterances arrive.
func (s *session) Utterances() <-chan voice.Utterance { return s.utterances }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session with a normal closing handshake.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "session ended")
	if err != nil {
		return fmt.Errorf("hume: close: %w", err)
	}
	return nil
}

// Abort force-closes the underlying transport. It never fails.
func (s *session) Abort() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.CloseNow()
}

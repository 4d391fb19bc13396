package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the bidirectional streaming endpoint of the Gemini
// Live API.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const inputMimeType = "audio/pcm;rate=16000"

// CredentialProvider supplies an API key at connect time. Implementations
// may prompt the user or read a managed credential store. A nil provider
// means the configured key is used as-is.
type CredentialProvider interface {
	APIKey(ctx context.Context) (string, error)
}

// AuthError marks a dial or setup failure caused by a rejected credential,
// as opposed to a transport fault.
type AuthError struct {
	Status int
	Msg    string
}

func (e *AuthError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("credential rejected (status %d)", e.Status)
}

// Config describes one live tutoring session to establish.
type Config struct {
	Endpoint          string
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
}

// Handler receives server events. Callbacks are invoked sequentially from
// the session's read loop; a slow callback delays subsequent events but
// never reorders them.
type Handler struct {
	OnAudioChunk          func(b64 string)
	OnInputTranscription  func(text string)
	OnOutputTranscription func(text string)
	OnTurnComplete        func()
	OnInterrupted         func()
	OnClose               func(err error)
}

// Session is an established live conversation over a websocket.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// Dial connects, performs the setup handshake and starts dispatching server
// events to the handler. It returns only after the server acknowledges the
// setup, so a non-nil Session is ready for audio immediately.
func Dial(ctx context.Context, cfg Config, handler Handler, logger *slog.Logger) (*Session, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	s := &Session{
		conn:   conn,
		logger: logger.With(slog.String("component", "live")),
		done:   make(chan struct{}),
	}

	if err := s.sendSetup(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}
	if err := s.awaitSetupComplete(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop(handler)
	return s, nil
}

func (s *Session) sendSetup(cfg Config) error {
	setup := &setupPayload{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &transcriptionOpts{},
		OutputAudioTranscription: &transcriptionOpts{},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &contentPayload{
			Parts: []contentPart{{Text: cfg.SystemInstruction}},
		}
	}
	return s.sendJSON(clientMessage{Setup: setup})
}

func (s *Session) awaitSetupComplete(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	} else {
		s.conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	}
	defer s.conn.SetReadDeadline(time.Time{})

	var msg serverMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		if closeErr, ok := err.(*websocket.CloseError); ok && authCloseText(closeErr.Text) {
			return &AuthError{Msg: closeErr.Text}
		}
		return fmt.Errorf("await setup ack: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("unexpected first server message, want setup ack")
	}
	return nil
}

func authCloseText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "permission")
}

// SendAudio forwards one base64-encoded block of 16 kHz mono PCM.
func (s *Session) SendAudio(b64 string) error {
	if s.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	return s.sendJSON(clientMessage{
		RealtimeInput: &realtimeInputPayload{
			MediaChunks: []mediaChunk{{MimeType: inputMimeType, Data: b64}},
		},
	})
}

func (s *Session) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close tears the websocket down. Safe to call multiple times and
// concurrently with the read loop; the handler's OnClose is not invoked for
// a locally initiated close.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Session) readLoop(handler Handler) {
	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			// done must close before the close callback runs: the
			// callback's teardown calls Close, which waits on done.
			close(s.done)
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			if handler.OnClose != nil {
				handler.OnClose(err)
			}
			return
		}
		s.dispatch(&msg, handler)
	}
}

func (s *Session) dispatch(msg *serverMessage, handler Handler) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.InputTranscription != nil && handler.OnInputTranscription != nil {
		handler.OnInputTranscription(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && handler.OnOutputTranscription != nil {
		handler.OnOutputTranscription(sc.OutputTranscription.Text)
	}

	// An interruption cancels only the audio in flight; transcription
	// deltas and turn completion in the same message still apply, but
	// bundled chunks must not reach the playback queue.
	if sc.Interrupted && handler.OnInterrupted != nil {
		handler.OnInterrupted()
	}
	if sc.ModelTurn != nil && !sc.Interrupted && handler.OnAudioChunk != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				handler.OnAudioChunk(part.InlineData.Data)
			}
		}
	}
	if sc.TurnComplete && handler.OnTurnComplete != nil {
		handler.OnTurnComplete()
	}
}

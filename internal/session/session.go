package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
	"github.com/linguaflow/lingua-core/internal/config"
	"github.com/linguaflow/lingua-core/internal/live"
	"github.com/linguaflow/lingua-core/internal/protocol"
	"github.com/linguaflow/lingua-core/internal/store"
	"github.com/linguaflow/lingua-core/internal/transcript"
)

// State names the lifecycle phase of the practice session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
)

var (
	// ErrPermission covers rejected credentials; the caller should prompt
	// for a new API key.
	ErrPermission = errors.New("permission denied, select a valid API key")
	// ErrSetup covers every other failure before the session became active.
	ErrSetup = errors.New("failed to start conversation")
	// ErrTransport reports a session that dropped after it was established.
	ErrTransport = errors.New("session ended unexpectedly")
)

// Conversation is the established upstream voice link.
type Conversation interface {
	SendAudio(b64 string) error
	Close() error
}

// Dialer establishes a Conversation and starts routing its events into the
// handler.
type Dialer func(ctx context.Context, cfg live.Config, handler live.Handler) (Conversation, error)

// Capture is the microphone pipeline feeding the session.
type Capture interface {
	Start() error
	Stop()
}

// Player schedules tutor audio for gapless playback.
type Player interface {
	Enqueue(buf *pcm.Buffer)
	Interrupt()
}

// Recorder persists finalized transcript entries.
type Recorder interface {
	AppendEntries(ctx context.Context, entries []store.Entry) error
}

// Publisher broadcasts session events on the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Meter runs the playback loudness poller while the session is active.
type Meter interface {
	Start()
	Stop()
}

// Options wires a Manager's collaborators.
type Options struct {
	Live        config.LiveConfig
	Practice    config.PracticeConfig
	OutputRate  int
	Credentials live.CredentialProvider

	Dial      Dialer
	Capture   Capture
	Player    Player
	Assembler *transcript.Assembler
	Log       *transcript.Log
	Recorder  Recorder
	Publisher Publisher
	Meter     Meter
	Logger    *slog.Logger
}

// Manager drives the session state machine: idle, connecting, active,
// closing, and back to idle. All transitions run to completion under one
// lock; event callbacks that arrive outside the active state are dropped.
type Manager struct {
	opts   Options
	logger *slog.Logger
	clock  func() time.Time

	mu        sync.Mutex
	state     State
	sessionID string
	conv      Conversation
	lastErr   error
}

func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, cfg live.Config, handler live.Handler) (Conversation, error) {
			return live.Dial(ctx, cfg, handler, opts.Logger)
		}
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "session")),
		clock:  time.Now,
		state:  StateIdle,
	}
}

// State reports the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error recorded by the most recent failed connect or
// dropped session, cleared on the next successful connect.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Practice returns the language settings the next connect will use.
func (m *Manager) Practice() config.PracticeConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Practice
}

// SetPractice replaces the language settings. An active session keeps the
// settings it connected with.
func (m *Manager) SetPractice(p config.PracticeConfig) {
	m.mu.Lock()
	m.opts.Practice = p
	m.mu.Unlock()
}

// SessionID returns the identifier of the current or most recent session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect establishes a live session. Calling it while one is already
// connecting or active is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.sessionID = uuid.NewString()
	m.lastErr = nil
	sessionID := m.sessionID
	practice := m.opts.Practice
	m.mu.Unlock()

	m.publishState(StateConnecting, nil)

	conv, err := m.establish(ctx, practice)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.lastErr = err
		m.mu.Unlock()
		m.publishState(StateIdle, err)
		return err
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// The upstream dropped the link before activation finished.
		err := m.lastErr
		m.mu.Unlock()
		conv.Close()
		if err == nil {
			err = ErrTransport
		}
		return err
	}
	m.state = StateActive
	m.conv = conv
	m.mu.Unlock()

	if err := m.opts.Capture.Start(); err != nil {
		m.logger.Error("microphone unavailable", slog.String("error", err.Error()))
		err = classifyCaptureErr(err)
		m.teardown(err)
		return err
	}

	m.mu.Lock()
	if m.state != StateActive {
		// Torn down while the device was still starting; the teardown
		// already ran, so only the late capture start needs undoing.
		err := m.lastErr
		m.mu.Unlock()
		m.opts.Capture.Stop()
		if err == nil {
			err = ErrTransport
		}
		return err
	}
	m.opts.Meter.Start()
	m.mu.Unlock()

	m.publishState(StateActive, nil)
	m.logger.Info("session active",
		slog.String("session_id", sessionID),
		slog.String("language", practice.Language),
		slog.String("level", practice.Level))
	return nil
}

func (m *Manager) establish(ctx context.Context, practice config.PracticeConfig) (Conversation, error) {
	if m.opts.Live.ConnectTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.opts.Live.ConnectTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	key, err := m.resolveKey(ctx)
	if err != nil {
		return nil, err
	}

	cfg := live.Config{
		Endpoint:          m.opts.Live.Endpoint,
		APIKey:            key,
		Model:             m.opts.Live.Model,
		Voice:             VoiceForLanguage(practice.Language),
		SystemInstruction: SystemInstruction(practice.Language, practice.Level, practice.Topic),
	}

	conv, err := m.opts.Dial(ctx, cfg, m.handler())
	if err == nil {
		return conv, nil
	}

	var authErr *live.AuthError
	if !errors.As(err, &authErr) {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	// One retry with a freshly selected credential, matching the single
	// re-prompt a rejected key gets.
	if m.opts.Credentials != nil {
		if key, rerr := m.opts.Credentials.APIKey(ctx); rerr == nil && key != "" && key != cfg.APIKey {
			cfg.APIKey = key
			if conv, derr := m.opts.Dial(ctx, cfg, m.handler()); derr == nil {
				return conv, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrPermission, err)
}

// classifyCaptureErr separates a denied microphone from other device
// failures.
func classifyCaptureErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return fmt.Errorf("%w: %v", ErrSetup, err)
}

func (m *Manager) resolveKey(ctx context.Context) (string, error) {
	if m.opts.Credentials != nil {
		key, err := m.opts.Credentials.APIKey(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPermission, err)
		}
		if key != "" {
			return key, nil
		}
	}
	if m.opts.Live.APIKey == "" {
		return "", fmt.Errorf("%w: no API key configured", ErrPermission)
	}
	return m.opts.Live.APIKey, nil
}

func (m *Manager) handler() live.Handler {
	return live.Handler{
		OnAudioChunk:          m.handleAudioChunk,
		OnInputTranscription:  m.handleInputTranscription,
		OnOutputTranscription: m.handleOutputTranscription,
		OnTurnComplete:        m.handleTurnComplete,
		OnInterrupted:         m.handleInterrupted,
		OnClose:               m.handleClose,
	}
}

// SendAudio forwards an encoded microphone block upstream. The capture
// pipeline calls this for every block; blocks sent while the session is not
// active are dropped.
func (m *Manager) SendAudio(b64 string) error {
	m.mu.Lock()
	conv := m.conv
	active := m.state == StateActive
	m.mu.Unlock()
	if !active || conv == nil {
		return errors.New("session not active")
	}
	return conv.SendAudio(b64)
}

func (m *Manager) handleAudioChunk(b64 string) {
	if !m.isActive() {
		return
	}
	data, err := pcm.DecodeBase64(b64)
	if err != nil {
		m.logger.Warn("dropping undecodable audio chunk", slog.String("error", err.Error()))
		return
	}
	rate := m.opts.OutputRate
	if rate <= 0 {
		rate = 24000
	}
	m.opts.Player.Enqueue(&pcm.Buffer{
		Data:       pcm.DecodeSamples(data),
		SampleRate: rate,
		Channels:   1,
	})
}

func (m *Manager) handleInputTranscription(text string) {
	if !m.isActive() {
		return
	}
	m.opts.Assembler.AppendInput(text)
}

func (m *Manager) handleOutputTranscription(text string) {
	if !m.isActive() {
		return
	}
	m.opts.Assembler.AppendOutput(text)
}

func (m *Manager) handleTurnComplete() {
	if !m.isActive() {
		return
	}
	entries := m.opts.Assembler.CompleteTurn()
	if len(entries) == 0 {
		return
	}
	m.opts.Log.Append(entries...)

	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	rows := make([]store.Entry, len(entries))
	for i, e := range entries {
		rows[i] = store.Entry{
			ID:        e.ID,
			SessionID: sessionID,
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			CreatedAt: e.CreatedAt,
		}
	}
	if err := m.opts.Recorder.AppendEntries(context.Background(), rows); err != nil {
		m.logger.Warn("transcript persistence failed", slog.String("error", err.Error()))
	}

	for _, e := range entries {
		if err := m.opts.Publisher.PublishJSON(protocol.SubjectTranscriptEntry, protocol.TranscriptEntry{
			SessionID: sessionID,
			EntryID:   e.ID,
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			Timestamp: e.CreatedAt,
		}); err != nil {
			m.logger.Warn("transcript publish failed", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) handleInterrupted() {
	if !m.isActive() {
		return
	}
	m.opts.Player.Interrupt()
}

func (m *Manager) handleClose(err error) {
	if err != nil {
		m.logger.Error("live session dropped", slog.String("error", err.Error()))
		err = ErrTransport
	}
	m.teardown(err)
}

// Disconnect tears the session down. Idempotent; disconnecting an idle
// manager does nothing.
func (m *Manager) Disconnect() {
	m.teardown(nil)
}

// teardown releases every session resource in a fixed order, swallowing
// individual failures so a partial session can always be dismantled.
func (m *Manager) teardown(cause error) {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosing {
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	conv := m.conv
	m.conv = nil
	m.lastErr = cause
	m.mu.Unlock()

	m.publishState(StateClosing, nil)

	if conv != nil {
		if err := conv.Close(); err != nil {
			m.logger.Debug("live close failed", slog.String("error", err.Error()))
		}
	}
	m.opts.Capture.Stop()
	m.opts.Meter.Stop()
	m.opts.Player.Interrupt()
	m.opts.Assembler.Reset()

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	m.publishState(StateIdle, cause)
	m.logger.Info("session closed")
}

func (m *Manager) isActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActive
}

func (m *Manager) publishState(state State, cause error) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	msg := protocol.SessionState{
		SessionID: sessionID,
		State:     string(state),
		Timestamp: m.clock().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	if err := m.opts.Publisher.PublishJSON(protocol.SubjectSessionState, msg); err != nil {
		m.logger.Warn("state publish failed", slog.String("error", err.Error()))
	}
}

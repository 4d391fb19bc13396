package protocol

import "time"

// SessionState announces a practice-session lifecycle transition.
type SessionState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEntry broadcasts one finalized utterance from a completed turn.
type TranscriptEntry struct {
	SessionID string    `json:"session_id"`
	EntryID   string    `json:"entry_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// VolumeReading carries the paired microphone and playback meter levels.
type VolumeReading struct {
	SessionID string    `json:"session_id"`
	Input     float64   `json:"input"`
	Output    float64   `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionState    = "session.state"
	SubjectTranscriptEntry = "session.transcript.entry"
	SubjectVolume          = "session.volume"
)

package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerTutor Speaker = "tutor"
)

// Entry is one finalized utterance in the conversation record.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Assembler accumulates streamed transcription deltas for the turn in
// progress. Deltas arrive interleaved from both directions; each side is
// concatenated in arrival order and finalized only when the model reports
// the turn complete.
type Assembler struct {
	mu    sync.Mutex
	user  strings.Builder
	tutor strings.Builder
	clock func() time.Time
	newID func() string
}

func NewAssembler() *Assembler {
	return &Assembler{clock: time.Now, newID: uuid.NewString}
}

func (a *Assembler) AppendInput(delta string) {
	a.mu.Lock()
	a.user.WriteString(delta)
	a.mu.Unlock()
}

func (a *Assembler) AppendOutput(delta string) {
	a.mu.Lock()
	a.tutor.WriteString(delta)
	a.mu.Unlock()
}

// CompleteTurn finalizes the accumulated text into entries, user side first,
// and resets both accumulators. Sides that are empty after trimming yield no
// entry, so a turn with no recognized speech returns nil.
func (a *Assembler) CompleteTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	var entries []Entry
	if text := strings.TrimSpace(a.user.String()); text != "" {
		entries = append(entries, Entry{ID: a.newID(), Speaker: SpeakerUser, Text: text, CreatedAt: now})
	}
	if text := strings.TrimSpace(a.tutor.String()); text != "" {
		entries = append(entries, Entry{ID: a.newID(), Speaker: SpeakerTutor, Text: text, CreatedAt: now})
	}
	a.user.Reset()
	a.tutor.Reset()
	return entries
}

// Reset discards any partial accumulation, for session teardown.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.user.Reset()
	a.tutor.Reset()
	a.mu.Unlock()
}

// Log is the in-memory conversation record shown to the learner.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

// Entries returns a copy of the record in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

package transcript

import (
	"fmt"
	"testing"
	"time"
)

func newTestAssembler() *Assembler {
	a := NewAssembler()
	a.clock = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	n := 0
	a.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return a
}

func TestCompleteTurnOrdersUserFirst(t *testing.T) {
	a := newTestAssembler()
	a.AppendOutput("Buenos ")
	a.AppendInput("Hola, ")
	a.AppendOutput("días.")
	a.AppendInput("¿qué tal?")

	entries := a.CompleteTurn()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Speaker != SpeakerUser || entries[0].Text != "Hola, ¿qué tal?" {
		t.Fatalf("user entry = %+v", entries[0])
	}
	if entries[1].Speaker != SpeakerTutor || entries[1].Text != "Buenos días." {
		t.Fatalf("tutor entry = %+v", entries[1])
	}
	if entries[0].ID == entries[1].ID {
		t.Fatalf("entries share an ID")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("entry timestamp not set")
	}
}

func TestCompleteTurnSkipsBlankSides(t *testing.T) {
	a := newTestAssembler()
	a.AppendInput("   \n")
	a.AppendOutput("Sí, exacto.")

	entries := a.CompleteTurn()
	if len(entries) != 1 || entries[0].Speaker != SpeakerTutor {
		t.Fatalf("entries = %+v", entries)
	}

	if entries := a.CompleteTurn(); entries != nil {
		t.Fatalf("second completion yielded %+v, want nil", entries)
	}
}

func TestCompleteTurnTrimsEdgesOnly(t *testing.T) {
	a := newTestAssembler()
	a.AppendInput("  me gusta ")
	a.AppendInput("el café  ")

	entries := a.CompleteTurn()
	if len(entries) != 1 || entries[0].Text != "me gusta el café" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestResetDiscardsPartialTurn(t *testing.T) {
	a := newTestAssembler()
	a.AppendInput("half a sen")
	a.AppendOutput("half an ans")
	a.Reset()

	if entries := a.CompleteTurn(); entries != nil {
		t.Fatalf("entries after reset = %+v", entries)
	}
}

func TestLogAppendEntriesClear(t *testing.T) {
	l := NewLog()
	if got := l.Entries(); len(got) != 0 {
		t.Fatalf("fresh log has %d entries", len(got))
	}

	l.Append(Entry{ID: "a", Speaker: SpeakerUser, Text: "one"})
	l.Append(Entry{ID: "b", Speaker: SpeakerTutor, Text: "two"}, Entry{ID: "c", Speaker: SpeakerUser, Text: "three"})

	got := l.Entries()
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("entries = %+v", got)
	}

	// Mutating the returned slice must not touch the log.
	got[0].Text = "mutated"
	if l.Entries()[0].Text != "one" {
		t.Fatal("Entries returned shared backing storage")
	}

	l.Clear()
	if got := l.Entries(); len(got) != 0 {
		t.Fatalf("entries after clear = %+v", got)
	}
}

package playback

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward, stepping to each due timer's deadline
// before firing it so callbacks observe their scheduled time.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.fired = true
		if due.at.After(c.now) {
			c.now = due.at
		}
		c.mu.Unlock()
		due.f()
	}
}

type recordingSink struct {
	mu      sync.Mutex
	writes  []time.Time
	flushes int
	clock   *fakeClock
}

func (s *recordingSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, s.clock.Now())
	return nil
}

func (s *recordingSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *recordingSink) Close() error { return nil }

func mkbuf(d time.Duration) *pcm.Buffer {
	n := int(float64(24000) * d.Seconds())
	return &pcm.Buffer{Data: make([]float32, n), SampleRate: 24000, Channels: 1}
}

func TestGaplessScheduling(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{clock: clock}
	s := NewScheduler(clock, sink, nil, testLogger())

	start := clock.Now()
	s.Enqueue(mkbuf(1 * time.Second))
	s.Enqueue(mkbuf(500 * time.Millisecond))
	s.Enqueue(mkbuf(2 * time.Second))

	if got, want := s.cursor(), start.Add(3500*time.Millisecond); !got.Equal(want) {
		t.Fatalf("cursor: expected %v, got %v", want, got)
	}

	clock.Advance(4 * time.Second)

	want := []time.Time{start, start.Add(1 * time.Second), start.Add(1500 * time.Millisecond)}
	sink.mu.Lock()
	got := append([]time.Time(nil), sink.writes...)
	sink.mu.Unlock()
	sort.Slice(got, func(i, j int) bool { return got[i].Before(got[j]) })
	if len(got) != len(want) {
		t.Fatalf("expected %d writes, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("write %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if s.ActiveCount() != 0 {
		t.Fatalf("expected all handles released, got %d", s.ActiveCount())
	}
}

func TestChunkAfterIdleAnchorsAtNow(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{clock: clock}
	s := NewScheduler(clock, sink, nil, testLogger())

	s.Enqueue(mkbuf(200 * time.Millisecond))
	clock.Advance(1 * time.Second)

	// Cursor is now in the past; the next chunk must not schedule there.
	now := clock.Now()
	s.Enqueue(mkbuf(300 * time.Millisecond))
	if got, want := s.cursor(), now.Add(300*time.Millisecond); !got.Equal(want) {
		t.Fatalf("cursor: expected %v, got %v", want, got)
	}
}

func TestInterruptClearsEverything(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{clock: clock}
	s := NewScheduler(clock, sink, nil, testLogger())

	s.Enqueue(mkbuf(1 * time.Second))
	s.Enqueue(mkbuf(1 * time.Second))
	clock.Advance(100 * time.Millisecond)

	s.Interrupt()

	if s.ActiveCount() != 0 {
		t.Fatalf("expected empty active set, got %d", s.ActiveCount())
	}
	if !s.cursor().IsZero() {
		t.Fatalf("expected cursor reset, got %v", s.cursor())
	}
	if sink.flushes != 1 {
		t.Fatalf("expected sink flush, got %d", sink.flushes)
	}

	// Next chunk anchors at now, never at a past cursor value.
	now := clock.Now()
	s.Enqueue(mkbuf(400 * time.Millisecond))
	if got, want := s.cursor(), now.Add(400*time.Millisecond); !got.Equal(want) {
		t.Fatalf("cursor after interrupt: expected %v, got %v", want, got)
	}
}

func TestInterruptToleratesFinishedHandles(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{clock: clock}
	s := NewScheduler(clock, sink, nil, testLogger())

	s.Enqueue(mkbuf(100 * time.Millisecond))
	clock.Advance(1 * time.Second)
	s.Interrupt()
	s.Interrupt()
}

func TestAheadOfNow(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{clock: clock}
	s := NewScheduler(clock, sink, nil, testLogger())

	if s.AheadOfNow() {
		t.Fatal("idle scheduler should not be ahead of now")
	}
	s.Enqueue(mkbuf(1 * time.Second))
	if !s.AheadOfNow() {
		t.Fatal("expected scheduler ahead of now while a chunk is queued")
	}
	clock.Advance(2 * time.Second)
	if s.AheadOfNow() {
		t.Fatal("expected scheduler behind now after playback drained")
	}
}

func TestAnalyserWindow(t *testing.T) {
	a := NewAnalyser(4)
	a.Push([]float32{1, 2})
	a.Push([]float32{3, 4, 5})
	snap := a.Snapshot(4)
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("snapshot[%d]: expected %f, got %f", i, want[i], snap[i])
		}
	}
	short := a.Snapshot(8)
	if short[0] != 0 || short[7] != 5 {
		t.Fatalf("expected left zero-padding, got %v", short)
	}
	a.Reset()
	if s := a.Snapshot(2); s[0] != 0 || s[1] != 0 {
		t.Fatalf("expected empty window after reset, got %v", s)
	}
}

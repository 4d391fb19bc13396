package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
)

// Scheduler queues decoded audio chunks for gapless sequential playback.
// Chunks arrive as discrete, irregularly sized network messages; the
// scheduler lines them up back-to-back against an absolute-time cursor so
// the synthesized speech plays as one continuous utterance.
type Scheduler struct {
	mu        sync.Mutex
	clock     Clock
	sink      Sink
	analyser  *Analyser
	logger    *slog.Logger
	nextStart time.Time
	active    map[*source]struct{}
}

// source is one in-flight playback handle. It owns its chunk from the moment
// it is scheduled until playback ends or is forcibly stopped.
type source struct {
	buf    *pcm.Buffer
	start  Timer
	finish Timer
}

func NewScheduler(clock Clock, sink Sink, analyser *Analyser, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:    clock,
		sink:     sink,
		analyser: analyser,
		logger:   logger.With(slog.String("component", "playback")),
		active:   make(map[*source]struct{}),
	}
}

// Enqueue schedules one chunk. The start time is the later of the cursor and
// now, which keeps chunks gapless once playback has begun and never schedules
// into the past. Fire-and-forget: the caller does not wait for playback.
func (s *Scheduler) Enqueue(buf *pcm.Buffer) {
	if buf == nil || len(buf.Data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	startAt := s.nextStart
	if startAt.Before(now) {
		startAt = now
	}

	src := &source{buf: buf}
	s.active[src] = struct{}{}
	src.start = s.clock.AfterFunc(startAt.Sub(now), func() { s.play(src) })
	s.nextStart = startAt.Add(buf.Duration())
}

func (s *Scheduler) play(src *source) {
	s.mu.Lock()
	if _, ok := s.active[src]; !ok {
		// Stopped between scheduling and firing.
		s.mu.Unlock()
		return
	}
	src.finish = s.clock.AfterFunc(src.buf.Duration(), func() { s.finish(src) })
	s.mu.Unlock()

	if err := s.sink.Write(pcm.EncodeFloat32(src.buf.Data)); err != nil {
		s.logger.Warn("sink write failed", slog.String("error", err.Error()))
	}
	if s.analyser != nil {
		s.analyser.Push(src.buf.Data)
	}
}

func (s *Scheduler) finish(src *source) {
	s.mu.Lock()
	delete(s.active, src)
	s.mu.Unlock()
}

// Interrupt force-stops every in-flight handle, clears the set, and resets
// the cursor so the next chunk anchors at now. Stopping handles that already
// finished is harmless.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	for src := range s.active {
		if src.start != nil {
			src.start.Stop()
		}
		if src.finish != nil {
			src.finish.Stop()
		}
	}
	s.active = make(map[*source]struct{})
	s.nextStart = time.Time{}
	s.mu.Unlock()

	s.sink.Flush()
}

// AheadOfNow reports whether scheduled playback extends past the current
// time. The capture pipeline uses this to suppress input-volume updates
// while the tutor is speaking.
func (s *Scheduler) AheadOfNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart.After(s.clock.Now())
}

func (s *Scheduler) cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// ActiveCount reports the number of in-flight playback handles.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

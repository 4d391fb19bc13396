package capture

import (
	"fmt"
	"log/slog"
	"math"
	"testing"
)

type mockSource struct {
	onSamples func([]float32)
	started   int
	stopped   int
}

func (m *mockSource) Start(onSamples func([]float32)) error {
	m.onSamples = onSamples
	m.started++
	return nil
}

func (m *mockSource) Stop() error {
	m.stopped++
	return nil
}

func TestPipelineFramesBlocks(t *testing.T) {
	src := &mockSource{}
	var sent []string
	p := NewPipeline(src, 4, func(b64 string) error {
		sent = append(sent, b64)
		return nil
	}, nil, nil, slog.Default())

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.onSamples([]float32{0.1, 0.2, 0.3})
	if len(sent) != 0 {
		t.Fatalf("sent %d blocks before a full frame accumulated", len(sent))
	}

	src.onSamples([]float32{0.4, 0.5, 0.6, 0.7, 0.8, 0.9})
	if len(sent) != 2 {
		t.Fatalf("sent %d blocks, want 2", len(sent))
	}

	// One sample left pending; the next callback completes a third block.
	src.onSamples([]float32{0.1, 0.1, 0.1})
	if len(sent) != 3 {
		t.Fatalf("sent %d blocks, want 3", len(sent))
	}
}

func TestPipelineLevelGate(t *testing.T) {
	src := &mockSource{}
	muted := false
	var levels []float64
	p := NewPipeline(src, 4, func(string) error { return nil },
		func(rms float64) { levels = append(levels, rms) },
		func() bool { return muted },
		slog.Default())

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.onSamples([]float32{0.5, 0.5, 0.5, 0.5})
	if len(levels) != 1 {
		t.Fatalf("got %d level updates, want 1", len(levels))
	}
	if math.Abs(levels[0]-0.5) > 1e-6 {
		t.Fatalf("rms = %v, want 0.5", levels[0])
	}

	muted = true
	src.onSamples([]float32{0.5, 0.5, 0.5, 0.5})
	if len(levels) != 1 {
		t.Fatalf("level updated while muted")
	}

	muted = false
	src.onSamples([]float32{0, 0, 0, 0})
	if len(levels) != 2 || levels[1] != 0 {
		t.Fatalf("levels = %v, want trailing zero reading", levels)
	}
}

func TestPipelineSendFailureDoesNotStall(t *testing.T) {
	src := &mockSource{}
	calls := 0
	p := NewPipeline(src, 2, func(string) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("socket closed")
		}
		return nil
	}, nil, nil, slog.Default())

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.onSamples([]float32{0.1, 0.2})
	src.onSamples([]float32{0.3, 0.4})
	if calls != 2 {
		t.Fatalf("send called %d times, want 2", calls)
	}
}

func TestPipelineStopIdempotent(t *testing.T) {
	src := &mockSource{}
	p := NewPipeline(src, 4, func(string) error { return nil }, nil, nil, slog.Default())

	p.Stop()
	if src.stopped != 0 {
		t.Fatalf("stop reached source before start")
	}

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	p.Stop()
	if src.stopped != 1 {
		t.Fatalf("source stopped %d times, want 1", src.stopped)
	}

	// Late device callbacks after Stop are dropped.
	before := src.started
	src.onSamples([]float32{0.1, 0.2, 0.3, 0.4})
	if src.started != before {
		t.Fatalf("unexpected restart")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Fatalf("rms(nil) = %v", got)
	}
	got := rms([]float32{1, -1, 1, -1})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("rms = %v, want 1", got)
	}
}

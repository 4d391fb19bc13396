package volume

import (
	"math"
	"testing"
)

func newTestEstimator(active bool) *Estimator {
	return NewEstimator(
		func(n int) []float32 { return make([]float32, n) },
		func() bool { return active },
		nil,
		Options{Window: 256},
	)
}

func TestSetInputScalesAndClamps(t *testing.T) {
	e := newTestEstimator(false)

	e.SetInput(0.1)
	in, _ := e.Levels()
	if math.Abs(in-50) > 1e-9 {
		t.Fatalf("input level = %v, want 50", in)
	}

	e.SetInput(0.5)
	in, _ = e.Levels()
	if in != 100 {
		t.Fatalf("input level = %v, want clamp at 100", in)
	}

	e.SetInput(0)
	in, _ = e.Levels()
	if in != 0 {
		t.Fatalf("input level = %v, want 0", in)
	}
}

func TestMeasureSilenceReadsZero(t *testing.T) {
	e := newTestEstimator(true)
	if got := e.measure(make([]float32, 256)); got != 0 {
		t.Fatalf("silence measured %v", got)
	}
}

func TestMeasureToneReadsLoud(t *testing.T) {
	e := newTestEstimator(true)
	samples := make([]float32, 256)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*8*float64(i)/256))
	}
	got := e.measure(samples)
	if got <= 0 || got > 100 {
		t.Fatalf("tone measured %v, want within (0, 100]", got)
	}

	quiet := make([]float32, 256)
	for i := range quiet {
		quiet[i] = samples[i] * 0.05
	}
	if q := e.measure(quiet); q >= got {
		t.Fatalf("quiet tone %v not below loud tone %v", q, got)
	}
}

func TestMeasureRejectsShortWindow(t *testing.T) {
	e := newTestEstimator(true)
	if got := e.measure(make([]float32, 100)); got != 0 {
		t.Fatalf("short window measured %v", got)
	}
}

func TestOnUpdateFiresOnChangeOnly(t *testing.T) {
	var calls int
	e := NewEstimator(
		func(n int) []float32 { return make([]float32, n) },
		func() bool { return false },
		func(in, out float64) { calls++ },
		Options{Window: 256},
	)

	e.SetInput(0.1)
	e.SetInput(0.1)
	if calls != 1 {
		t.Fatalf("onUpdate fired %d times, want 1", calls)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	e := newTestEstimator(false)
	e.Stop()
	e.Start()
	e.Start()
	e.SetInput(0.1)
	e.Stop()
	e.Stop()

	in, out := e.Levels()
	if in != 0 || out != 0 {
		t.Fatalf("levels after stop = %v, %v", in, out)
	}
}

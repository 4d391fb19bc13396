package volume

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Defaults mirror a display refreshing at roughly 60 Hz with a quiet-floor
// cutoff below which the meter reads zero.
const (
	DefaultInterval = 16 * time.Millisecond
	DefaultWindow   = 2048
	DefaultFloor    = 5.0
)

// Decibel range mapped onto the 0..255 byte scale of the frequency meter.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Estimator maintains the two loudness readings surfaced to the learner: the
// microphone level, pushed by the capture pipeline per block, and the tutor
// playback level, polled from the playback analyser while audio is scheduled.
type Estimator struct {
	snapshot func(n int) []float32
	active   func() bool
	onUpdate func(input, output float64)

	interval time.Duration
	window   int
	floor    float64
	fft      *fourier.FFT

	mu     sync.Mutex
	input  float64
	output float64
	stop   chan struct{}
	done   chan struct{}
}

// Options tune the estimator; zero values select the defaults.
type Options struct {
	Interval time.Duration
	Window   int
	Floor    float64
}

// NewEstimator builds an estimator over a playback sample snapshot function
// and an activity probe. onUpdate, if non-nil, fires on every reading change
// from either side.
func NewEstimator(snapshot func(n int) []float32, active func() bool, onUpdate func(input, output float64), opts Options) *Estimator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Floor <= 0 {
		opts.Floor = DefaultFloor
	}
	return &Estimator{
		snapshot: snapshot,
		active:   active,
		onUpdate: onUpdate,
		interval: opts.Interval,
		window:   opts.Window,
		floor:    opts.Floor,
		fft:      fourier.NewFFT(opts.Window),
	}
}

// SetInput records a microphone block's RMS, scaled to the 0..100 meter.
func (e *Estimator) SetInput(rms float64) {
	level := math.Min(100, rms*500)
	e.mu.Lock()
	changed := level != e.input
	e.input = level
	in, out := e.input, e.output
	e.mu.Unlock()
	if changed && e.onUpdate != nil {
		e.onUpdate(in, out)
	}
}

// Levels returns the current input and output readings.
func (e *Estimator) Levels() (input, output float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input, e.output
}

// Start launches the playback polling loop. Stop ends it; both are
// idempotent.
func (e *Estimator) Start() {
	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.poll(stop, done)
}

func (e *Estimator) Stop() {
	e.mu.Lock()
	if e.stop == nil {
		e.mu.Unlock()
		return
	}
	stop, done := e.stop, e.done
	e.stop = nil
	e.done = nil
	e.mu.Unlock()

	close(stop)
	<-done

	// Both meters pin to zero while no session is active.
	e.mu.Lock()
	changed := e.input != 0 || e.output != 0
	e.input, e.output = 0, 0
	e.mu.Unlock()
	if changed && e.onUpdate != nil {
		e.onUpdate(0, 0)
	}
}

func (e *Estimator) poll(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !e.active() {
			e.setOutput(0)
			continue
		}
		e.setOutput(e.measure(e.snapshot(e.window)))
	}
}

func (e *Estimator) setOutput(level float64) {
	e.mu.Lock()
	changed := level != e.output
	e.output = level
	in, out := e.input, e.output
	e.mu.Unlock()
	if changed && e.onUpdate != nil {
		e.onUpdate(in, out)
	}
}

// measure maps the window's average spectral magnitude onto the meter. The
// spectrum is folded to a 0..255 byte scale over a fixed decibel range; an
// average at or below the quiet floor reads zero.
func (e *Estimator) measure(samples []float32) float64 {
	if len(samples) != e.window {
		return 0
	}
	seq := make([]float64, e.window)
	for i, s := range samples {
		seq[i] = float64(s)
	}
	coeffs := e.fft.Coefficients(nil, seq)

	var sum float64
	for _, c := range coeffs {
		mag := 2 * cmplx.Abs(c) / float64(e.window)
		sum += byteScale(mag)
	}
	avg := sum / float64(len(coeffs))
	if avg <= e.floor {
		return 0
	}
	return math.Min(100, avg*2)
}

func byteScale(magnitude float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(255, scaled))
}

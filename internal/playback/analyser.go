package playback

import "sync"

// Analyser keeps a sliding window of the most recently played samples. The
// volume estimator polls it for frequency-domain snapshots.
type Analyser struct {
	mu     sync.Mutex
	window []float32
	size   int
}

func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = 2048
	}
	return &Analyser{size: size}
}

func (a *Analyser) Push(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, samples...)
	if len(a.window) > a.size {
		a.window = a.window[len(a.window)-a.size:]
	}
}

// Snapshot returns a copy of the last n samples, zero-padded on the left
// when fewer have been played.
func (a *Analyser) Snapshot(n int) []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float32, n)
	start := len(a.window) - n
	if start < 0 {
		copy(out[n-len(a.window):], a.window)
		return out
	}
	copy(out, a.window[start:])
	return out
}

// Reset clears the window, typically on teardown or interruption.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = a.window[:0]
}

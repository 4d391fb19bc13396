package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/linguaflow/lingua-core/internal/audio/wavio"
)

// wavSource replays a WAV recording as if it were live microphone input,
// pacing delivery in real time so downstream level readings and send cadence
// match a real device. Useful for scripted practice runs and soak tests.
type wavSource struct {
	path       string
	sampleRate int
	period     time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewWAVSource(path string, sampleRate int) Source {
	return &wavSource{path: path, sampleRate: sampleRate, period: 20 * time.Millisecond}
}

func (w *wavSource) Start(onSamples func([]float32)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return fmt.Errorf("wav source already started")
	}

	samples, _, err := wavio.ReadFloat32(w.path)
	if err != nil {
		return fmt.Errorf("read wav source: %w", err)
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.replay(samples, onSamples, w.stop, w.done)
	return nil
}

func (w *wavSource) replay(samples []float32, onSamples func([]float32), stop, done chan struct{}) {
	defer close(done)

	perTick := w.sampleRate * int(w.period) / int(time.Second)
	if perTick <= 0 {
		perTick = 1
	}
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for off := 0; off < len(samples); {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		end := off + perTick
		if end > len(samples) {
			end = len(samples)
		}
		onSamples(samples[off:end])
		off = end
	}
}

func (w *wavSource) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return nil
	}
	close(w.stop)
	<-w.done
	w.stop = nil
	w.done = nil
	return nil
}

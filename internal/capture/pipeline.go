package capture

import (
	"log/slog"
	"math"
	"sync"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
)

// DefaultBlockSize matches the fixed-size block processor attached to the
// microphone stream: 4096 mono samples per block at the native input rate.
const DefaultBlockSize = 4096

// Pipeline frames microphone samples into fixed-size blocks and, per block,
// computes an input loudness reading and forwards the encoded audio to the
// active session. Sending is fire-and-forget: a failed block is logged and
// the next one is still attempted.
type Pipeline struct {
	source    Source
	blockSize int
	send      func(b64 string) error
	onLevel   func(rms float64)
	muted     func() bool
	logger    *slog.Logger

	mu      sync.Mutex
	pending []float32
	started bool
}

// NewPipeline wires a capture source to the session's outbound send. muted
// reports whether input-level updates should be suppressed (playback is
// scheduled ahead of now, so the reading would mostly be the tutor's own
// voice leaking back in).
func NewPipeline(source Source, blockSize int, send func(string) error, onLevel func(float64), muted func() bool, logger *slog.Logger) *Pipeline {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Pipeline{
		source:    source,
		blockSize: blockSize,
		send:      send,
		onLevel:   onLevel,
		muted:     muted,
		logger:    logger.With(slog.String("component", "capture")),
	}
}

func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	return p.source.Start(p.handleSamples)
}

// Stop disconnects the capture source. Idempotent and safe to call when the
// pipeline never started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.pending = nil
	p.mu.Unlock()

	if err := p.source.Stop(); err != nil {
		p.logger.Warn("capture source stop failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) handleSamples(samples []float32) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, samples...)
	var blocks [][]float32
	for len(p.pending) >= p.blockSize {
		block := make([]float32, p.blockSize)
		copy(block, p.pending[:p.blockSize])
		p.pending = p.pending[p.blockSize:]
		blocks = append(blocks, block)
	}
	p.mu.Unlock()

	for _, block := range blocks {
		p.processBlock(block)
	}
}

func (p *Pipeline) processBlock(block []float32) {
	if p.onLevel != nil && (p.muted == nil || !p.muted()) {
		p.onLevel(rms(block))
	}

	if err := p.send(pcm.EncodeBase64(block)); err != nil {
		p.logger.Warn("audio block send failed", slog.String("error", err.Error()))
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

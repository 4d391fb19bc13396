package capture

// Source delivers raw mono float samples from a capture device. Callbacks
// arrive from the device's own thread at a cadence set by its period size;
// sample counts per callback are arbitrary and the pipeline reframes them
// into fixed-size blocks.
type Source interface {
	Start(onSamples func([]float32)) error
	Stop() error
}

package wavio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadFloat32 loads a mono WAV file and returns its samples normalized to
// [-1,1] plus the file's sample rate. Multi-channel files are mixed down to
// the first channel.
func ReadFloat32(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("wav file has no format chunk")
	}

	channels := buf.Format.NumChannels
	depth := dec.BitDepth
	if depth == 0 {
		depth = 16
	}
	scale := float32(int(1) << (depth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		samples[i] = float32(buf.Data[i*channels]) / scale
	}
	return samples, buf.Format.SampleRate, nil
}

// WritePCM16 encodes little-endian signed 16-bit PCM bytes as a WAV stream.
func WritePCM16(w io.WriteSeeker, data []byte, sampleRate, channels int) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	buf.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

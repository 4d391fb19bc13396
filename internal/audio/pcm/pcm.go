package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DecodeError indicates a malformed inbound audio payload. Callers are
// expected to drop the offending chunk and keep the session alive.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode audio: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode audio: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Buffer holds decoded float samples together with their format.
type Buffer struct {
	Data       []float32
	SampleRate int
	Channels   int
}

// Duration reports the playback time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Data) / b.Channels
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}

// EncodeFloat32 converts float samples in [-1,1] to little-endian signed
// 16-bit PCM. Samples outside the range are clamped. The output is always
// exactly twice the input length.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// EncodeBase64 produces the wire form of a block of input samples.
func EncodeBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodeFloat32(samples))
}

// DecodeBase64 decodes a base64 audio payload into raw PCM bytes.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	return data, nil
}

// DecodeSamples interprets data as little-endian signed 16-bit PCM and
// normalizes it back to float samples in [-1,1]. A trailing incomplete
// sample is truncated rather than treated as an error.
func DecodeSamples(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}

package wavio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/linguaflow/lingua-core/internal/audio/pcm"
)

func TestWriteThenRead(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	data := pcm.EncodeFloat32(in)

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WritePCM16(f, data, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	samples, rate, err := ReadFloat32(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected 16000 Hz, got %d", rate)
	}
	if len(samples) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(samples))
	}
	for i := range in {
		if math.Abs(float64(in[i])-float64(samples[i])) > 1.0/32768 {
			t.Fatalf("sample %d drifted: %f -> %f", i, in[i], samples[i])
		}
	}
}

func TestWriteRejectsUnalignedPayload(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := WritePCM16(f, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected error for unaligned payload")
	}
}

package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/pcmwire/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestQuantize_Rails(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32768},
		{"zero", 0, 0},
		{"negative zero", float32(math.Copysign(0, -1)), 0},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
		{"clamped above", 2.0, 32767},
		{"clamped below", -3.5, -32768},
		{"positive infinity", float32(math.Inf(1)), 32767},
		{"negative infinity", float32(math.Inf(-1)), -32768},
		{"nan is silence", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.Quantize(tt.in); got != tt.want {
				t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuantize_AsymmetricScale(t *testing.T) {
	// A symmetric 32767 scale would give -32767 here.
	if got := audio.Quantize(-1); got != math.MinInt16 {
		t.Fatalf("Quantize(-1) = %d, want %d", got, math.MinInt16)
	}
	// A symmetric 32768 scale would overflow here.
	if got := audio.Quantize(1); got != math.MaxInt16 {
		t.Fatalf("Quantize(1) = %d, want %d", got, math.MaxInt16)
	}
}

func TestQuantize_InRangeStaysInRange(t *testing.T) {
	for i := -1000; i <= 1000; i++ {
		f := float32(i) / 1000
		q := audio.Quantize(f)
		if f > 0 && q < 0 || f < 0 && q > 0 {
			t.Fatalf("Quantize(%v) = %d changed sign", f, q)
		}
	}
}

func TestQuantize_OutOfRangeEqualsClamped(t *testing.T) {
	for _, f := range []float32{1.0001, 1.5, 7, 1e9, -1.0001, -2, -1e9} {
		clamped := max(-1, min(1, f))
		if got, want := audio.Quantize(f), audio.Quantize(clamped); got != want {
			t.Errorf("Quantize(%v) = %d, want Quantize(%v) = %d", f, got, clamped, want)
		}
	}
}

func TestQuantizeInto(t *testing.T) {
	src := []float32{1, -1, 0, 0.25}
	dst := make([]byte, len(src)*2)
	n := audio.QuantizeInto(dst, src)
	if n != len(src) {
		t.Fatalf("QuantizeInto wrote %d samples, want %d", n, len(src))
	}
	got := bytesToSamples(dst)
	want := []int16{32767, -32768, 0, 8191}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQuantizeInto_ShortDestination(t *testing.T) {
	dst := make([]byte, 5) // room for two whole samples
	n := audio.QuantizeInto(dst, []float32{0.1, 0.2, 0.3})
	if n != 2 {
		t.Fatalf("QuantizeInto wrote %d samples, want 2", n)
	}
	if dst[4] != 0 {
		t.Errorf("trailing byte was written: %#x", dst[4])
	}
}

func TestQuantizeInto_LittleEndian(t *testing.T) {
	dst := make([]byte, 2)
	audio.QuantizeInto(dst, []float32{1})
	if dst[0] != 0xFF || dst[1] != 0x7F {
		t.Errorf("got % x, want ff 7f", dst)
	}
}

func TestPCMToFloat32_RoundTripRails(t *testing.T) {
	dst := make([]byte, 4)
	audio.QuantizeInto(dst, []float32{-1, 0})
	got := audio.PCMToFloat32(append(dst, 0xAA)) // odd trailing byte ignored
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != -1 || got[1] != 0 {
		t.Errorf("got %v, want [-1 0]", got)
	}
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.BytesPerSecond(); got != 32000 {
		t.Fatalf("BytesPerSecond = %d, want 32000", got)
	}
	if got := f.Duration(3200); got != 100*time.Millisecond {
		t.Errorf("Duration(3200) = %v, want 100ms", got)
	}
	if got := (audio.Format{}).Duration(3200); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

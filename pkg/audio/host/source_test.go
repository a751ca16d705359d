package host_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/MrWong99/pcmwire/pkg/audio/host"
)

func TestToneSource(t *testing.T) {
	src, err := host.NewToneSource(1000, 0.5, 8000, 10)
	if err != nil {
		t.Fatal(err)
	}
	block := make([]float32, 8)

	n, err := src.Read(block)
	if n != 8 || err != nil {
		t.Fatalf("first read = (%d, %v), want (8, nil)", n, err)
	}
	if block[0] != 0 {
		t.Errorf("block[0] = %v, want 0", block[0])
	}
	// 1 kHz at 8 kHz: sample 2 is a quarter period, the positive peak.
	if math.Abs(float64(block[2])-0.5) > 1e-6 {
		t.Errorf("block[2] = %v, want 0.5", block[2])
	}

	n, err = src.Read(block)
	if n != 2 || !errors.Is(err, io.EOF) {
		t.Errorf("second read = (%d, %v), want (2, EOF)", n, err)
	}
}

func TestToneSource_InvalidRate(t *testing.T) {
	if _, err := host.NewToneSource(440, 1, 0, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestSilenceSource(t *testing.T) {
	src := host.NewSilenceSource(5)
	block := []float32{1, 1, 1, 1}
	n, err := src.Read(block)
	if n != 4 || err != nil {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	for i, v := range block {
		if v != 0 {
			t.Errorf("block[%d] = %v, want 0", i, v)
		}
	}
	n, err = src.Read(block)
	if n != 1 || !errors.Is(err, io.EOF) {
		t.Errorf("Read = (%d, %v), want (1, EOF)", n, err)
	}
}

func TestReaderSource(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []float32{0.25, -1, 2} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write([]byte{0xAA, 0xBB}) // partial trailing sample

	src := host.NewReaderSource(&buf)
	block := make([]float32, 8)
	n, err := src.Read(block)
	if !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want EOF", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	want := []float32{0.25, -1, 2}
	for i := range want {
		if block[i] != want[i] {
			t.Errorf("block[%d] = %v, want %v", i, block[i], want[i])
		}
	}
}

func TestSliceSource_Empty(t *testing.T) {
	n, err := host.NewSliceSource(nil).Read(make([]float32, 4))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestDecodeMP3_Garbage(t *testing.T) {
	if _, err := host.DecodeMP3(bytes.NewReader([]byte("not an mp3")), 16000); err == nil {
		t.Error("expected error decoding garbage")
	}
}

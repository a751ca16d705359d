package capture

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

// seqBytes returns n bytes counting up from 0 (mod 256).
func seqBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func chunkLens(chunks [][]byte) []int {
	lens := make([]int, len(chunks))
	for i, c := range chunks {
		lens[i] = len(c)
	}
	return lens
}

func TestChunks_Sizes(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		maxSize int
		want    []int
	}{
		{"8192 bytes at 3200", 8192, 3200, []int{3200, 3200, 1792}},
		{"exact multiple", 6400, 3200, []int{3200, 3200}},
		{"smaller than chunk", 100, 3200, []int{100}},
		{"odd max rounds down", 10, 5, []int{4, 4, 2}},
		{"odd input drops last byte", 7, 4, []int{4, 2}},
		{"max below one sample", 4, 1, []int{2, 2}},
		{"empty", 0, 3200, []int{}},
		{"single byte", 1, 3200, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkLens(slices.Collect(Chunks(seqBytes(tt.n), tt.maxSize)))
			if !slices.Equal(got, tt.want) {
				t.Errorf("chunk sizes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunks_ConcatenationReconstructsInput(t *testing.T) {
	for _, n := range []int{0, 2, 3198, 3200, 3202, 8192, 10000} {
		in := seqBytes(n)
		var out []byte
		for c := range Chunks(in, 3200) {
			if len(c)%2 != 0 || len(c) > 3200 {
				t.Fatalf("n=%d: bad chunk length %d", n, len(c))
			}
			out = append(out, c...)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("n=%d: concatenated chunks differ from input", n)
		}
	}
}

func TestChunks_EarlyBreak(t *testing.T) {
	count := 0
	for range Chunks(seqBytes(100), 10) {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestNewFramer_Invalid(t *testing.T) {
	if _, err := NewFramer(1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewFramer(1) err = %v, want ErrInvalidConfig", err)
	}
	f, err := NewFramer(3201)
	if err != nil {
		t.Fatalf("NewFramer(3201): %v", err)
	}
	if f.MaxChunkSize() != 3200 {
		t.Errorf("MaxChunkSize = %d, want 3200", f.MaxChunkSize())
	}
}

func TestFramer_CarriesOddByte(t *testing.T) {
	f, _ := NewFramer(4)
	in := seqBytes(12)

	var out []byte
	collect := func(pcm []byte) {
		for c := range f.Frame(pcm) {
			if len(c)%2 != 0 || len(c) > 4 {
				t.Fatalf("bad chunk length %d", len(c))
			}
			out = append(out, c...)
		}
	}

	collect(in[:5])
	if !f.Pending() {
		t.Fatal("expected a withheld byte after odd input")
	}
	if len(out) != 4 {
		t.Fatalf("emitted %d bytes, want 4", len(out))
	}
	collect(in[5:8])
	if f.Pending() {
		t.Fatal("carry should be consumed by even total")
	}
	collect(in[8:11])
	collect(in[11:])
	if !bytes.Equal(out, in) {
		t.Errorf("out = %v, want %v", out, in)
	}
}

func TestFramer_CarryWithSingleByteInput(t *testing.T) {
	f, _ := NewFramer(3200)
	var out [][]byte
	for _, b := range []byte{1, 2, 3} {
		for c := range f.Frame([]byte{b}) {
			out = append(out, bytes.Clone(c))
		}
	}
	if len(out) != 1 || !bytes.Equal(out[0], []byte{1, 2}) {
		t.Fatalf("out = %v, want [[1 2]]", out)
	}
	if !f.Pending() {
		t.Fatal("expected byte 3 to be withheld")
	}
	f.Reset()
	if f.Pending() {
		t.Error("Reset should drop the withheld byte")
	}
	for range f.Frame(nil) {
		t.Fatal("empty input must not yield")
	}
}

func TestFramer_NoMergingAcrossCalls(t *testing.T) {
	f, _ := NewFramer(3200)
	var lens []int
	for _, n := range []int{256, 256, 256} {
		for c := range f.Frame(seqBytes(n)) {
			lens = append(lens, len(c))
		}
	}
	if !slices.Equal(lens, []int{256, 256, 256}) {
		t.Errorf("chunk sizes = %v, want [256 256 256]", lens)
	}
}

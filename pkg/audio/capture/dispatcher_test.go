package capture_test

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/pcmwire/pkg/audio"
	"github.com/MrWong99/pcmwire/pkg/audio/capture"
)

// newSession returns a dispatcher wired to a port large enough to never drop.
func newSession(t *testing.T, cfg capture.Config) (*capture.Dispatcher, *capture.Port) {
	t.Helper()
	port := capture.NewPort(1024)
	d, err := capture.New(cfg, port)
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	return d, port
}

// drain returns every message currently buffered in port.
func drain(port *capture.Port) []capture.Message {
	var msgs []capture.Message
	for {
		select {
		case m := <-port.Messages():
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func sizes(msgs []capture.Message) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = len(m.Data)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  capture.Config
		port *capture.Port
	}{
		{"nil port", capture.Config{}, nil},
		{"unknown strategy", capture.Config{Strategy: "bursty"}, capture.NewPort(1)},
		{"chunk too small", capture.Config{MaxChunkSize: 1}, capture.NewPort(1)},
		{"negative capacity", capture.Config{BufferCapacity: -4}, capture.NewPort(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := capture.New(tt.cfg, tt.port); !errors.Is(err, capture.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	d, _ := newSession(t, capture.Config{})
	if d.Strategy() != capture.StrategyWindowed {
		t.Errorf("Strategy = %q, want windowed", d.Strategy())
	}
}

func TestDispatcher_ZeroBlockWindowed(t *testing.T) {
	d, port := newSession(t, capture.Config{MaxChunkSize: 3200, BufferCapacity: 4096})

	if !d.Process([][]float32{make([]float32, 4096)}) {
		t.Fatal("Process returned false on a live session")
	}

	msgs := drain(port)
	total := 0
	for _, m := range msgs {
		if m.Type != capture.MessageAudioData {
			t.Errorf("message type = %q", m.Type)
		}
		if slices.ContainsFunc(m.Data, func(b byte) bool { return b != 0 }) {
			t.Error("expected all-zero PCM")
		}
		total += len(m.Data)
	}
	if total != 8192 {
		t.Errorf("total bytes = %d, want 8192", total)
	}
	if got := sizes(msgs); !slices.Equal(got, []int{3200, 3200, 1792}) {
		t.Errorf("chunk sizes = %v, want [3200 3200 1792]", got)
	}
}

func TestDispatcher_WindowedAccumulatesQuanta(t *testing.T) {
	d, port := newSession(t, capture.Config{MaxChunkSize: 3200, BufferCapacity: 1600})

	block := make([]float32, 128)
	for i := 0; i < 12; i++ {
		d.Process([][]float32{block})
	}
	if n := len(drain(port)); n != 0 {
		t.Fatalf("posted %d chunks before the window filled", n)
	}
	d.Process([][]float32{block}) // 13*128 = 1664 >= 1600
	msgs := drain(port)
	if got := sizes(msgs); !slices.Equal(got, []int{3200}) {
		t.Fatalf("chunk sizes = %v, want [3200]", got)
	}

	d.Flush()
	if got := sizes(drain(port)); !slices.Equal(got, []int{128}) {
		t.Errorf("flush sizes = %v, want [128]", got)
	}
	d.Flush()
	if n := len(drain(port)); n != 0 {
		t.Errorf("second flush posted %d chunks", n)
	}
}

func TestDispatcher_Immediate(t *testing.T) {
	d, port := newSession(t, capture.Config{MaxChunkSize: 3200, Strategy: capture.StrategyImmediate})

	d.Process([][]float32{make([]float32, 128)})
	if got := sizes(drain(port)); !slices.Equal(got, []int{256}) {
		t.Errorf("chunk sizes = %v, want [256]", got)
	}
	d.Process([][]float32{make([]float32, 4096)})
	if got := sizes(drain(port)); !slices.Equal(got, []int{3200, 3200, 1792}) {
		t.Errorf("chunk sizes = %v, want [3200 3200 1792]", got)
	}
}

func TestDispatcher_QuantizedValues(t *testing.T) {
	d, port := newSession(t, capture.Config{BufferCapacity: 3})
	d.Process([][]float32{{1.0, -1.0, 2.0}})

	msgs := drain(port)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	got := audio.PCMToFloat32(msgs[0].Data)
	want := []int16{32767, -32768, 32767}
	for i, f := range got {
		if q := int16(f * 32768); q != want[i] {
			t.Errorf("sample %d = %d, want %d", i, q, want[i])
		}
	}
}

func TestDispatcher_IgnoresEmptyAndMalformed(t *testing.T) {
	d, port := newSession(t, capture.Config{BufferCapacity: 4})
	inputs := [][][]float32{nil, {}, {nil}, {{}}}
	for _, in := range inputs {
		if !d.Process(in) {
			t.Fatal("Process must keep the session alive on empty input")
		}
	}
	if n := len(drain(port)); n != 0 {
		t.Errorf("posted %d chunks for empty input", n)
	}
	st := d.Stats()
	if st.IgnoredBlocks != 4 || st.Samples != 0 {
		t.Errorf("stats = %+v, want 4 ignored and no samples", st)
	}
}

func TestDispatcher_UsesOnlyFirstChannel(t *testing.T) {
	d, port := newSession(t, capture.Config{BufferCapacity: 2})
	d.Process([][]float32{{0, 0}, {1, 1}})
	msgs := drain(port)
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Data, []byte{0, 0, 0, 0}) {
		t.Errorf("got %v, want one silent 4-byte chunk", msgs)
	}
}

func TestDispatcher_Stop(t *testing.T) {
	d, port := newSession(t, capture.Config{BufferCapacity: 1})
	d.Stop()
	if d.Process([][]float32{{0.5}}) {
		t.Fatal("Process should return false after Stop")
	}
	if !d.Stopped() {
		t.Error("Stopped() = false")
	}
	if n := len(drain(port)); n != 0 {
		t.Errorf("stopped dispatcher posted %d chunks", n)
	}
}

func TestDispatcher_DropsWhenPortFull(t *testing.T) {
	port := capture.NewPort(1)
	d, err := capture.New(capture.Config{BufferCapacity: 1}, port)
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	d.Process([][]float32{{0.1, 0.2, 0.3}})

	st := d.Stats()
	if st.ChunksPosted != 1 || st.ChunksDropped != 2 {
		t.Errorf("posted=%d dropped=%d, want 1 and 2", st.ChunksPosted, st.ChunksDropped)
	}
	if st.BytesPosted != 2 {
		t.Errorf("BytesPosted = %d, want 2", st.BytesPosted)
	}
}

func TestDispatcher_ChunksAreIndependent(t *testing.T) {
	d, port := newSession(t, capture.Config{BufferCapacity: 2})
	d.Process([][]float32{{1, 1}})
	d.Process([][]float32{{-1, -1}})
	msgs := drain(port)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if bytes.Equal(msgs[0].Data, msgs[1].Data) {
		t.Error("first chunk was overwritten by the reused window")
	}
}

func TestDispatcher_OrderPreserved(t *testing.T) {
	d, port := newSession(t, capture.Config{MaxChunkSize: 4, BufferCapacity: 6})
	block := make([]float32, 30)
	for i := range block {
		block[i] = float32(i) / 100
	}
	d.Process([][]float32{block})

	var got []byte
	for _, m := range drain(port) {
		got = append(got, m.Data...)
	}
	want := make([]byte, len(block)*2)
	audio.QuantizeInto(want, block)
	if !bytes.Equal(got, want) {
		t.Error("concatenated chunks do not match the quantized input")
	}
}

func TestDispatcher_ConcurrentStatsAndStop(t *testing.T) {
	d, port := newSession(t, capture.Config{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			_ = d.Stats()
		}
		d.Stop()
	}()
	for d.Process([][]float32{make([]float32, 128)}) {
		drain(port)
	}
	wg.Wait()
}

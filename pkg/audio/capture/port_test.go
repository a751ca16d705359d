package capture

import (
	"testing"
	"time"
)

func TestPort_PostNeverBlocks(t *testing.T) {
	p := NewPort(2)
	if !p.Post(Message{Type: MessageAudioData}) || !p.Post(Message{Type: MessageAudioData}) {
		t.Fatal("posts within capacity should succeed")
	}

	done := make(chan bool, 1)
	go func() { done <- p.Post(Message{Type: MessageAudioData}) }()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("post to a full port should report a drop")
		}
	case <-time.After(time.Second):
		t.Fatal("Post blocked on a full port")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
}

func TestPort_CloseDeliversBufferedThenEnds(t *testing.T) {
	p := NewPort(4)
	p.Post(Message{Type: MessageAudioData, Data: []byte{1, 2}})
	p.Close()
	p.Close()

	if p.Post(Message{Type: MessageAudioData}) {
		t.Error("post after close should be dropped")
	}
	msg, ok := <-p.Messages()
	if !ok || len(msg.Data) != 2 {
		t.Fatalf("expected buffered message, got %v ok=%v", msg, ok)
	}
	if _, ok := <-p.Messages(); ok {
		t.Error("channel should be closed after buffered messages")
	}
}

func TestNewPort_MinimumCapacity(t *testing.T) {
	p := NewPort(0)
	if !p.Post(Message{}) {
		t.Error("zero capacity should be raised to one")
	}
}

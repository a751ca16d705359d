package websocket

import (
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name   string
		typ    websocket.MessageType
		data   string
		want   transport.Event
		wantOK bool
	}{
		{"text chunk", websocket.MessageText, `{"type":"ai_text","chunk":"hi"}`, transport.Event{Type: transport.EventText, Text: "hi"}, true},
		{"ai error", websocket.MessageText, `{"type":"ai_error","message":"quota"}`, transport.Event{Type: transport.EventError, Text: "quota"}, true},
		{"audio error", websocket.MessageText, `{"type":"audio_error","message":"tts down"}`, transport.Event{Type: transport.EventAudioError, Text: "tts down"}, true},
		{"audio start", websocket.MessageText, `{"type":"audio_start"}`, transport.Event{Type: transport.EventAudioStart}, true},
		{"unknown type", websocket.MessageText, `{"type":"ping"}`, transport.Event{}, false},
		{"not json", websocket.MessageText, `hello`, transport.Event{}, false},
		{"empty binary", websocket.MessageBinary, ``, transport.Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeEvent(tt.typ, []byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Type != tt.want.Type || got.Text != tt.want.Text {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

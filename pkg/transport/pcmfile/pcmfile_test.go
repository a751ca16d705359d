package pcmfile_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/pcmwire/pkg/transport"
	"github.com/MrWong99/pcmwire/pkg/transport/pcmfile"
)

func TestSession_AppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcm")
	d, err := pcmfile.New(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, chunk := range [][]byte{{1, 2, 3, 4}, {5, 6}} {
		sess, err := d.Dial(context.Background(), transport.SessionConfig{SessionID: "s"})
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		if err := sess.SendControl(transport.Interrupt()); err != nil {
			t.Errorf("SendControl: %v", err)
		}
		if err := sess.SendAudio(chunk); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
		if err := sess.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, ok := <-sess.Events(); ok {
			t.Error("events channel should be closed after Close")
		}
		if err := sess.SendAudio(chunk); !errors.Is(err, transport.ErrClosed) {
			t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
		}
		if err := sess.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{1, 2, 3, 4, 5, 6}; !bytes.Equal(got, want) {
		t.Errorf("file = %v, want %v", got, want)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := pcmfile.New(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestDial_BadDirectory(t *testing.T) {
	d, err := pcmfile.New(filepath.Join(t.TempDir(), "missing", "out.pcm"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dial(context.Background(), transport.SessionConfig{}); err == nil {
		t.Error("expected error opening file in missing directory")
	}
}

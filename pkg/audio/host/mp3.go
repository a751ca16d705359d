package host

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/pcmwire/pkg/audio"
)

// DecodeMP3 decodes an entire MP3 stream into mono float32 samples at
// sampleRate. The decoder always yields 16-bit stereo, which is averaged down
// to mono and then linearly resampled.
func DecodeMP3(r io.Reader, sampleRate int) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: new decoder: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: decode: %w", err)
	}
	mono := audio.DownmixStereo16(pcm)
	if dec.SampleRate() != sampleRate {
		slog.Info("mp3: resampling", "from", dec.SampleRate(), "to", sampleRate, "samples", len(mono))
	}
	return audio.Resample(mono, dec.SampleRate(), sampleRate), nil
}

// OpenMP3File decodes the MP3 file at path into an in-memory source.
func OpenMP3File(path string, sampleRate int) (*SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp3: open: %w", err)
	}
	defer f.Close()

	samples, err := DecodeMP3(f, sampleRate)
	if err != nil {
		return nil, err
	}
	return NewSliceSource(samples), nil
}

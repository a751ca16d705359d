package audio

import "time"

// BytesPerSample is the wire size of one quantized sample (signed 16-bit PCM).
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
// The capture pipeline only ever produces mono; Channels is carried so that
// transports can announce the format to the backend.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for speech backends).
	SampleRate int

	// Channels is always 1 for captured PCM.
	Channels int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.SampleRate * ch * BytesPerSample
}

// Duration returns how much audio n bytes of PCM in format f represent.
// Returns 0 for a zero or negative sample rate.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

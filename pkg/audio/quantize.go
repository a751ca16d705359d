package audio

import (
	"encoding/binary"
	"math"
)

// Scale factors for float → int16 conversion. Negative samples use the full
// magnitude of the negative rail so that -1.0 maps to math.MinInt16 exactly.
const (
	positiveScale = 0x7FFF
	negativeScale = 0x8000
)

// Quantize converts one floating-point sample to signed 16-bit PCM.
//
// The sample is clamped to [-1.0, 1.0] before scaling, so driver overshoot
// saturates instead of wrapping. Positive values scale by 32767 and values
// <= 0 by 32768; the fractional part is truncated toward zero. NaN is treated
// as silence.
func Quantize(sample float32) int16 {
	s := float64(sample)
	switch {
	case math.IsNaN(s):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s > 0 {
		return int16(s * positiveScale)
	}
	return int16(s * negativeScale)
}

// QuantizeInto quantizes src into dst as little-endian int16 PCM. It writes
// as many whole samples as fit into dst and returns the number of samples
// written. It never allocates.
func QuantizeInto(dst []byte, src []float32) int {
	n := min(len(src), len(dst)/BytesPerSample)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(Quantize(src[i])))
	}
	return n
}

// PCMToFloat32 converts little-endian int16 PCM back to float32 samples in
// [-1.0, 1.0). Any trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		samples[i] = float32(sample) / negativeScale
	}
	return samples
}

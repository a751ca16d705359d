package audio

// Helpers for preparing decoded audio files before they enter the capture
// path. The capture path itself never resamples or downmixes; these run once
// when a file source is opened.

// DownmixStereo16 converts interleaved little-endian int16 stereo PCM into
// mono float32 samples by averaging L and R per frame. A trailing partial
// frame is ignored.
func DownmixStereo16(pcm []byte) []float32 {
	frames := len(pcm) / 4
	out := make([]float32, frames)
	for i := range frames {
		l := int32(int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8))
		r := int32(int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8))
		out[i] = float32(l+r) / 2 / 32768
	}
	return out
}

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is non-positive, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

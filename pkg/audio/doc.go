// Package audio holds the sample-level building blocks of pcmwire.
//
// [Quantize] and [QuantizeInto] convert float32 samples in [-1, 1] to signed
// 16-bit little-endian PCM, the wire format every transport carries.
// [Format] describes a PCM stream. [DownmixStereo16] and [Resample] prepare
// decoded files before they are replayed through the capture path.
//
// This package lives under pkg/ because the conversion is useful on its own,
// outside the capture pipeline in pkg/audio/capture.
package audio

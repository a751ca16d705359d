// Package capture implements the real-time half of the microphone pipeline:
// it turns blocks of float32 samples delivered by an audio host into bounded
// chunks of signed 16-bit little-endian PCM and posts them, without blocking,
// to a consumer running on another goroutine.
//
// The pieces, leaves first:
//
//   - [FrameBuffer]: a fixed-capacity window that quantizes samples in place
//     and reports when it is full.
//   - [Chunks] and [Framer]: split PCM bytes into chunks no larger than the
//     configured maximum, never splitting a sample.
//   - [Dispatcher]: the per-quantum entry point. It drives the above and
//     posts each chunk to a [Port].
//   - [Port]: a bounded single-producer/single-consumer hand-off. Posting
//     never blocks; a full port drops the chunk.
//
// Nothing in this package logs, locks, or waits. Everything except [Port]'s
// receive side and [Dispatcher.Stats] must be used from the host goroutine
// only.
package capture

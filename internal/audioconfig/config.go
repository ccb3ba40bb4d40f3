// Package audioconfig defines the AudioConfig value type described in
// spec.md section 3: the set of fields that must match between
// transmitter and receiver for a stream to play back correctly, plus the
// fields derived from them (frame size, chunk size, chunk time).
package audioconfig

import "github.com/blaa/wavesync-go/internal/errors"

// Config is the AudioConfig value from spec.md section 3. It is
// transmitted in status packets (see internal/wireproto) and compared
// for equality to decide whether a receiver must reconfigure its sink.
type Config struct {
	Rate           int // samples/sec, e.g. 44100, 48000
	SampleBits     int // 16 or 24
	Channels       int // 1 or 2
	LatencyMs      int // end-to-end synchronization budget, 50-29000
	SinkLatencyMs  int // local sink fudge factor, <= LatencyMs
	ChunkSizeBytes int // payload per datagram, rounded to a multiple of FrameSize
}

// FrameSize returns the number of bytes spanned by one sample across all
// channels.
func (c Config) FrameSize() int {
	return c.Channels * c.SampleBits / 8
}

// ChunkTime returns the playback duration of one chunk, in seconds.
func (c Config) ChunkTime() float64 {
	frameSize := c.FrameSize()
	if frameSize == 0 || c.Rate == 0 {
		return 0
	}
	framesInChunk := c.ChunkSizeBytes / frameSize
	return float64(framesInChunk) / float64(c.Rate)
}

// LatencySeconds is LatencyMs expressed in seconds.
func (c Config) LatencySeconds() float64 {
	return float64(c.LatencyMs) / 1000.0
}

// SinkLatencySeconds is SinkLatencyMs expressed in seconds.
func (c Config) SinkLatencySeconds() float64 {
	return float64(c.SinkLatencyMs) / 1000.0
}

// WithChunkSize returns a copy of c with ChunkSizeBytes rounded down to
// the nearest multiple of FrameSize, matching the AudioConfig.chunk_size
// setter in the original implementation: the payload must always carry a
// whole number of frames so a dropped or resized packet never splits a
// stereo sample pair across chunk boundaries.
func (c Config) WithChunkSize(size int) Config {
	frameSize := c.FrameSize()
	if frameSize > 0 {
		size -= size % frameSize
	}
	c.ChunkSizeBytes = size
	return c
}

// Equal implements the equality invariant from spec.md section 3: two
// configurations compare equal iff rate, sample bits, channels, latency,
// sink latency and chunk size all match. Inequality is the receiver's
// signal to reconfigure its output.
func (c Config) Equal(other Config) bool {
	return c.Rate == other.Rate &&
		c.SampleBits == other.SampleBits &&
		c.Channels == other.Channels &&
		c.LatencyMs == other.LatencyMs &&
		c.SinkLatencyMs == other.SinkLatencyMs &&
		c.ChunkSizeBytes == other.ChunkSizeBytes
}

// Validate checks the invariants spec.md sections 3 and 6 place on a
// configuration: sample bits in {16, 24}, channels in {1, 2}, latency in
// [50, 29000]ms, and sink latency not exceeding latency.
func (c Config) Validate() error {
	if c.SampleBits != 16 && c.SampleBits != 24 {
		return errors.New(nil).
			Component("audioconfig").
			Category(errors.CategoryValidation).
			Context("sample_bits", c.SampleBits).
			Build()
	}
	if c.Channels != 1 && c.Channels != 2 {
		return errors.New(nil).
			Component("audioconfig").
			Category(errors.CategoryValidation).
			Context("channels", c.Channels).
			Build()
	}
	if c.LatencyMs < 50 || c.LatencyMs > 29000 {
		return errors.Newf("latency_ms %d out of range [50, 29000]", c.LatencyMs).
			Component("audioconfig").
			Category(errors.CategoryValidation).
			Context("latency_ms", c.LatencyMs).
			Build()
	}
	if c.SinkLatencyMs > c.LatencyMs {
		return errors.New(nil).
			Component("audioconfig").
			Category(errors.CategoryValidation).
			Context("sink_latency_ms", c.SinkLatencyMs).
			Context("latency_ms", c.LatencyMs).
			Build()
	}
	return nil
}

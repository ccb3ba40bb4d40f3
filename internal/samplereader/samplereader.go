// Package samplereader implements the transmitter-side chunking stage
// described in spec.md section 4: raw PCM bytes arrive from an input
// stream (a unix socket in cmd/wavesync), get accumulated into fixed-size chunks sized
// to fit one UDP datagram, stamped with a stream-time, silence-gated,
// and handed to the packetizer through a FIFO queue.
//
// Grounded on sample_reader.py: the payload-size-driven chunk sizing,
// the heuristic silence detector (first/last byte zero, confirmed by a
// full scan once the run exceeds a threshold), the stream-time
// accumulation and underflow reset, and decrement_payload_size's
// flush-on-MTU-backoff behaviour.
package samplereader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/clock"
	"github.com/blaa/wavesync-go/internal/errors"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/blaa/wavesync-go/internal/wireproto"
	"github.com/smallnest/ringbuffer"
)

// SilenceThreshold is the number of consecutive heuristically-silent
// chunks (first and last byte zero) before the run is confirmed with a
// full scan and silence tracking begins, per sample_reader.py's
// SILENCE_TRESHOLD.
const SilenceThreshold = 20

// HeaderOverhead is the number of bytes of framing (2-byte header plus
// the 2-byte time mark) that must be subtracted from a UDP payload size
// to get the audio chunk size, matching sample_reader.py's HEADER_SIZE.
const HeaderOverhead = wireproto.HeaderSize + timemark.Size

// Entry is one chunk handed to the packetizer: PCM bytes stamped with
// the transmitter-side stream time it was produced at.
type Entry struct {
	StreamTime float64
	Chunk      []byte
}

// Reader accumulates bytes into chunks and exposes them through Pop. It
// is safe for one writer (Write/DecrementPayloadSize) and one reader
// (Pop) to use concurrently.
type Reader struct {
	mu     sync.Mutex
	clock  clock.Source
	logger *slog.Logger

	config      audioconfig.Config
	payloadSize int
	ring        *ringbuffer.RingBuffer

	silenceActive bool
	silenceRun    int
	streamTime    *float64

	entries   []Entry
	available chan struct{}
}

// New returns a Reader for the given starting configuration. SetPayloadSize
// must be called once before Write to establish the chunk size.
func New(clk clock.Source, config audioconfig.Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		clock:     clk,
		config:    config,
		logger:    logger.With("component", "samplereader"),
		available: make(chan struct{}),
		ring:      ringbuffer.New(1 << 20),
	}
}

// SetPayloadSize derives the chunk size from a UDP payload budget,
// mirroring sample_reader.py's payload_size setter: the chunk must leave
// room for the wire header and time mark.
func (r *Reader) SetPayloadSize(payloadSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadSize = payloadSize
	r.config = r.config.WithChunkSize(payloadSize - HeaderOverhead)
}

// Config returns the reader's current AudioConfig, including the
// derived chunk size.
func (r *Reader) Config() audioconfig.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// Write accepts newly-read bytes from the input stream, splits them into
// complete chunks, and enqueues each one. Excess bytes shorter than one
// chunk are retained for the next call.
func (r *Reader) Write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.ring.Write(data); err != nil {
		return errors.New(err).
			Component("samplereader").
			Category(errors.CategoryAudio).
			Context("operation", "buffer_write").
			Build()
	}

	chunkSize := r.config.ChunkSizeBytes
	if chunkSize <= 0 {
		return errors.New(nil).
			Component("samplereader").
			Category(errors.CategoryValidation).
			Context("error", "chunk size not configured; call SetPayloadSize first").
			Build()
	}

	for r.ring.Length() >= chunkSize {
		chunk := make([]byte, chunkSize)
		if _, err := r.ring.Read(chunk); err != nil {
			return errors.New(err).
				Component("samplereader").
				Category(errors.CategoryAudio).
				Context("operation", "buffer_read").
				Build()
		}
		r.processChunkLocked(chunk)
	}

	if len(r.entries) > 600 {
		r.logger.Warn("samples backing up in queue; slow transmission or eager input",
			"queue_length", len(r.entries))
	}

	if r.streamTime != nil {
		now := r.clock.Now()
		diff := *r.streamTime - now
		threshold := -r.config.LatencySeconds() / 2
		if threshold > -1 {
			threshold = -1
		}
		if diff < threshold {
			r.logger.Warn("input underflow detected, resetting stream clock")
			r.streamTime = nil
		}
	}

	return nil
}

// processChunkLocked applies silence gating and stream-time accumulation
// to one chunk and, unless it was absorbed into a silence run, appends
// it to the outgoing queue. r.mu must be held.
func (r *Reader) processChunkLocked(chunk []byte) {
	if r.silenceActive {
		if anyNonZero(chunk) {
			r.silenceActive = false
			r.silenceRun = 0
			now := r.clock.Now()
			if r.streamTime == nil || *r.streamTime < now {
				t := now
				r.streamTime = &t
			}
		} else {
			return // still silent, drop the chunk entirely
		}
	} else {
		if chunk[0] == 0 && chunk[len(chunk)-1] == 0 {
			r.silenceRun++
		} else {
			r.silenceRun = 0
		}

		if r.silenceRun > SilenceThreshold {
			if anyNonZero(chunk) {
				r.silenceRun = 0
			} else {
				r.silenceActive = true
				r.silenceRun = 0
				return
			}
		}
	}

	if r.streamTime == nil {
		t := r.clock.Now()
		r.streamTime = &t
	} else {
		t := *r.streamTime + r.config.ChunkTime()
		r.streamTime = &t
	}

	r.entries = append(r.entries, Entry{StreamTime: *r.streamTime, Chunk: chunk})
	r.signalLocked()
}

// DecrementPayloadSize shrinks the payload budget by one byte after an
// EMSGSIZE from the packetizer, discarding whatever is currently queued
// since it was sized for the old, too-large chunk. Returns the new
// datagram size (chunk size plus framing overhead) the packetizer should
// retry with.
func (r *Reader) DecrementPayloadSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payloadSize--
	r.config = r.config.WithChunkSize(r.payloadSize - HeaderOverhead)
	r.entries = nil
	r.available = make(chan struct{})

	return r.config.ChunkSizeBytes + HeaderOverhead
}

// Pop blocks until a chunk is available or ctx is done.
func (r *Reader) Pop(ctx context.Context) (Entry, bool) {
	for {
		r.mu.Lock()
		if len(r.entries) > 0 {
			e := r.entries[0]
			r.entries = r.entries[1:]
			if len(r.entries) == 0 {
				r.available = make(chan struct{})
			}
			r.mu.Unlock()
			return e, true
		}
		ch := r.available
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

func (r *Reader) signalLocked() {
	select {
	case <-r.available:
	default:
		close(r.available)
	}
}

func anyNonZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

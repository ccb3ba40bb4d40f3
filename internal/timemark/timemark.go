// Package timemark implements the 16-bit future-time encoding described
// in spec.md section 4.1: a compact, lossy-but-recoverable representation
// of a near-future wall-clock instant that fits in a UDP datagram header.
//
// A Mark packs (future mod 60) seconds, expressed in whole milliseconds,
// into a big-endian uint16. Recovery only works for receivers whose clock
// is ahead of the sender's by less than the encoded latency and behind it
// by less than 60 s minus that latency (see Decode) -- hence the
// fleet-wide NTP assumption spec.md section 1 makes explicit.
package timemark

import "encoding/binary"

// Size is the wire size of a Mark in bytes.
const Size = 2

// wheelSeconds is the modulus the mark wraps around -- RANGE in the
// original implementation.
const wheelSeconds = 60

// Mark is the 16-bit wire encoding of a near-future timestamp.
type Mark uint16

// Encode packs relative + latencySeconds into a Mark. relative is the
// sender's current wall-clock reading (epoch seconds); latencySeconds is
// how far into the future the mark should point (spec.md restricts this
// to [0, 29] s in practice, enforced by config validation rather than
// here). Encode returns both the absolute future timestamp (for local
// use, e.g. enqueuing onto a local playback queue) and the wire Mark.
func Encode(relative, latencySeconds float64) (future float64, mark Mark) {
	future = relative + latencySeconds
	withinWheel := mod(future, wheelSeconds)
	millis := int64(withinWheel * 1000)
	return future, Mark(uint16(millis))
}

// Decode recovers the absolute future timestamp a Mark refers to, given
// the receiver's own idea of "now" (receiverNow). The result always lies
// in [receiverNow, receiverNow+60), so it is only accurate when the
// receiver's clock has not yet reached the marked instant and is less
// than 60 s before it.
func Decode(mark Mark, receiverNow float64) float64 {
	base := mod(receiverNow, wheelSeconds)
	base = receiverNow - base

	recovered := base + float64(uint16(mark))/1000.0
	if recovered < receiverNow {
		// The mark refers to the next turn of the wheel.
		recovered += wheelSeconds
	}
	return recovered
}

// Bytes serializes the mark as big-endian, per the wire protocol in
// spec.md section 6.
func (m Mark) Bytes() [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint16(b[:], uint16(m))
	return b
}

// Parse reads a Mark from its big-endian wire representation. Returns
// false if buf is shorter than Size.
func Parse(buf []byte) (Mark, bool) {
	if len(buf) < Size {
		return 0, false
	}
	return Mark(binary.BigEndian.Uint16(buf)), true
}

// mod returns the non-negative floating point remainder of x / y,
// matching Python's behaviour for positive y (Go's math.Mod can return a
// value with the sign of x, which never happens here since wall-clock
// readings are positive, but we guard anyway for safety in tests that
// might feed synthetic small values).
func mod(x, y float64) float64 {
	r := x - floor(x/y)*y
	if r < 0 {
		r += y
	}
	return r
}

func floor(x float64) float64 {
	i := int64(x)
	if x < 0 && float64(i) != x {
		i--
	}
	return float64(i)
}

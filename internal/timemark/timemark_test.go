package timemark

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip_S2(t *testing.T) {
	// spec.md S2: encode relative=1549305460.0, L=5000ms; decode with
	// relative=1549305459.0 and relative=1549305461.8 must both recover
	// 1549305465.0 within 1ms.
	future, mark := Encode(1549305460.0, 5.0)
	require.InDelta(t, 1549305465.0, future, 1e-9)

	for _, receiverNow := range []float64{1549305459.0, 1549305461.8} {
		recovered := Decode(mark, receiverNow)
		assert.InDelta(t, 1549305465.0, recovered, 0.001, "receiverNow=%v", receiverNow)
	}
}

func TestRoundTripAcrossHorizon(t *testing.T) {
	// Round-trip law: for L in [0, 29000ms] and receiver clocks up to 20s
	// off the sender's, decoding recovers the original instant to within
	// 1ms whenever the receiver's clock has not yet reached that instant
	// (Decode places its result in [receiverNow, receiverNow+60)).
	bases := []float64{0, 12.345, 59.999, 1000.5, 1_700_000_000.125}
	latenciesMs := []float64{0, 1, 500, 999, 1000, 5000, 15000, 28999, 29000}
	skews := []float64{-20, -5, -0.5, 0, 0.5, 5, 20}

	for _, base := range bases {
		for _, latencyMs := range latenciesMs {
			future, mark := Encode(base, latencyMs/1000.0)
			for _, skew := range skews {
				receiverNow := base + skew
				recovered := Decode(mark, receiverNow)
				if math.Abs(skew) >= 30 || skew >= latencyMs/1000.0 {
					continue // outside the documented recovery window
				}
				assert.InDelta(t, future, recovered, 0.001,
					"base=%v latencyMs=%v skew=%v", base, latencyMs, skew)
			}
		}
	}
}

func TestAmbiguityAtSixtySeconds(t *testing.T) {
	// spec.md property 1: at L=60000ms the round trip must NOT hold --
	// this is the documented ambiguity, not a bug.
	future, mark := Encode(1000.0, 60.0)
	recovered := Decode(mark, 1000.0)
	assert.NotInDelta(t, future, recovered, 0.001)
}

func TestBytesRoundTrip(t *testing.T) {
	_, mark := Encode(12345.678, 2.5)
	wire := mark.Bytes()
	parsed, ok := Parse(wire[:])
	require.True(t, ok)
	assert.Equal(t, mark, parsed)
}

func TestParseShortBuffer(t *testing.T) {
	_, ok := Parse([]byte{0x01})
	assert.False(t, ok)
}

func TestMarkRange(t *testing.T) {
	_, mark := Encode(0, 29.0)
	assert.Less(t, uint16(mark), uint16(60000))
}

package samplereader

import (
	"bytes"
	"context"
	"testing"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T) (*Reader, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(1000.0)
	cfg := audioconfig.Config{Rate: 44100, SampleBits: 16, Channels: 2, LatencyMs: 1000}
	r := New(fake, cfg, nil)
	r.SetPayloadSize(1004) // chunk size 1000 after subtracting HeaderOverhead(4)
	return r, fake
}

func TestSetPayloadSizeDerivesChunkSize(t *testing.T) {
	r, _ := newTestReader(t)
	assert.Equal(t, 1000, r.Config().ChunkSizeBytes)
}

func TestWriteEmitsCompleteChunks(t *testing.T) {
	r, _ := newTestReader(t)

	payload := bytes.Repeat([]byte{0x01, 0x02, 0x11, 0x12}, 500) // 2000 bytes == 2 chunks
	require.NoError(t, r.Write(payload))

	ctx := context.Background()
	e1, ok := r.Pop(ctx)
	require.True(t, ok)
	assert.Len(t, e1.Chunk, 1000)

	e2, ok := r.Pop(ctx)
	require.True(t, ok)
	assert.Len(t, e2.Chunk, 1000)
	assert.Greater(t, e2.StreamTime, e1.StreamTime)
}

func TestWritePartialChunkIsBuffered(t *testing.T) {
	r, _ := newTestReader(t)
	require.NoError(t, r.Write(make([]byte, 500)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.Pop(ctx)
	assert.False(t, ok, "no complete chunk should be available yet")
}

func TestSilenceStartAndEndSuppressesChunks(t *testing.T) {
	r, _ := newTestReader(t)

	// The first SilenceThreshold all-zero chunks are heuristically
	// "maybe silent" but still queued as ordinary chunks; only once the
	// run exceeds the threshold is a chunk confirmed-silent and dropped,
	// which also flips the reader into silenceActive so subsequent
	// all-zero chunks are dropped outright.
	silentChunk := make([]byte, 1000)
	for i := 0; i < SilenceThreshold+1; i++ {
		require.NoError(t, r.Write(silentChunk))
	}

	ctx := context.Background()
	for i := 0; i < SilenceThreshold; i++ {
		e, ok := r.Pop(ctx)
		require.True(t, ok, "chunk %d before threshold should have been queued", i)
		assert.Len(t, e.Chunk, 1000)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.Pop(cancelCtx)
	assert.False(t, ok, "the confirming chunk should have been dropped, not queued")

	// Still silent: dropped outright while silenceActive.
	require.NoError(t, r.Write(silentChunk))
	_, ok = r.Pop(cancelCtx)
	assert.False(t, ok)

	loud := bytes.Repeat([]byte{0x7F}, 1000)
	require.NoError(t, r.Write(loud))

	e, ok := r.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, loud, e.Chunk)
}

func TestDecrementPayloadSizeFlushesQueue(t *testing.T) {
	r, _ := newTestReader(t)
	loud := bytes.Repeat([]byte{0x7F}, 1000)
	require.NoError(t, r.Write(loud))

	newSize := r.DecrementPayloadSize()
	assert.Equal(t, 1000, newSize) // 999 rounded down to a multiple of frame size (4), plus 4

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.Pop(ctx)
	assert.False(t, ok, "queue must be flushed on decrement")
}

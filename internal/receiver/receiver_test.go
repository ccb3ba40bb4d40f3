package receiver

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/blaa/wavesync-go/internal/wireproto"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t float64 }

func (c fixedClock) Now() float64 { return c.t }

func testConfig() audioconfig.Config {
	c := audioconfig.Config{Rate: 44100, SampleBits: 16, Channels: 2, LatencyMs: 1000}
	return c.WithChunkSize(1000)
}

func TestHandleDatagramRawAudioEnqueues(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 1000.0}, nil)

	_, mark := timemark.Encode(999.0, 1.0)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	dgram := wireproto.BuildAudioDatagram(wireproto.HeaderRawAudio, mark, payload)

	r.HandleDatagram(dgram)

	entry, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindAudio, entry.Kind)
	assert.Equal(t, payload, entry.Payload)
}

func TestHandleDatagramCompressedAudioInflates(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 1000.0}, nil)

	raw := bytes.Repeat([]byte{0x42}, 500)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, mark := timemark.Encode(999.0, 1.0)
	dgram := wireproto.BuildAudioDatagram(wireproto.HeaderCompressedAudio, mark, buf.Bytes())

	r.HandleDatagram(dgram)

	entry, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, raw, entry.Payload)
}

func TestHandleDatagramCompressedAudioInvalidIsDropped(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 1000.0}, nil)

	_, mark := timemark.Encode(999.0, 1.0)
	dgram := wireproto.BuildAudioDatagram(wireproto.HeaderCompressedAudio, mark, []byte{0x00, 0x01, 0x02})

	r.HandleDatagram(dgram)
	assert.Equal(t, 0, q.Len())
}

func TestHandleDatagramIgnoresAudioDuringRecovery(t *testing.T) {
	q := chunkqueue.New()
	q.DoRecovery()
	r := New(q, fixedClock{t: 1000.0}, nil)

	_, mark := timemark.Encode(999.0, 1.0)
	dgram := wireproto.BuildAudioDatagram(wireproto.HeaderRawAudio, mark, []byte{0x01})

	r.HandleDatagram(dgram)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 59, q.IgnoreAudioPackets)
}

func TestHandleStatusFirstPacketSeedsBaselineWithoutLossReport(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 2000.0}, nil)

	status := wireproto.Status{SenderWallTS: 1999.5, ChunkNo: 5000, Config: testConfig()}
	dgram := wireproto.BuildStatusDatagram(status)

	r.HandleDatagram(dgram)

	// First status seeds config (enqueued) and the sender-chunk baseline,
	// but never reports loss for the first observation.
	entry, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindConfig, entry.Kind)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, uint64(0), r.Snapshot().Drops)
	assert.InDelta(t, 0.5, r.Snapshot().NetworkLatency, 1e-9)
}

func TestHandleStatusReportsDropsOnSubsequentPacket(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 2000.0}, nil)

	first := wireproto.Status{SenderWallTS: 2000.0, ChunkNo: 2000, Config: testConfig()}
	r.HandleDatagram(wireproto.BuildStatusDatagram(first))
	_, _ = q.Pop(context.Background()) // drain the Config entry

	// Receiver only actually received 100 chunks out of 124 the sender sent.
	for i := 0; i < 100; i++ {
		q.PushAudio(float64(i), nil)
	}
	for i := 0; i < 100; i++ {
		_, _ = q.Pop(context.Background())
	}

	second := wireproto.Status{SenderWallTS: 2001.0, ChunkNo: 2124, Config: testConfig()}
	r.HandleDatagram(wireproto.BuildStatusDatagram(second))

	entry, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindDrops, entry.Kind)
	assert.Equal(t, 24, entry.DropCount)
	assert.Equal(t, uint64(24), r.Snapshot().Drops)
}

func TestHandleStatusRestartResetsBaseline(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 2000.0}, nil)

	first := wireproto.Status{SenderWallTS: 2000.0, ChunkNo: 5000, Config: testConfig()}
	r.HandleDatagram(wireproto.BuildStatusDatagram(first))
	_, _ = q.Pop(context.Background())

	restarted := wireproto.Status{SenderWallTS: 2001.0, ChunkNo: 124, Config: testConfig()}
	r.HandleDatagram(wireproto.BuildStatusDatagram(restarted))

	assert.Equal(t, 0, q.Len(), "restart heuristic must not emit a spurious drop count")

	// The restart packet's chunk_no (124) must have become the new
	// baseline: a later status comparing against it should see loss
	// computed from 124, not from the pre-restart counter (5000).
	// (1624 is past the restart threshold of 1500, so loss is computed.)
	dropped, restarted := q.UpdateLoss(1624)
	assert.False(t, restarted)
	assert.Equal(t, int64(1500), dropped)
}

func TestHandleStatusConfigChangeEnqueuesOnce(t *testing.T) {
	q := chunkqueue.New()
	r := New(q, fixedClock{t: 2000.0}, nil)

	cfg := testConfig()
	r.HandleDatagram(wireproto.BuildStatusDatagram(wireproto.Status{SenderWallTS: 2000.0, ChunkNo: 1, Config: cfg}))
	_, _ = q.Pop(context.Background())

	// Same config again: must not re-enqueue. Chunk numbers stay below the
	// restart threshold so no Drops entry is queued either.
	r.HandleDatagram(wireproto.BuildStatusDatagram(wireproto.Status{SenderWallTS: 2000.1, ChunkNo: 125, Config: cfg}))
	assert.Equal(t, 0, q.Len())

	changed := cfg
	changed.Rate = 48000
	r.HandleDatagram(wireproto.BuildStatusDatagram(wireproto.Status{SenderWallTS: 2000.2, ChunkNo: 249, Config: changed}))

	entry, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindConfig, entry.Kind)
	assert.Equal(t, 48000, entry.Config.Rate)
}

func TestIsMulticastRange(t *testing.T) {
	cases := map[string]bool{
		"224.0.0.57":       true,
		"239.1.1.1":        true,
		"192.168.1.1":      false,
		"223.255.255.255":  false,
		"240.0.0.1":        false,
	}
	for ip, want := range cases {
		parsed := net.ParseIP(ip)
		require.NotNil(t, parsed)
		assert.Equal(t, want, isMulticast(parsed), ip)
	}
}

package wireproto

import (
	"testing"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	for _, h := range []Header{HeaderRawAudio, HeaderCompressedAudio, HeaderStatus} {
		dgram := h.appendTo(nil)
		parsed, ok := ParseHeader(dgram)
		require.True(t, ok)
		assert.Equal(t, h, parsed)
	}
}

func TestHeaderValues(t *testing.T) {
	assert.Equal(t, Header(0x0000), HeaderRawAudio)
	assert.Equal(t, Header(0x8000), HeaderCompressedAudio)
	assert.Equal(t, Header(0x4000), HeaderStatus)
}

func TestAudioDatagramRoundTrip(t *testing.T) {
	_, mark := timemark.Encode(1000.0, 1.0)
	payload := []byte{0x01, 0x02, 0x11, 0x12}

	dgram := BuildAudioDatagram(HeaderRawAudio, mark, payload)
	header, ok := ParseHeader(dgram)
	require.True(t, ok)
	assert.Equal(t, HeaderRawAudio, header)

	gotMark, gotPayload, ok := ParseAudioDatagram(dgram[HeaderSize:])
	require.True(t, ok)
	assert.Equal(t, mark, gotMark)
	assert.Equal(t, payload, gotPayload)
}

func TestStatusDatagramRoundTrip(t *testing.T) {
	s := Status{
		SenderWallTS: 1700000000.5,
		ChunkNo:      124,
		Config: audioconfig.Config{
			Rate: 44100, SampleBits: 16, Channels: 2,
			ChunkSizeBytes: 1000, LatencyMs: 1000,
		},
	}

	dgram := BuildStatusDatagram(s)
	require.Len(t, dgram, HeaderSize+StatusBodySize)

	header, ok := ParseHeader(dgram)
	require.True(t, ok)
	assert.Equal(t, HeaderStatus, header)

	got, err := ParseStatusDatagram(dgram[HeaderSize:])
	require.NoError(t, err)
	assert.InDelta(t, s.SenderWallTS, got.SenderWallTS, 1e-6)
	assert.Equal(t, s.ChunkNo, got.ChunkNo)
	assert.Equal(t, s.Config, got.Config)
}

func TestParseStatusTooShort(t *testing.T) {
	_, err := ParseStatusDatagram([]byte{0x01, 0x02})
	assert.Error(t, err)
}

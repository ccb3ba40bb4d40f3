package audiosink

import (
	"testing"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() audioconfig.Config {
	c := audioconfig.Config{Rate: 44100, SampleBits: 16, Channels: 2, LatencyMs: 1000}
	return c.WithChunkSize(1000)
}

func TestOpenTestModeComputesSizesWithoutHardware(t *testing.T) {
	s := New()
	err := s.Open(testConfig(), -1, 8192)
	require.NoError(t, err)

	avail, err := s.GetWriteAvailable()
	require.NoError(t, err)
	assert.Equal(t, 8192, avail)
}

func TestWriteTestModeReportsFullWrite(t *testing.T) {
	s := New()
	require.NoError(t, s.Open(testConfig(), -1, 8192))

	payload := make([]byte, 400)
	n, err := s.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
}

func TestCloseTestModeIsNoop(t *testing.T) {
	s := New()
	require.NoError(t, s.Open(testConfig(), -1, 8192))
	assert.NoError(t, s.Close())
}

func TestOpenRejectsZeroFrameSize(t *testing.T) {
	s := New()
	err := s.Open(audioconfig.Config{}, -1, 8192)
	assert.Error(t, err)
}

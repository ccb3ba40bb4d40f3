package packetizer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	"github.com/blaa/wavesync-go/internal/samplereader"
	"github.com/blaa/wavesync-go/internal/wireproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	entries []samplereader.Entry
	idx     int
	decs    int
}

func (f *fakeSource) Pop(ctx context.Context) (samplereader.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.entries) {
		return samplereader.Entry{}, false
	}
	e := f.entries[f.idx]
	f.idx++
	return e, true
}

func (f *fakeSource) DecrementPayloadSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decs++
	return 996
}

type fixedClock struct{ t float64 }

func (c fixedClock) Now() float64 { return c.t }

func testConfig() audioconfig.Config {
	c := audioconfig.Config{Rate: 44100, SampleBits: 16, Channels: 2, LatencyMs: 1000}
	return c.WithChunkSize(1000)
}

func TestRunSendsAudioDatagrams(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	dest := listener.LocalAddr().(*net.UDPAddr)

	source := &fakeSource{entries: []samplereader.Entry{
		{StreamTime: 1000.0, Chunk: []byte{0x01, 0x02, 0x11, 0x12}},
		{StreamTime: 1001.0, Chunk: []byte{0x03, 0x04, 0x21, 0x22}},
	}}

	p := New(source, nil, testConfig(), Options{
		Destinations: []*net.UDPAddr{dest},
	}, fixedClock{t: 1000.0}, nil)

	require.NoError(t, p.Open())
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	buf := make([]byte, 2048)
	for i := 0; i < 2; i++ {
		require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := listener.ReadFromUDP(buf)
		require.NoError(t, err)

		header, ok := wireproto.ParseHeader(buf[:n])
		require.True(t, ok)
		assert.Equal(t, wireproto.HeaderRawAudio, header)

		_, payload, ok := wireproto.ParseAudioDatagram(buf[wireproto.HeaderSize:n])
		require.True(t, ok)
		assert.Equal(t, source.entries[i].Chunk, payload)
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after source was exhausted")
	}
}

func TestRunMirrorsToLocalQueue(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	dest := listener.LocalAddr().(*net.UDPAddr)
	source := &fakeSource{entries: []samplereader.Entry{
		{StreamTime: 1000.0, Chunk: []byte{0xAA, 0xBB, 0xCC, 0xDD}},
	}}

	local := chunkqueue.New()
	p := New(source, local, testConfig(), Options{Destinations: []*net.UDPAddr{dest}}, fixedClock{t: 1000.0}, nil)
	require.NoError(t, p.Open())
	defer p.Close()

	err = p.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cfgEntry, ok := local.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindConfig, cfgEntry.Kind)
	assert.Equal(t, testConfig(), cfgEntry.Config)

	audioEntry, ok := local.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, chunkqueue.KindAudio, audioEntry.Kind)
	assert.Equal(t, source.entries[0].Chunk, audioEntry.Payload)
}

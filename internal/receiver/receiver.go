// Package receiver implements the receiver-side datagram demultiplexer
// from spec.md section 4: it classifies incoming UDP datagrams by
// header, decodes audio and STATUS payloads, tracks network latency and
// loss, and feeds a chunkqueue.Queue for the player to consume.
//
// Grounded on receiver.py: multicast group joining keyed off the first
// octet of the channel address, the sender-restart heuristic
// (sender_chunk_no < 1500 resets loss accounting instead of reporting a
// huge negative/positive drop count), the loss computation from the
// delta between consecutive STATUS packets, and COMPRESSED_AUDIO
// zlib-inflate-or-drop handling.
package receiver

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	waveerrors "github.com/blaa/wavesync-go/internal/errors"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/blaa/wavesync-go/internal/wireproto"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/ipv4"
)

// clockSource is the wall-clock dependency, satisfied by
// internal/clock.Source.
type clockSource interface {
	Now() float64
}

// Stats are the receiver's running counters, read with Snapshot.
type Stats struct {
	NetworkLatency float64
	Drops          uint64
}

// Receiver owns one UDP socket and demultiplexes datagrams into queue.
type Receiver struct {
	queue  *chunkqueue.Queue
	clock  clockSource
	logger *slog.Logger

	mu              sync.Mutex
	currentAudioCfg *audioconfig.Config
	networkLatency  float64
	networkDrops    uint64
	stopped         atomic.Bool
}

// New returns a Receiver writing into queue.
func New(queue *chunkqueue.Queue, clk clockSource, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		queue:  queue,
		clock:  clk,
		logger: logger.With("component", "receiver"),
	}
}

// Snapshot returns a copy of the current stats.
func (r *Receiver) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{NetworkLatency: r.networkLatency, Drops: r.networkDrops}
}

// Stop records a stop request. HandleDatagram does not consult it;
// reception ends when the caller closes the connection returned by
// Listen.
func (r *Receiver) Stop() {
	r.stopped.Store(true)
}

// Listen opens a UDP socket bound to channel ("host:port") and, if the
// host's first octet is in [224, 239], joins it as a multicast group.
func (r *Receiver) Listen(channel string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", channel)
	if err != nil {
		return nil, waveerrors.New(err).
			Component("receiver").
			Category(waveerrors.CategoryNetwork).
			Context("channel", channel).
			Build()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: addr.Port})
	if err != nil {
		return nil, waveerrors.New(err).
			Component("receiver").
			Category(waveerrors.CategoryNetwork).
			Context("channel", channel).
			Build()
	}

	r.queue.InitQueue()

	if isMulticast(addr.IP) {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: addr.IP}); err != nil {
			r.logger.Warn("failed to join multicast group", "group", addr.IP.String(), "error", err)
		} else {
			r.logger.Info("joined multicast group", "group", addr.IP.String())
		}
	} else {
		r.logger.Info("assuming unicast reception", "channel", channel)
	}

	return conn, nil
}

// HandleDatagram classifies and processes one received datagram. It is
// the Go analogue of receiver.py's datagram_received.
func (r *Receiver) HandleDatagram(data []byte) {
	header, ok := wireproto.ParseHeader(data)
	if !ok {
		r.logger.Warn("datagram shorter than header", "length", len(data))
		return
	}

	switch header {
	case wireproto.HeaderStatus:
		r.handleStatus(data[wireproto.HeaderSize:])
		return
	case wireproto.HeaderRawAudio, wireproto.HeaderCompressedAudio:
		r.handleAudio(header, data[wireproto.HeaderSize:])
	default:
		r.logger.Warn("invalid datagram header", "header", uint16(header))
	}
}

func (r *Receiver) handleAudio(header wireproto.Header, body []byte) {
	if r.queue.ShouldIgnoreAudio() {
		return
	}

	mark, payload, ok := wireproto.ParseAudioDatagram(body)
	if !ok {
		r.logger.Warn("audio datagram shorter than mark", "length", len(body))
		return
	}

	if header == wireproto.HeaderCompressedAudio {
		inflated, err := inflate(payload)
		if err != nil {
			r.logger.Warn("invalid compressed payload, dropping", "error", err)
			return
		}
		payload = inflated
	}

	absolute := timemark.Decode(mark, r.clock.Now())
	r.queue.PushAudio(absolute, payload)
}

func (r *Receiver) handleStatus(body []byte) {
	status, err := wireproto.ParseStatusDatagram(body)
	if err != nil {
		r.logger.Warn("malformed status datagram", "error", err)
		return
	}

	now := r.clock.Now()

	r.mu.Lock()
	r.networkLatency = now - status.SenderWallTS

	if r.currentAudioCfg == nil || !r.currentAudioCfg.Equal(status.Config) {
		cfg := status.Config
		r.currentAudioCfg = &cfg
		r.queue.PushConfig(cfg)
	}
	r.mu.Unlock()

	dropped, restarted := r.queue.UpdateLoss(status.ChunkNo)
	if restarted {
		return
	}

	switch {
	case dropped < 0:
		r.logger.Warn("received more packets than sender reports sending; "+
			"likely receiving duplicate or multiple streams",
			"sender_chunk_no", status.ChunkNo)
	case dropped > 0:
		r.mu.Lock()
		r.networkDrops += uint64(dropped)
		r.mu.Unlock()
		r.queue.PushDrops(int(dropped))
	}
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// isMulticast reports whether ip's first octet falls in [224, 239], the
// same test receiver.py applies to the channel's group address.
func isMulticast(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] >= 224 && v4[0] <= 239
}

// Package packetizer implements the transmitter's pacing loop from
// spec.md section 4: it drains chunked samples, stamps each with a time
// mark, optionally compresses it, and sends it to every configured
// destination over UDP, backing off the payload size on EMSGSIZE and
// broadcasting a STATUS datagram periodically.
//
// Grounded on packetizer.py: the socket setup (multicast TTL/loopback,
// broadcast, Don't-Fragment), the input-stream skew handling
// (wait/warn thresholds), the compress-then-compare-length strategy,
// the every-124-chunks STATUS cadence, and the periodic throughput
// status line.
package packetizer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	waveerrors "github.com/blaa/wavesync-go/internal/errors"
	"github.com/blaa/wavesync-go/internal/samplereader"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/blaa/wavesync-go/internal/wireproto"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// statusInterval is the number of audio chunks between STATUS
// broadcasts: ~1s at the default chunk size, per packetizer.py.
const statusInterval = 124

// throughputLogInterval is the number of chunks between throughput log
// lines.
const throughputLogInterval = 100

// ChunkSource is the dependency packetizer needs from
// internal/samplereader, narrowed to what it actually calls so it can be
// faked in tests.
type ChunkSource interface {
	Pop(ctx context.Context) (samplereader.Entry, bool)
	DecrementPayloadSize() int
}

// Options configures socket behavior and pacing.
type Options struct {
	Destinations  []*net.UDPAddr
	TTL           int
	MulticastLoop bool
	Broadcast     bool
	CompressLevel int // 0 disables compression, 1-9 enables it
}

// Packetizer drains a ChunkSource and sends datagrams to every
// destination, optionally mirroring every chunk into a local
// chunkqueue.Queue for local playback.
type Packetizer struct {
	reader  ChunkSource
	local   *chunkqueue.Queue
	config  audioconfig.Config
	opts    Options
	logger  *slog.Logger
	clock   clockSource
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	stopped atomic.Bool
}

// clockSource is the minimal wall-clock dependency packetizer needs;
// satisfied by internal/clock.Source.
type clockSource interface {
	Now() float64
}

// New returns a Packetizer. Call Open before Run.
func New(reader ChunkSource, local *chunkqueue.Queue, config audioconfig.Config, opts Options, clk clockSource, logger *slog.Logger) *Packetizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packetizer{
		reader: reader,
		local:  local,
		config: config,
		opts:   opts,
		clock:  clk,
		logger: logger.With("component", "packetizer"),
	}
}

// Open creates and configures the UDP socket: multicast TTL/loopback via
// golang.org/x/net/ipv4, SO_BROADCAST and IP_MTU_DISCOVER/PMTUDISC_DO via
// golang.org/x/sys/unix (the latter is Linux-specific and best-effort).
func (p *Packetizer) Open() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return waveerrors.New(err).
			Component("packetizer").
			Category(waveerrors.CategoryNetwork).
			Context("operation", "listen_udp").
			Build()
	}

	pconn := ipv4.NewPacketConn(conn)
	if p.opts.TTL > 0 {
		if err := pconn.SetMulticastTTL(p.opts.TTL); err != nil {
			p.logger.Warn("failed to set multicast TTL", "error", err)
		}
	}
	if p.opts.MulticastLoop {
		if err := pconn.SetMulticastLoopback(true); err != nil {
			p.logger.Warn("failed to enable multicast loopback", "error", err)
		}
	}

	if p.opts.Broadcast {
		if err := setBroadcast(conn); err != nil {
			p.logger.Warn("failed to enable SO_BROADCAST", "error", err)
		}
	}
	if err := setDontFragment(conn); err != nil {
		p.logger.Debug("failed to set IP_MTU_DISCOVER/PMTUDISC_DO", "error", err)
	}

	p.conn = conn
	p.pconn = pconn
	return nil
}

// Close releases the socket.
func (p *Packetizer) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Stop requests the pacing loop exit at its next suspension point.
func (p *Packetizer) Stop() {
	p.stopped.Store(true)
}

// Run drains the chunk source and sends datagrams until ctx is done or
// Stop is called. It mirrors packetizer.py's packetize() coroutine.
func (p *Packetizer) Run(ctx context.Context) error {
	if p.local != nil {
		p.local.PushConfig(p.config)
	}

	start := time.Now()
	recentStart := start

	var chunkNo uint32
	var statPkts, bytesSent, bytesRaw, recentBytes uint64
	var cancelledCompressions uint64
	var recent uint64

	for !p.stopped.Load() {
		if ctx.Err() != nil {
			return nil
		}

		entry, ok := p.reader.Pop(ctx)
		if !ok {
			return nil
		}

		now := p.clock.Now()
		diff := entry.StreamTime - now
		switch {
		case diff > 0.5:
			p.logger.Debug("waiting to synchronize input stream", "diff_seconds", diff)
			select {
			case <-time.After(400 * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
		case diff < -5:
			p.logger.Warn("input stream is lagging", "diff_seconds", diff)
		}

		futureTS, mark := timemark.Encode(entry.StreamTime, p.config.LatencySeconds())

		if p.local != nil {
			p.local.PushAudio(futureTS, entry.Chunk)
		}

		header := wireproto.HeaderRawAudio
		payload := entry.Chunk
		chunkLen := len(entry.Chunk)

		if p.opts.CompressLevel > 0 {
			compressed, err := compress(entry.Chunk, p.opts.CompressLevel)
			if err == nil && len(compressed) < chunkLen {
				header = wireproto.HeaderCompressedAudio
				payload = compressed
			} else {
				cancelledCompressions++
			}
		}

		dgram := wireproto.BuildAudioDatagram(header, mark, payload)
		chunkNo++
		recent++

		for _, dest := range p.opts.Destinations {
			n, err := p.conn.WriteToUDP(dgram, dest)
			if err != nil {
				if errors.Is(err, syscall.EMSGSIZE) {
					newSize := p.reader.DecrementPayloadSize()
					p.logger.Warn("UDP datagram too big for network MTU; backing off",
						"datagram_size", len(dgram), "new_payload_size", newSize)
					break
				}
				p.logger.Warn("send failed", "destination", dest.String(), "error", err)
				continue
			}
			statPkts++
			bytesSent += uint64(n)
			recentBytes += uint64(n)
			bytesRaw += uint64(chunkLen) + uint64(samplereader.HeaderOverhead)
		}

		if chunkNo%statusInterval == 0 {
			p.sendStatus(chunkNo)
		}

		if recent >= throughputLogInterval {
			nowWall := time.Now()
			tookTotal := nowWall.Sub(start).Seconds()
			tookRecent := nowWall.Sub(recentStart).Seconds()

			fields := []any{
				"destinations", len(p.opts.Destinations),
				"packets", statPkts,
				"kb_total", float64(bytesSent) / 1024,
				"seconds_total", tookTotal,
				"kbps_avg", float64(bytesSent) / tookTotal / 1024,
				"kbps_current", float64(recentBytes) / tookRecent / 1024,
			}
			if p.opts.CompressLevel > 0 && bytesRaw > 0 {
				fields = append(fields,
					"compress_ratio", float64(bytesSent)/float64(bytesRaw),
					"cancelled_compressions", cancelledCompressions)
			}
			p.logger.Info("packetizer throughput", fields...)

			recentStart = nowWall
			recentBytes = 0
			recent = 0
		}
	}

	p.logger.Info("packetizer stopped")
	return nil
}

func (p *Packetizer) sendStatus(chunkNo uint32) {
	status := wireproto.Status{
		SenderWallTS: p.clock.Now(),
		ChunkNo:      chunkNo,
		Config:       p.config,
	}
	dgram := wireproto.BuildStatusDatagram(status)
	for _, dest := range p.opts.Destinations {
		if _, err := p.conn.WriteToUDP(dgram, dest); err != nil {
			p.logger.Warn("failed to send status datagram", "destination", dest.String(), "error", err)
		}
	}
}

func compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func setDontFragment(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	})
	if err != nil {
		return err
	}
	return sockErr
}

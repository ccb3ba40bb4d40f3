// Package config defines WaveSync's runtime Settings and binds them to
// command-line flags, grounded on cli_args.py's argument groups
// (sender/receiver/common/actions) and on the teacher's
// cobra+viper+pflag wiring in cmd/root.go and cmd/realtime/realtime.go.
package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/timemark"
	"github.com/blaa/wavesync-go/internal/wireproto"
)

// DefaultChannel is used when no --channel flag is given, matching
// cli_args.py's fallback multicast group.
const DefaultChannel = wireproto.DefaultChannel

// Mode selects which pipeline main.go wires up.
type Mode int

const (
	ModeUnset Mode = iota
	ModeTX
	ModeRX
)

// TXSettings groups the sender-only flags (cli_args.py's args_sender).
type TXSettings struct {
	Input         string // unix socket path given to --tx
	LocalPlay     bool
	PayloadSize   int
	TTL           int
	CompressLevel int // 0 disables compression
	MulticastLoop bool
	Broadcast     bool
	Rate          int
	Sample24Bit   bool
	Channels      int
}

// RXSettings groups the receiver-only flags (cli_args.py's
// args_receiver).
type RXSettings struct {
	ToleranceMs      int
	SinkLatencyMs    int
	BufferSizeFrames int
	DeviceIndex      int
}

// Settings is the fully parsed, validated configuration for one run of
// the wavesync binary.
type Settings struct {
	Debug     bool
	Mode      Mode
	LatencyMs int
	Channels  []string // "IP:PORT" entries from one or more --channel flags

	TX TXSettings
	RX RXSettings
}

// New returns Settings with the same defaults cli_args.py assigns.
func New() *Settings {
	return &Settings{
		LatencyMs: 1000,
		TX: TXSettings{
			PayloadSize:   1472,
			TTL:           2,
			MulticastLoop: true,
			Rate:          44100,
			Channels:      2,
		},
		RX: RXSettings{
			ToleranceMs:      15,
			BufferSizeFrames: 8192,
		},
	}
}

// SampleBits returns 24 or 16 depending on the --24bits flag.
func (s *TXSettings) SampleBits() int {
	if s.Sample24Bit {
		return 24
	}
	return 16
}

// AudioConfig builds the AudioConfig the sender announces, deriving
// ChunkSizeBytes from the payload size minus the wire header and time
// mark overhead (the same subtraction samplereader.HeaderOverhead
// performs; config sits below samplereader in the dependency graph so
// the two constants are computed from the same underlying parts rather
// than shared directly).
func (s *Settings) AudioConfig() audioconfig.Config {
	const headerOverhead = wireproto.HeaderSize + timemark.Size
	cfg := audioconfig.Config{
		Rate:          s.TX.Rate,
		SampleBits:    s.TX.SampleBits(),
		Channels:      s.TX.Channels,
		LatencyMs:     s.LatencyMs,
		SinkLatencyMs: s.RX.SinkLatencyMs,
	}
	return cfg.WithChunkSize(s.TX.PayloadSize - headerOverhead)
}

// Channel returns the single "ADDRESS:PORT" channel a receiver listens
// on: the sole --channel entry if given, or DefaultChannel otherwise.
// Validate rejects more than one --channel in RX mode, so this is safe
// to call unconditionally once validation has passed.
func (s *Settings) Channel() string {
	if len(s.Channels) == 0 {
		return DefaultChannel
	}
	return s.Channels[0]
}

// ChannelAddrs resolves every --channel entry (or the default) to a
// *net.UDPAddr.
func (s *Settings) ChannelAddrs() ([]*net.UDPAddr, error) {
	channels := s.Channels
	if len(channels) == 0 {
		channels = []string{DefaultChannel}
	}
	addrs := make([]*net.UDPAddr, 0, len(channels))
	for _, ch := range channels {
		addr, err := net.ResolveUDPAddr("udp4", ch)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// splitChannel parses "ADDRESS:PORT" the way cli_args.py's parse() does,
// used by validation to give a precise error message rather than
// net.ResolveUDPAddr's generic one.
func splitChannel(raw string) (host string, port int, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return "", 0, errInvalidChannel(raw)
	}
	port, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, errInvalidChannel(raw)
	}
	return parts[0], port, nil
}

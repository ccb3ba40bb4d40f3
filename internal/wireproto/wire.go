// Package wireproto implements the UDP datagram framing described in
// spec.md section 6: a 2-byte big-endian header followed by a body whose
// layout depends on the header value.
package wireproto

import (
	"encoding/binary"
	"math"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/errors"
	"github.com/blaa/wavesync-go/internal/timemark"
)

// Header identifies the kind of datagram.
type Header uint16

const (
	HeaderRawAudio        Header = 0x0000
	HeaderCompressedAudio Header = 0x8000
	HeaderStatus          Header = 0x4000
)

// HeaderSize is the size in bytes of the datagram header.
const HeaderSize = 2

// StatusBodySize is the size in bytes of the STATUS payload, per spec.md
// section 6: double + uint32 + uint16 + uint8 + uint8 + uint16 + uint16.
const StatusBodySize = 8 + 4 + 2 + 1 + 1 + 2 + 2

// DefaultChannel is the default multicast group:port WaveSync uses when
// no --channel is given (spec.md section 6).
const DefaultChannel = "224.0.0.57:45300"

// ParseHeader reads the 2-byte header from the front of a datagram.
func ParseHeader(datagram []byte) (Header, bool) {
	if len(datagram) < HeaderSize {
		return 0, false
	}
	return Header(binary.BigEndian.Uint16(datagram[:HeaderSize])), true
}

// appendTo appends h to dst as two big-endian bytes and returns the
// extended slice.
func (h Header) appendTo(dst []byte) []byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[:], uint16(h))
	return append(dst, buf[:]...)
}

// BuildAudioDatagram assembles a RAW_AUDIO or COMPRESSED_AUDIO datagram:
// header || mark || payload.
func BuildAudioDatagram(header Header, mark timemark.Mark, payload []byte) []byte {
	dgram := make([]byte, 0, HeaderSize+timemark.Size+len(payload))
	dgram = header.appendTo(dgram)
	markBytes := mark.Bytes()
	dgram = append(dgram, markBytes[:]...)
	dgram = append(dgram, payload...)
	return dgram
}

// ParseAudioDatagram splits a RAW_AUDIO/COMPRESSED_AUDIO body (everything
// after the header) into its mark and payload.
func ParseAudioDatagram(body []byte) (timemark.Mark, []byte, bool) {
	mark, ok := timemark.Parse(body)
	if !ok {
		return 0, nil, false
	}
	return mark, body[timemark.Size:], true
}

// Status is the periodic broadcast described in spec.md section 4.3: the
// sender's view of its own clock, its audio sequence counter, and its
// current AudioConfig, so receivers can detect loss and reconfigure.
type Status struct {
	SenderWallTS float64
	ChunkNo      uint32
	Config       audioconfig.Config
}

// BuildStatusDatagram packs a Status into its wire form: header || double
// sender_wall_ts || uint32 chunk_no || uint16 rate || uint8 sample_bits ||
// uint8 channels || uint16 chunk_size || uint16 latency_ms, all
// little-endian per spec.md section 6 (only the 2-byte header is
// big-endian -- the body packing matches the original struct format
// string "dIHBBHH").
func BuildStatusDatagram(s Status) []byte {
	dgram := make([]byte, 0, HeaderSize+StatusBodySize)
	dgram = HeaderStatus.appendTo(dgram)

	var body [StatusBodySize]byte
	binary.LittleEndian.PutUint64(body[0:8], math.Float64bits(s.SenderWallTS))
	binary.LittleEndian.PutUint32(body[8:12], s.ChunkNo)
	binary.LittleEndian.PutUint16(body[12:14], uint16(s.Config.Rate))
	body[14] = byte(s.Config.SampleBits)
	body[15] = byte(s.Config.Channels)
	binary.LittleEndian.PutUint16(body[16:18], uint16(s.Config.ChunkSizeBytes))
	binary.LittleEndian.PutUint16(body[18:20], uint16(s.Config.LatencyMs))

	return append(dgram, body[:]...)
}

// ParseStatusDatagram decodes a STATUS body (everything after the
// header).
func ParseStatusDatagram(body []byte) (Status, error) {
	if len(body) < StatusBodySize {
		return Status{}, errors.Newf("status body too short: got %d want %d", len(body), StatusBodySize).
			Component("wireproto").
			Category(errors.CategoryWire).
			Context("length", len(body)).
			Build()
	}

	var s Status
	s.SenderWallTS = math.Float64frombits(binary.LittleEndian.Uint64(body[0:8]))
	s.ChunkNo = binary.LittleEndian.Uint32(body[8:12])
	s.Config.Rate = int(binary.LittleEndian.Uint16(body[12:14]))
	s.Config.SampleBits = int(body[14])
	s.Config.Channels = int(body[15])
	s.Config.ChunkSizeBytes = int(binary.LittleEndian.Uint16(body[16:18]))
	s.Config.LatencyMs = int(binary.LittleEndian.Uint16(body[18:20]))

	return s, nil
}

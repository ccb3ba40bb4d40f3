package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/blaa/wavesync-go/internal/audiosink"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	"github.com/blaa/wavesync-go/internal/clock"
	"github.com/blaa/wavesync-go/internal/config"
	"github.com/blaa/wavesync-go/internal/packetizer"
	"github.com/blaa/wavesync-go/internal/player"
	"github.com/blaa/wavesync-go/internal/samplereader"
)

// runTX wires the sender pipeline: a unix-socket audio source feeds a
// samplereader.Reader, which a packetizer.Packetizer drains onto the
// network (and, if --local-play, mirrors into a local ChunkPlayer).
// Mirrors cli.py's start_tx.
func runTX(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	clk := clock.System{}
	audioCfg := settings.AudioConfig()

	destinations, err := settings.ChannelAddrs()
	if err != nil {
		return err
	}

	reader := samplereader.New(clk, audioCfg, logger)
	reader.SetPayloadSize(settings.TX.PayloadSize)

	var local *chunkqueue.Queue
	var sink *audiosink.Sink
	var p *player.Player
	if settings.TX.LocalPlay {
		local = chunkqueue.New()
		sink = audiosink.New()
		p = player.New(local, sink, nil, settings.RX.ToleranceMs, settings.RX.BufferSizeFrames,
			settings.RX.DeviceIndex, clk, logger)
	}

	pk := packetizer.New(reader, local, audioCfg, packetizer.Options{
		Destinations:  destinations,
		TTL:           settings.TX.TTL,
		MulticastLoop: settings.TX.MulticastLoop,
		Broadcast:     settings.TX.Broadcast,
		CompressLevel: settings.TX.CompressLevel,
	}, clk, logger)

	if err := pk.Open(); err != nil {
		return err
	}
	defer pk.Close()

	conn, err := net.Dial("unix", settings.TX.Input)
	if err != nil {
		return err
	}
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		pk.Stop()
		_ = conn.Close()
		return nil
	})

	g.Go(func() error {
		return pumpUnixSocket(conn, reader)
	})

	g.Go(func() error {
		return pk.Run(gctx)
	})

	if p != nil {
		// p.Run opens sink itself once it pops the Config entry
		// pk.Run pushes onto local; no manual sink.Open here.
		defer sink.Close()
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	return g.Wait()
}

// pumpUnixSocket copies raw PCM bytes from conn into reader until conn
// closes or read fails, mirroring cli.py's
// loop.create_unix_connection(lambda: sample_reader, args.tx).
func pumpUnixSocket(conn net.Conn, reader *samplereader.Reader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if writeErr := reader.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

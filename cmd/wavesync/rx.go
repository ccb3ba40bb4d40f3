package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blaa/wavesync-go/internal/audiosink"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	"github.com/blaa/wavesync-go/internal/clock"
	"github.com/blaa/wavesync-go/internal/config"
	"github.com/blaa/wavesync-go/internal/player"
	"github.com/blaa/wavesync-go/internal/receiver"
	"github.com/blaa/wavesync-go/internal/stats"
)

// runRX wires the receiver pipeline: a receiver.Receiver demultiplexes
// incoming datagrams into a chunkqueue.Queue, a player.Player drains it
// onto an audiosink.Sink, and, when WAVESYNC_MQTT_BROKER is set, an
// internal/stats.Reporter observes both.
// Mirrors cli.py's start_rx.
func runRX(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	clk := clock.System{}
	queue := chunkqueue.New()

	rcv := receiver.New(queue, clk, logger)
	conn, err := rcv.Listen(settings.Channel())
	if err != nil {
		return err
	}
	defer conn.Close()

	sink := audiosink.New()
	defer sink.Close()

	p := player.New(queue, sink, rcv, settings.RX.ToleranceMs, settings.RX.BufferSizeFrames,
		settings.RX.DeviceIndex, clk, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		rcv.Stop()
		_ = conn.Close()
		return nil
	})

	g.Go(func() error {
		return pumpDatagrams(conn, rcv)
	})

	g.Go(func() error {
		return p.Run(gctx)
	})

	if broker := os.Getenv("WAVESYNC_MQTT_BROKER"); broker != "" {
		reporter, err := newStatsReporter(broker, p, rcv, logger)
		if err != nil {
			logger.Warn("stats reporting disabled", "error", err)
		} else {
			g.Go(func() error {
				return reporter.Run(gctx)
			})
		}
	}

	return g.Wait()
}

// pumpDatagrams reads datagrams off conn and hands each to rcv until
// conn closes, mirroring receiver.py's datagram_received being invoked
// by asyncio's transport for every incoming packet.
func pumpDatagrams(conn interface {
	Read(b []byte) (int, error)
}, rcv *receiver.Receiver) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			rcv.HandleDatagram(buf[:n])
		}
		if err != nil {
			return nil
		}
	}
}

// receiverPlayerSource adapts player.Player and receiver.Receiver into
// the stats.Source interface without either package importing
// internal/stats.
type receiverPlayerSource struct {
	player   *player.Player
	receiver *receiver.Receiver
}

func (s receiverPlayerSource) Snapshot() stats.Snapshot {
	ps := s.player.Stats()
	rs := s.receiver.Snapshot()
	return stats.Snapshot{
		ChunksPlayed:   ps.ChunksPlayed,
		TimeDrops:      ps.TimeDrops,
		OutputDelays:   ps.OutputDelays,
		NetworkDrops:   rs.Drops,
		QueueLength:    ps.QueueLen,
		NetworkLatency: rs.NetworkLatency,
		AverageDelay:   ps.AverageDelay,
	}
}

// newStatsReporter builds the optional metrics+MQTT fan-out. The MQTT
// broker address has no cli_args.py / CLI-flag equivalent -- it is a
// SPEC_FULL.md-only ambient addition, so it is read from an environment
// variable rather than a flag (see DESIGN.md).
func newStatsReporter(broker string, p *player.Player, rcv *receiver.Receiver, logger *slog.Logger) (*stats.Reporter, error) {
	metrics, err := stats.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	publisher := stats.NewPublisher(stats.MQTTConfig{
		Broker: broker,
		Topic:  "wavesync/stats",
	})
	if err := publisher.Connect(context.Background()); err != nil {
		return nil, err
	}

	source := receiverPlayerSource{player: p, receiver: rcv}
	return stats.NewReporter(source, metrics, publisher, 0, logger), nil
}

package stats

import (
	"context"
	"log/slog"
	"time"
)

// Source is whatever can produce a Snapshot. In cmd/wavesync it is an
// adapter that combines internal/player.Player.Stats with
// internal/receiver.Receiver.Snapshot.
type Source interface {
	Snapshot() Snapshot
}

// Reporter periodically pulls a Snapshot from Source and fans it out to
// the prometheus Metrics and, if configured, an MQTT Publisher. This is
// the Go analogue of stats.py's Stats class, split so the prometheus/
// MQTT fan-out is independent of the player's own human-readable STAT
// line (player.go logs that directly via slog on its own ~200-chunk
// cadence).
type Reporter struct {
	source    Source
	metrics   *Metrics
	publisher *Publisher
	interval  time.Duration
	logger    *slog.Logger
}

// NewReporter returns a Reporter. metrics and publisher may be nil to
// disable that sink.
func NewReporter(source Source, metrics *Metrics, publisher *Publisher, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{
		source:    source,
		metrics:   metrics,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "stats"),
	}
}

// Run polls Source every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var prev Snapshot
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := r.source.Snapshot()
			r.metrics.Update(prev, cur)
			prev = cur

			if r.publisher != nil {
				if err := r.publisher.Publish(cur); err != nil {
					r.logger.Debug("failed to publish stats", "error", err)
				}
			}
		}
	}
}

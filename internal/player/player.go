// Package player implements the ChunkPlayer scheduler from spec.md
// section 4.5: it turns a queue of timestamped chunks into a continuous
// sample stream emitted through an AudioSink, reconciling wall-clock
// time, the sink's own buffering, and each chunk's future_ts.
//
// Grounded on chunk_player.py for the overall shape (clear_state,
// get_silent_chunk, the probabilistic-drop scheduling loop, the output-
// stuck backoff, the periodic stat line) with spec.md section 4.5 taken
// as authoritative wherever the two disagree: Drops(n<=200) take no
// action here (the RED-style drop in step 5 is trusted to resynchronize
// on its own), where chunk_player.py instead accumulates a
// silence_to_insert counter that SPEC_FULL.md's expansion does not
// carry forward.
package player

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/chunkqueue"
	"github.com/blaa/wavesync-go/internal/errors"
	"github.com/blaa/wavesync-go/internal/receiver"
)

// State is the ChunkPlayer's coarse playback state, tracked mainly for
// logging and stats; the actual control flow is driven by queue entries.
type State int

const (
	StateAwaitingConfig State = iota
	StateIdle
	StatePlaying
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// hugePacketLossThreshold is the drop count above which the player gives
// up on gradual resync and flushes the queue outright (spec.md section
// 4.5.1's Drops(n>200) transition).
const hugePacketLossThreshold = 200

// outputStuckRetries is the number of 1ms polls of sink buffer space
// before the player logs "output stuck" and backs off for a second,
// matching chunk_player.py's `times > 200` check.
const outputStuckRetries = 200

// Sink is the dependency internal/audiosink.Sink satisfies.
type Sink interface {
	Open(config audioconfig.Config, deviceIndex int, bufferSizeFrames int) error
	Write(data []byte) (int, error)
	GetWriteAvailable() (int, error)
	Close() error
}

// clockSource is the wall-clock/sleep dependency, satisfied by
// internal/clock.Source.
type clockSource interface {
	Now() float64
	Sleep(d time.Duration)
}

// NetworkStatsProvider lets the player fold the receiver's loss/latency
// counters into its own periodic status line, mirroring
// chunk_player.py's use of self.receiver.
type NetworkStatsProvider interface {
	Snapshot() receiver.Stats
}

// Stats is a snapshot of the player's running counters.
type Stats struct {
	State        State
	QueueLen     int
	TimeDrops    uint64
	OutputDelays uint64
	ChunksPlayed uint64
	AverageDelay float64
}

// Player is the ChunkPlayer scheduler.
type Player struct {
	queue            *chunkqueue.Queue
	sink             Sink
	network          NetworkStatsProvider
	toleranceS       float64
	midToleranceS    float64
	bufferSizeFrames int
	deviceIndex      int
	clock            clockSource
	logger           *slog.Logger
	rng              *rand.Rand

	mu           sync.Mutex
	state        State
	config       audioconfig.Config
	sinkOpen     bool
	maxDelay     float64
	chunkFrames  int
	silenceCache []byte

	statTimeDrops    uint64
	statOutputDelays uint64
	statTotalDelay   float64
	statCount        uint64
}

// New returns a Player in StateAwaitingConfig.
func New(queue *chunkqueue.Queue, sink Sink, network NetworkStatsProvider, toleranceMs int, bufferSizeFrames, deviceIndex int, clk clockSource, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	toleranceS := float64(toleranceMs) / 1000.0
	return &Player{
		queue:            queue,
		sink:             sink,
		network:          network,
		toleranceS:       toleranceS,
		midToleranceS:    toleranceS / 2,
		bufferSizeFrames: bufferSizeFrames,
		deviceIndex:      deviceIndex,
		clock:            clk,
		logger:           logger.With("component", "player"),
		rng:              rand.New(rand.NewSource(1)), //nolint:gosec // playback jitter, not security-sensitive
		state:            StateAwaitingConfig,
	}
}

// Stats returns a snapshot of the player's counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	avg := 0.0
	if p.statCount > 0 {
		avg = p.statTotalDelay / float64(p.statCount)
	}
	return Stats{
		State:        p.state,
		QueueLen:     p.queue.Len(),
		TimeDrops:    p.statTimeDrops,
		OutputDelays: p.statOutputDelays,
		ChunksPlayed: p.statCount,
		AverageDelay: avg,
	}
}

// Run drives the scheduler until ctx is done or the queue reports
// cancellation.
func (p *Player) Run(ctx context.Context) error {
	recentStart := time.Now()
	var recent int

	for {
		if ctx.Err() != nil {
			return nil
		}

		p.maybeFillSilence()

		entry, ok := p.queue.Pop(ctx)
		if !ok {
			return nil
		}

		switch entry.Kind {
		case chunkqueue.KindConfig:
			if err := p.applyConfig(entry.Config); err != nil {
				return err
			}

		case chunkqueue.KindDrops:
			if entry.DropCount > hugePacketLossThreshold {
				p.logger.Warn("recovering after huge packet loss", "dropped", entry.DropCount)
				p.resync()
			}
			// n <= hugePacketLossThreshold: no action, per spec.md 4.5.2 --
			// the probabilistic drop in playChunk resynchronizes gradually.

		case chunkqueue.KindAudio:
			p.mu.Lock()
			sinkOpen := p.sinkOpen
			p.mu.Unlock()
			if !sinkOpen {
				continue
			}

			played := p.playChunk(ctx, entry)
			recent++
			if played && recent > hugePacketLossThreshold {
				p.logStatusLine(recentStart, recent)
				recentStart = time.Now()
				recent = 0
			}
		}
	}
}

// applyConfig closes any open sink, opens a new one for the given
// configuration, and recomputes derived sizes. Mirrors chunk_player.py's
// clear_state + _open_stream, generalized: a sink-open failure is fatal
// per spec.md 4.5.4.
func (p *Player) applyConfig(config audioconfig.Config) error {
	p.mu.Lock()
	wasOpen := p.sinkOpen
	p.mu.Unlock()

	p.resync()

	if wasOpen {
		_ = p.sink.Close()
	}

	if err := p.sink.Open(config, p.deviceIndex, p.bufferSizeFrames); err != nil {
		p.logger.Error("fatal: failed to open audio sink", "error", err)
		return errors.New(err).
			Component("player").
			Category(errors.CategorySink).
			Priority(errors.PriorityCritical).
			Context("operation", "open_sink").
			Build()
	}

	p.mu.Lock()
	p.config = config
	p.sinkOpen = true
	p.chunkFrames = config.ChunkSizeBytes / config.FrameSize()
	p.silenceCache = make([]byte, config.ChunkSizeBytes)
	p.maxDelay = (2000 + float64(config.SinkLatencyMs) + float64(config.LatencyMs)) / 1000.0
	p.state = StateIdle
	p.mu.Unlock()

	p.logger.Info("opened audio sink", "rate", config.Rate, "channels", config.Channels,
		"max_delay_ms", p.maxDelay*1000)
	return nil
}

// resync discards every already-buffered queue entry except a pending
// Config, then arms the receive-side recovery window. Mirrors
// clear_state(): chunk_list.clear() (preserving CMD_CFG) followed by
// do_recovery().
func (p *Player) resync() {
	p.mu.Lock()
	p.state = StateResyncing
	p.mu.Unlock()

	p.queue.Clear()
	p.queue.DoRecovery()

	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
}

// playChunk runs one dequeued audio chunk through the scheduling
// algorithm in spec.md section 4.5.2. Returns true if the chunk was
// written to the sink (as opposed to dropped or having triggered a
// resync).
func (p *Player) playChunk(ctx context.Context, entry chunkqueue.Entry) bool {
	p.mu.Lock()
	sinkLatencyS := p.config.SinkLatencySeconds()
	maxDelay := p.maxDelay
	chunkFrames := p.chunkFrames
	p.mu.Unlock()

	p.mu.Lock()
	p.state = StatePlaying
	p.mu.Unlock()

	desired := entry.Mark - sinkLatencyS
	now := p.clock.Now()
	delay := desired - now

	p.mu.Lock()
	p.statTotalDelay += delay
	p.statCount++
	p.mu.Unlock()

	switch {
	case delay > maxDelay:
		p.logger.Warn("huge recovery: delay exceeds max_delay, resyncing",
			"delay_s", delay, "max_delay_s", maxDelay)
		p.resync()
		return false

	case delay < -p.midToleranceS:
		over := -delay - p.midToleranceS
		prob := over / p.midToleranceS
		if prob > 1 {
			prob = 1
		}
		if p.rng.Float64() < prob {
			p.mu.Lock()
			p.statTimeDrops++
			p.mu.Unlock()
			p.logger.Debug("dropping lagging chunk", "delay_ms", delay*1000, "probability", prob,
				"queue_len", p.queue.Len())
			return false
		}

	case delay > 0.001:
		toWait := delay - 0.001
		if toWait < 0.001 {
			toWait = 0.001
		}
		p.clock.Sleep(time.Duration(toWait * float64(time.Second)))
	}

	return p.writeWithBackoff(ctx, entry.Payload, chunkFrames)
}

// writeWithBackoff waits for enough sink buffer space to hold one
// chunk, logging and backing off if the sink stays full too long, then
// writes the chunk. Mirrors the `while True` buffer-wait loop in
// chunk_player.py.
func (p *Player) writeWithBackoff(ctx context.Context, payload []byte, chunkFrames int) bool {
	for attempts := 0; ; attempts++ {
		if ctx.Err() != nil {
			return false
		}

		available, err := p.sink.GetWriteAvailable()
		if err != nil {
			p.logger.Warn("sink write failed, resyncing", "error", err)
			p.resync()
			return false
		}

		if available < chunkFrames {
			p.mu.Lock()
			p.statOutputDelays++
			p.mu.Unlock()
			p.clock.Sleep(time.Millisecond)
			if attempts > outputStuckRetries {
				p.logger.Warn("output stuck")
				p.clock.Sleep(time.Second)
			}
			continue
		}

		if _, err := p.sink.Write(payload); err != nil {
			p.logger.Warn("sink write failed, resyncing", "error", err)
			p.resync()
			return false
		}
		return true
	}
}

// maybeFillSilence keeps the sink non-empty while idle, per spec.md
// section 4.5.3. It is a best-effort, non-blocking top-up: if there is
// no buffer space it simply does nothing this iteration.
func (p *Player) maybeFillSilence() {
	p.mu.Lock()
	idle := p.state == StateIdle && p.sinkOpen
	silence := p.silenceCache
	chunkFrames := p.chunkFrames
	p.mu.Unlock()

	if !idle || silence == nil {
		return
	}

	available, err := p.sink.GetWriteAvailable()
	if err != nil || available < chunkFrames {
		return
	}
	_, _ = p.sink.Write(silence)
}

func (p *Player) logStatusLine(recentStart time.Time, recent int) {
	stats := p.Stats()
	took := time.Since(recentStart).Seconds()
	chunksPerSecond := 0.0
	if took > 0 {
		chunksPerSecond = float64(recent) / took
	}

	fields := []any{
		"queue_len", stats.QueueLen,
		"chunks_per_second", chunksPerSecond,
		"avg_delay_ms", stats.AverageDelay * 1000,
		"time_drops", stats.TimeDrops,
		"output_delays", stats.OutputDelays,
	}

	if p.network != nil {
		net := p.network.Snapshot()
		fields = append(fields, "network_latency_ms", net.NetworkLatency*1000, "network_drops", net.Drops)
		if net.NetworkLatency > 1 {
			p.logger.Warn("network latency seems huge, check clock synchronization",
				"network_latency_ms", net.NetworkLatency*1000)
		} else if net.NetworkLatency <= -0.05 {
			p.logger.Warn("negative network latency suggests unsynchronised clocks",
				"network_latency_ms", net.NetworkLatency*1000)
		}
	}

	p.logger.Info("player status", fields...)
}

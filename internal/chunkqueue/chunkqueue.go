// Package chunkqueue implements the QueueEntry/ChunkQueue data model from
// spec.md section 3 and 9: a FIFO handed off between the Receiver
// goroutine and the ChunkPlayer goroutine, carrying three kinds of
// entries (audio, a count of detected drops, and configuration changes)
// behind a single level-triggered "available" signal, matching the
// original asyncio.Event-based queue in chunk_queue.py.
package chunkqueue

import (
	"context"
	"sync"

	"github.com/blaa/wavesync-go/internal/audioconfig"
)

// Kind discriminates the tagged union spec.md section 9 calls for in
// place of Go's lack of sum types.
type Kind int

const (
	KindAudio Kind = iota
	KindDrops
	KindConfig
)

// Entry is one item taken off the queue by the player. Only the fields
// matching Kind are meaningful.
type Entry struct {
	Kind Kind

	// KindAudio
	Mark    float64 // absolute playback timestamp, already decoded by internal/timemark
	Payload []byte

	// KindDrops
	DropCount int

	// KindConfig
	Config audioconfig.Config
}

// Queue is the receiver-to-player handoff queue. It is safe for
// concurrent use by one producer (the receiver) and one consumer (the
// player).
type Queue struct {
	mu        sync.Mutex
	entries   []Entry
	available chan struct{}

	// IgnoreAudioPackets suppresses the next N audio entries after a
	// recovery, matching chunk_queue.py's ignore_audio_packets: the
	// receiver's UDP socket buffer can hold several hundred milliseconds
	// of stale audio that arrived faster than it was consumed.
	IgnoreAudioPackets int

	// chunkNo counts audio chunks received since the last status-driven
	// loss calculation; reset by InitQueue/DoRecovery and folded into a
	// loss figure by UpdateLoss once the receiver has a STATUS packet to
	// compare it against. Unexported: loss bookkeeping belongs entirely
	// to the queue, guarded by q.mu, so the receiver never touches it
	// directly from its own goroutine.
	chunkNo uint32

	// lastSenderChunkNo is the sender's own counter as of the previous
	// STATUS packet, or nil before the first one arrives.
	lastSenderChunkNo *uint32
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{available: make(chan struct{})}
}

// InitQueue resets receive-side bookkeeping. Called once a connection is
// established, mirroring ChunkQueue.init_queue().
func (q *Queue) InitQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunkNo = 0
	q.lastSenderChunkNo = nil
}

// DoRecovery flushes the receive-side view after a gap large enough that
// the kernel's UDP buffer is assumed to hold stale audio: it arms
// IgnoreAudioPackets so the next batch of already-queued datagrams is
// silently discarded rather than played late. Mirrors
// ChunkQueue.do_recovery(); 60 packets is roughly 0.5s at the default
// chunk size, per the original comment.
func (q *Queue) DoRecovery() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.IgnoreAudioPackets = 60
	q.lastSenderChunkNo = nil
	q.chunkNo = 0
}

// Clear discards every queued entry except the earliest pending Config,
// which is kept so a player resyncing mid-stream doesn't also lose track
// of the format it's meant to be playing. Mirrors chunk_player.py's
// clear_state() scanning chunk_list for CMD_CFG before clearing it.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pendingConfig *Entry
	for i := range q.entries {
		if q.entries[i].Kind == KindConfig {
			e := q.entries[i]
			pendingConfig = &e
			break
		}
	}

	q.entries = nil
	if pendingConfig != nil {
		q.entries = append(q.entries, *pendingConfig)
	}

	if len(q.entries) > 0 {
		q.signalLocked()
	} else {
		q.available = make(chan struct{})
	}
}

// restartChunkNoThreshold is the sender chunk counter value below which
// a STATUS packet is treated as coming from a freshly (re)started
// transmitter rather than as evidence of packet loss, per receiver.py.
const restartChunkNoThreshold = 1500

// UpdateLoss folds a STATUS packet's sender chunk counter into the
// queue's loss bookkeeping, atomically with the PushAudio calls that
// fed chunkNo since the previous STATUS packet. Mirrors receiver.py's
// datagram_received loss-detection block, moved here (rather than left
// as direct field access on the receiver's goroutine) so it runs under
// q.mu instead of racing the player goroutine's DoRecovery/InitQueue
// calls on the same fields.
//
// restarted is true when there is no prior counter yet, or
// senderChunkNo is below restartChunkNoThreshold -- evidence the sender
// just (re)started rather than that anything was lost -- in which case
// dropped is meaningless and the caller should skip loss reporting.
func (q *Queue) UpdateLoss(senderChunkNo uint32) (dropped int64, restarted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	last := q.lastSenderChunkNo
	received := q.chunkNo

	scn := senderChunkNo
	q.lastSenderChunkNo = &scn
	q.chunkNo = 0

	if last == nil || senderChunkNo < restartChunkNoThreshold {
		return 0, true
	}

	chunksSent := senderChunkNo - *last
	return int64(chunksSent) - int64(received), false
}

// PushAudio enqueues a decoded audio chunk and bumps the received-chunk
// counter used for the next loss calculation.
func (q *Queue) PushAudio(mark float64, payload []byte) {
	q.mu.Lock()
	q.chunkNo++
	q.entries = append(q.entries, Entry{Kind: KindAudio, Mark: mark, Payload: payload})
	q.signalLocked()
	q.mu.Unlock()
}

// PushDrops enqueues a detected-loss notification for the player to
// account for and, depending on policy, resync on.
func (q *Queue) PushDrops(count int) {
	q.mu.Lock()
	q.entries = append(q.entries, Entry{Kind: KindDrops, DropCount: count})
	q.signalLocked()
	q.mu.Unlock()
}

// PushConfig enqueues a configuration change the player must apply
// before consuming any later audio entry.
func (q *Queue) PushConfig(cfg audioconfig.Config) {
	q.mu.Lock()
	q.entries = append(q.entries, Entry{Kind: KindConfig, Config: cfg})
	q.signalLocked()
	q.mu.Unlock()
}

// ShouldIgnoreAudio reports whether the caller should drop the audio
// datagram it just received without queuing it, decrementing the
// remaining count. Called by the receiver before decoding a RAW_AUDIO or
// COMPRESSED_AUDIO payload.
func (q *Queue) ShouldIgnoreAudio() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.IgnoreAudioPackets == 0 {
		return false
	}
	q.IgnoreAudioPackets--
	return true
}

// Pop blocks until an entry is available or ctx is done. The returned
// bool is false only when ctx was done first.
func (q *Queue) Pop(ctx context.Context) (Entry, bool) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			e := q.entries[0]
			q.entries = q.entries[1:]
			if len(q.entries) == 0 {
				q.available = make(chan struct{})
			}
			q.mu.Unlock()
			return e, true
		}
		ch := q.available
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

// Len reports the number of entries currently queued, used by the
// player's stats and its lagging-chunk debug log.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// signalLocked wakes any goroutine blocked in Pop. q.mu must be held.
func (q *Queue) signalLocked() {
	select {
	case <-q.available:
		// already signaled, nothing to do
	default:
		close(q.available)
	}
}

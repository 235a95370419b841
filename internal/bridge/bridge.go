// Package bridge decouples keystroke producers from the playback engine
// through a bounded queue. Producers never block: when the queue is full
// the event is dropped and counted, because a late keystroke sound is
// worse than a missing one.
package bridge

import (
	"context"
	"sync/atomic"

	"github.com/conneroisu/keywave/internal/logging"
)

// DefaultQueueSize is the bounded queue length used when none is
// configured.
const DefaultQueueSize = 128

// Player consumes key events. Satisfied by the engine.
type Player interface {
	Play(keyID string)
}

// KeyBridge forwards key events to a player through a bounded queue.
type KeyBridge struct {
	log     logging.Logger
	player  Player
	events  chan string
	dropped atomic.Uint64
}

// New creates a bridge with the given queue size.
func New(player Player, queueSize int, log logging.Logger) *KeyBridge {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	return &KeyBridge{
		log:    log.WithComponent("bridge"),
		player: player,
		events: make(chan string, queueSize),
	}
}

// Submit enqueues a key event. It never blocks; a full queue drops the
// event.
func (b *KeyBridge) Submit(keyID string) {
	select {
	case b.events <- keyID:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped so far.
func (b *KeyBridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Run consumes events until ctx is cancelled. It is the only consumer of
// the queue.
func (b *KeyBridge) Run(ctx context.Context) {
	b.log.Debug(ctx, "key bridge running", "queue", cap(b.events))

	for {
		select {
		case <-ctx.Done():
			if n := b.Dropped(); n > 0 {
				b.log.Info(ctx, "key bridge stopped", "dropped", n)
			}
			return
		case keyID := <-b.events:
			b.player.Play(keyID)
		}
	}
}

package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/keywave/internal/logging"
)

type recordingPlayer struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPlayer) Play(keyID string) {
	p.mu.Lock()
	p.keys = append(p.keys, keyID)
	p.mu.Unlock()
}

func (p *recordingPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func TestBridgeForwardsEvents(t *testing.T) {
	player := &recordingPlayer{}
	b := New(player, 8, logging.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.Submit("KeyA")
	b.Submit("Space")

	require.Eventually(t, func() bool {
		return len(player.played()) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{"KeyA", "Space"}, player.played())

	cancel()
	<-done
}

func TestBridgeDropsWhenFull(t *testing.T) {
	player := &recordingPlayer{}
	b := New(player, 2, logging.NopLogger{})

	// No consumer running: the queue absorbs two events and drops the rest.
	for i := 0; i < 5; i++ {
		b.Submit("KeyA")
	}

	assert.EqualValues(t, 3, b.Dropped())
}

func TestBridgeSubmitNeverBlocks(t *testing.T) {
	b := New(&recordingPlayer{}, 1, logging.NopLogger{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Submit("KeyB")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}

func TestBridgeDefaultQueueSize(t *testing.T) {
	b := New(&recordingPlayer{}, 0, logging.NopLogger{})
	assert.Equal(t, DefaultQueueSize, cap(b.events))
}

package engine

import (
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
)

// voice wraps a playing streamer with a stop flag. The output mixer drops
// a voice as soon as its Stream reports done, so stopping a voice is just
// making Stream return false on the next pull.
type voice struct {
	s       beep.Streamer
	stopped atomic.Bool
}

// Stream implements beep.Streamer.
func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.stopped.Load() {
		return 0, false
	}

	n, ok := v.s.Stream(samples)
	if !ok {
		v.stopped.Store(true)
	}

	return n, ok
}

// Err implements beep.Streamer. Voices never surface errors to the mixer.
func (v *voice) Err() error {
	return nil
}

// voicePool bounds the number of concurrently playing voices. When the cap
// is reached the oldest active voice is stopped to make room, so rapid
// typing can never grow playback state without bound.
type voicePool struct {
	mu     sync.Mutex
	max    int
	voices []*voice
}

func newVoicePool(max int) *voicePool {
	if max < 1 {
		max = 1
	}
	return &voicePool{max: max}
}

// play registers a new voice, evicting the oldest if needed, and submits
// it to the output.
func (p *voicePool) play(out Output, s beep.Streamer) {
	v := &voice{s: s}

	p.mu.Lock()

	live := p.voices[:0]
	for _, old := range p.voices {
		if !old.stopped.Load() {
			live = append(live, old)
		}
	}
	p.voices = live

	for len(p.voices) >= p.max {
		p.voices[0].stopped.Store(true)
		p.voices = p.voices[1:]
	}

	p.voices = append(p.voices, v)
	p.mu.Unlock()

	out.Play(v)
}

// active returns the number of voices that have not finished or been
// stopped yet.
func (p *voicePool) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, v := range p.voices {
		if !v.stopped.Load() {
			n++
		}
	}
	return n
}

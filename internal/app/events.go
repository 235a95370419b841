package app

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// Event types pushed to subscribers (and from there to the websocket
// event stream).
const (
	EventPacksChanged = "packs_changed"
	EventActivePack   = "active_pack"
	EventMasterVolume = "master_volume"
	EventEnabled      = "enabled"
)

// Event is a state-change notification.
type Event struct {
	Type      string    `json:"type"`
	PackID    string    `json:"pack_id,omitempty"`
	Value     *float64  `json:"value,omitempty"`
	Enabled   *bool     `json:"enabled,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe returns a channel receiving state-change events.
func (s *Service) Subscribe() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 16)
	s.watchers = append(s.watchers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Service) Unsubscribe(ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.watchers {
		if (<-chan Event)(w) == ch {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			close(w)
			return
		}
	}
}

// broadcast fans an event out without blocking; slow subscribers miss
// events.
func (s *Service) broadcast(event Event) {
	event.Timestamp = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		select {
		case w <- event:
		default:
		}
	}
}

func (s *Service) closeWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		close(w)
	}
	s.watchers = nil
}

func beepRate(rate int) beep.SampleRate {
	if rate <= 0 {
		rate = 44100
	}
	return beep.SampleRate(rate)
}

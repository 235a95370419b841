package engine

import (
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/conneroisu/keywave/internal/kwerrors"
)

// Output is the shared audio sink voices are submitted to. Play must be
// fire-and-forget: it starts the streamer on the output mixer and returns
// without waiting for it to drain.
type Output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Close() error
}

// SpeakerOutput plays through the system's default audio device.
type SpeakerOutput struct{}

// NewSpeakerOutput creates the default device-backed output.
func NewSpeakerOutput() *SpeakerOutput {
	return &SpeakerOutput{}
}

// Init opens the audio device.
func (o *SpeakerOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	if err := speaker.Init(sampleRate, bufferSize); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeOutputFailed, "initializing audio output", err)
	}
	return nil
}

// Play submits a streamer to the device mixer.
func (o *SpeakerOutput) Play(s beep.Streamer) {
	speaker.Play(s)
}

// Close stops all playback.
func (o *SpeakerOutput) Close() error {
	speaker.Clear()
	return nil
}

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
)

// fakeDecoder serves in-memory buffers without touching the filesystem.
// Paths whose base matches an entry in fail return an error. If gate is
// non-nil, Decode blocks on it before returning; a non-empty gateOnly
// limits the gate to paths containing that substring, and entered is
// signalled once per gated call as it starts blocking.
type fakeDecoder struct {
	mu       sync.Mutex
	fail     map[string]bool
	gate     chan struct{}
	gateOnly string
	entered  chan struct{}
	calls    []string
}

func (d *fakeDecoder) Decode(path string) (*beep.Buffer, error) {
	if d.gate != nil && (d.gateOnly == "" || strings.Contains(path, d.gateOnly)) {
		if d.entered != nil {
			d.entered <- struct{}{}
		}
		<-d.gate
	}

	d.mu.Lock()
	d.calls = append(d.calls, path)
	d.mu.Unlock()

	for suffix := range d.fail {
		if strings.HasSuffix(path, suffix) {
			return nil, assert.AnError
		}
	}

	return makeBuffer(100), nil
}

func (d *fakeDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// fakeOutput records played streamers instead of driving a sound device.
type fakeOutput struct {
	mu      sync.Mutex
	rate    beep.SampleRate
	played  []beep.Streamer
	closed  bool
	initErr error
}

func (o *fakeOutput) Init(rate beep.SampleRate, bufferSize int) error {
	if o.initErr != nil {
		return o.initErr
	}
	o.rate = rate
	return nil
}

func (o *fakeOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	o.played = append(o.played, s)
	o.mu.Unlock()
}

func (o *fakeOutput) Close() error {
	o.closed = true
	return nil
}

func (o *fakeOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.played)
}

func makeBuffer(samples int) *beep.Buffer {
	buf := beep.NewBuffer(beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2})
	buf.Append(beep.Silence(samples))
	return buf
}

func testPack(id string) *manifest.Manifest {
	m := &manifest.Manifest{
		ID:   id,
		Name: id,
		Defaults: manifest.Defaults{
			Keydown: manifest.DefaultKeydownRef,
			Volume:  manifest.Float(1.0),
		},
		KeyOverrides: map[string]manifest.KeySound{
			"Space": {Keydown: "sounds/keydown-space.wav", Volume: manifest.Float(0.5)},
		},
	}
	m.SetDir("/packs/" + id)
	return m
}

func newTestEngine(t *testing.T, dec Decoder, out Output) *Engine {
	t.Helper()

	e, err := New(DefaultConfig(), dec, out, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestEngineActivate(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	assert.Equal(t, "mech", e.ActivePackID())
	assert.Equal(t, 2, dec.callCount(), "one decode per distinct asset ref")
}

func TestEngineActivateDegradesBadAsset(t *testing.T) {
	dec := &fakeDecoder{fail: map[string]bool{"keydown-space.wav": true}}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))
	assert.Equal(t, "mech", e.ActivePackID(), "bad asset must not abort activation")

	e.Play("Space")
	assert.Zero(t, out.playCount(), "key backed by the bad asset plays nothing")

	e.Play("KeyA")
	assert.Equal(t, 1, out.playCount(), "other keys are unaffected")
}

func TestEngineActivateSupersededPreloadDiscarded(t *testing.T) {
	// Only the slow pack's assets block on the gate, so the fast
	// activation always finishes while the slow preload is in flight.
	dec := &fakeDecoder{
		gate:     make(chan struct{}),
		gateOnly: "/packs/slow/",
		entered:  make(chan struct{}, 4),
	}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	done := make(chan error, 1)
	go func() {
		done <- e.Activate(context.Background(), testPack("slow"))
	}()

	// The slow activation has claimed its generation once its first
	// decode starts blocking.
	<-dec.entered

	require.NoError(t, e.Activate(context.Background(), testPack("fast")))
	assert.Equal(t, "fast", e.ActivePackID())

	// Releasing the gate lets the stale preload complete; its publish
	// must be discarded because a newer generation already landed.
	close(dec.gate)
	require.NoError(t, <-done)

	assert.Equal(t, "fast", e.ActivePackID(), "stale preload must not replace the newer pack")
}

func TestEnginePlay(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	e.Play("KeyA")
	e.Play("Space")

	assert.Equal(t, 2, out.playCount())
	assert.Equal(t, 2, e.ActiveVoices())
}

func TestEnginePlayWithoutActivePack(t *testing.T) {
	e := newTestEngine(t, &fakeDecoder{}, &fakeOutput{})

	e.Play("KeyA")

	assert.Empty(t, e.ActivePackID())
	assert.Zero(t, e.ActiveVoices())
}

func TestEnginePlayDisabled(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	e.SetEnabled(false)
	e.Play("KeyA")
	assert.Zero(t, out.playCount())

	assert.True(t, e.Toggle())
	e.Play("KeyA")
	assert.Equal(t, 1, out.playCount())
}

func TestEnginePlaySilentAtZeroVolume(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	e.SetMasterVolume(0)
	e.Play("KeyA")

	assert.Zero(t, out.playCount(), "zero composed volume starts no voice")
}

func TestEngineMasterVolumeClamped(t *testing.T) {
	e := newTestEngine(t, &fakeDecoder{}, &fakeOutput{})

	e.SetMasterVolume(1.7)
	assert.Equal(t, 1.0, e.MasterVolume())

	e.SetMasterVolume(-0.3)
	assert.Equal(t, 0.0, e.MasterVolume())
}

func TestEngineVoiceCap(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}

	e, err := New(Config{SampleRate: 44100, BufferSize: 256, MaxVoices: 4}, dec, out, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	for i := 0; i < 10; i++ {
		e.Play("KeyA")
	}

	assert.Equal(t, 10, out.playCount(), "every press reaches the output")
	assert.Equal(t, 4, e.ActiveVoices(), "older voices are evicted at the cap")
}

func TestEngineConfigDefaultsPerField(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}

	// Zero sample rate falls back to the default without clobbering the
	// caller's voice cap.
	e, err := New(Config{SampleRate: 0, MaxVoices: 2}, dec, out, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Equal(t, beep.SampleRate(44100), out.rate)

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))
	for i := 0; i < 5; i++ {
		e.Play("KeyA")
	}
	assert.Equal(t, 2, e.ActiveVoices(), "explicit voice cap survives defaulting of other fields")
}

func TestEngineReloadAsset(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	pack := testPack("mech")
	require.NoError(t, e.Activate(context.Background(), pack))

	before := dec.callCount()
	e.ReloadAsset(context.Background(), pack, "sounds/keydown-space.wav")
	assert.Equal(t, before+1, dec.callCount(), "reload decodes just the edited asset")

	e.Play("Space")
	assert.Equal(t, 1, out.playCount())
}

func TestEngineReloadAssetIgnoresInactivePack(t *testing.T) {
	dec := &fakeDecoder{}
	e := newTestEngine(t, dec, &fakeOutput{})

	require.NoError(t, e.Activate(context.Background(), testPack("mech")))

	before := dec.callCount()
	e.ReloadAsset(context.Background(), testPack("other"), "sounds/keydown.wav")
	assert.Equal(t, before, dec.callCount(), "no decode for a pack that is not active")
}

func TestEngineReloadAssetDropsBrokenBuffer(t *testing.T) {
	dec := &fakeDecoder{}
	out := &fakeOutput{}
	e := newTestEngine(t, dec, out)

	pack := testPack("mech")
	require.NoError(t, e.Activate(context.Background(), pack))

	dec.fail = map[string]bool{"keydown-space.wav": true}
	e.ReloadAsset(context.Background(), pack, "sounds/keydown-space.wav")

	e.Play("Space")
	assert.Zero(t, out.playCount(), "a ref that no longer decodes resolves silent")
}

func TestEngineClose(t *testing.T) {
	out := &fakeOutput{}
	e, err := New(DefaultConfig(), &fakeDecoder{}, out, logging.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.True(t, out.closed)
}

// Package engine implements preloaded, fire-and-forget sound playback.
//
// The engine keeps a decode cache for the currently active pack only.
// Activation is two-phase: every asset the pack references is decoded into
// memory off the hot path first, and only then is the active pointer
// swapped under the lock, so the first keystroke after a switch plays
// without decode latency. A newer activation request supersedes an
// in-flight preload; the superseded result is discarded, never published.
// The playback path holds the lock just long enough to copy the active
// pointer and two scalars and performs no I/O.
package engine

import (
	"context"
	"runtime"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
	"github.com/conneroisu/keywave/internal/resolver"
)

// Config holds engine tuning parameters.
type Config struct {
	// SampleRate is the output sample rate in Hz.
	SampleRate int
	// BufferSize is the output buffer length in samples.
	BufferSize int
	// MaxVoices caps concurrently playing voices; the oldest voice is
	// stopped when a new one would exceed the cap.
	MaxVoices int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		BufferSize: 256,
		MaxVoices:  32,
	}
}

// activePack bundles the published pack with its decoded buffers. The
// struct is immutable once published; hot reloads publish a replacement
// rather than mutating the buffer map in place.
type activePack struct {
	pack    *manifest.Manifest
	buffers map[string]*beep.Buffer
}

// Engine is the playback engine.
type Engine struct {
	log    logging.Logger
	dec    Decoder
	out    Output
	voices *voicePool

	mu      sync.Mutex
	active  *activePack
	master  float64
	enabled bool
	// genSeq identifies the most recent activation request; a preload
	// whose generation is stale by publish time is discarded.
	genSeq uint64
}

// New creates an engine and opens the output.
func New(cfg Config, dec Decoder, out Output, log logging.Logger) (*Engine, error) {
	// Each field falls back independently so a caller setting only some
	// of them keeps the rest at their defaults.
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxVoices <= 0 {
		cfg.MaxVoices = def.MaxVoices
	}

	if err := out.Init(beep.SampleRate(cfg.SampleRate), cfg.BufferSize); err != nil {
		return nil, err
	}

	return &Engine{
		log:     log.WithComponent("engine"),
		dec:     dec,
		out:     out,
		voices:  newVoicePool(cfg.MaxVoices),
		master:  1.0,
		enabled: true,
	}, nil
}

// Activate preloads the pack's assets and publishes it as active. A
// corrupt or missing asset degrades to silence for its keys and does not
// abort activation. If a newer Activate call supersedes this one while its
// preload is still running, the stale result is dropped and nil is
// returned.
func (e *Engine) Activate(ctx context.Context, pack *manifest.Manifest) error {
	e.mu.Lock()
	e.genSeq++
	gen := e.genSeq
	e.mu.Unlock()

	buffers := e.preload(ctx, pack)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.genSeq {
		e.log.Debug(ctx, "discarding superseded preload", "pack", pack.ID)
		return nil
	}

	// The previous pack's buffers are released here, strictly after the
	// swap: voices already playing hold their own buffer references.
	e.active = &activePack{pack: pack, buffers: buffers}

	e.log.Info(ctx, "sound pack activated",
		"pack", pack.ID,
		"assets", len(buffers))

	return nil
}

// preload decodes every asset the pack references into memory.
func (e *Engine) preload(ctx context.Context, pack *manifest.Manifest) map[string]*beep.Buffer {
	refs := pack.AssetRefs()

	type result struct {
		ref string
		buf *beep.Buffer
	}

	workers := runtime.NumCPU()
	if workers > len(refs) {
		workers = len(refs)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string, len(refs))
	results := make(chan result, len(refs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				buf, err := e.dec.Decode(pack.AssetPath(ref))
				if err != nil {
					e.log.Warn(ctx, err, "asset degraded to silence",
						"pack", pack.ID,
						"asset", ref)
					buf = nil
				}
				results <- result{ref: ref, buf: buf}
			}
		}()
	}

	for _, ref := range refs {
		jobs <- ref
	}
	close(jobs)
	wg.Wait()
	close(results)

	buffers := make(map[string]*beep.Buffer, len(refs))
	for r := range results {
		if r.buf != nil {
			buffers[r.ref] = r.buf
		}
	}

	return buffers
}

// ReloadAsset re-decodes a single asset of the active pack after a slot
// edit, publishing an updated snapshot without a full preload. pack is the
// freshly persisted manifest; if it is not the active pack the call is a
// no-op. A ref that no longer decodes (or was removed) drops out of the
// cache and resolves silent.
func (e *Engine) ReloadAsset(ctx context.Context, pack *manifest.Manifest, ref string) {
	e.mu.Lock()
	current := e.active
	e.mu.Unlock()

	if current == nil || current.pack.ID != pack.ID {
		return
	}

	var buf *beep.Buffer
	if ref != "" {
		var err error
		buf, err = e.dec.Decode(pack.AssetPath(ref))
		if err != nil {
			e.log.Warn(ctx, err, "asset degraded to silence", "pack", pack.ID, "asset", ref)
			buf = nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The active snapshot may have moved while decoding; only patch it if
	// it still belongs to the same pack.
	if e.active == nil || e.active.pack.ID != pack.ID {
		return
	}

	buffers := make(map[string]*beep.Buffer, len(e.active.buffers)+1)
	for k, v := range e.active.buffers {
		buffers[k] = v
	}
	if buf != nil {
		buffers[ref] = buf
	} else {
		delete(buffers, ref)
	}

	e.active = &activePack{pack: pack, buffers: buffers}

	e.log.Debug(ctx, "asset hot-reloaded", "pack", pack.ID, "asset", ref)
}

// Play resolves a key against the active pack and starts a voice. It never
// blocks on I/O and never fails: a disabled engine, missing pack, missing
// buffer, or zero volume all play nothing.
func (e *Engine) Play(keyID string) {
	e.mu.Lock()
	ap := e.active
	master := e.master
	enabled := e.enabled
	e.mu.Unlock()

	if !enabled || ap == nil {
		return
	}

	res := resolver.Resolve(ap.pack, keyID)

	buf, ok := ap.buffers[res.AssetRef]
	if !ok || buf.Len() == 0 {
		return
	}

	db, silent := resolver.GainDB(resolver.ComposeVolume(master, res.Volume))
	if silent {
		return
	}

	e.voices.play(e.out, &effects.Volume{
		Streamer: buf.Streamer(0, buf.Len()),
		Base:     10,
		Volume:   db / 20,
	})
}

// ActivePackID returns the id of the active pack, or "" when none is
// active yet.
func (e *Engine) ActivePackID() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return ""
	}
	return e.active.pack.ID
}

// SetMasterVolume sets the master volume, clamped to [0, 1].
func (e *Engine) SetMasterVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	e.mu.Lock()
	e.master = v
	e.mu.Unlock()
}

// MasterVolume returns the master volume.
func (e *Engine) MasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// SetEnabled turns playback on or off.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// Enabled reports whether playback is on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Toggle flips the enabled flag and returns the new value.
func (e *Engine) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = !e.enabled
	return e.enabled
}

// ActiveVoices returns the number of currently playing voices.
func (e *Engine) ActiveVoices() int {
	return e.voices.active()
}

// Close stops playback and releases the output.
func (e *Engine) Close() error {
	return e.out.Close()
}

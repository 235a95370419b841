package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/keywave/internal/config"
	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
	"github.com/conneroisu/keywave/internal/state"
)

type nopOutput struct{}

func (nopOutput) Init(beep.SampleRate, int) error { return nil }
func (nopOutput) Play(beep.Streamer)              {}
func (nopOutput) Close() error                    { return nil }

// bundledSource builds a shipped-packs directory holding the default pack
// with a decodable silence asset.
func bundledSource(t *testing.T) string {
	t.Helper()

	source := t.TempDir()
	dir := filepath.Join(source, "default")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sounds"), 0o755))
	require.NoError(t, manifest.WriteSilence(filepath.Join(dir, "sounds", "keydown.wav")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName),
		[]byte(`{"id":"default","name":"Default","defaults":{"keydown":"sounds/keydown.wav","volume":1.0}}`),
		0o644))

	return source
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		DataDir:       filepath.Join(t.TempDir(), "keywave"),
		BundledSource: bundledSource(t),
	}
	cfg.Audio.SampleRate = 44100
	cfg.Audio.BufferSize = 256
	cfg.Audio.MaxVoices = 8
	cfg.Bridge.QueueSize = 16
	cfg.Watcher.Enabled = false

	return cfg
}

func startService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()

	s, err := New(cfg, nopOutput{}, logging.NopLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(ctx) })

	return s
}

func TestServiceStart(t *testing.T) {
	cfg := testConfig(t)
	s := startService(t, cfg)

	assert.Equal(t, "default", s.ActivePackID())
	assert.Equal(t, 1.0, s.MasterVolume())
	assert.True(t, s.Enabled())

	infos := s.ListPacks()
	require.Len(t, infos, 1)
	assert.Equal(t, "default", infos[0].ID)

	// The bundled pack was mirrored into the data dir.
	assert.FileExists(t, filepath.Join(cfg.BundledPacksDir(), "default", manifest.FileName))
	raw, err := os.ReadFile(filepath.Join(cfg.DataDir, "data-version.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"1"`)
}

func TestServiceCreateActivateDelete(t *testing.T) {
	cfg := testConfig(t)
	s := startService(t, cfg)
	ctx := context.Background()

	info, err := s.CreatePack(ctx, "Clacky")
	require.NoError(t, err)
	assert.Equal(t, "clacky", info.ID)

	require.NoError(t, s.SetActivePack(ctx, info.ID))
	assert.Equal(t, "clacky", s.ActivePackID())

	// Deleting the active pack falls back to the default pack.
	require.NoError(t, s.DeletePack(ctx, info.ID))
	assert.Equal(t, "default", s.ActivePackID())
}

func TestServiceSetActivePackUnknown(t *testing.T) {
	s := startService(t, testConfig(t))

	err := s.SetActivePack(context.Background(), "ghost")
	assert.True(t, kwerrors.IsNotFound(err))
	assert.Equal(t, "default", s.ActivePackID())
}

func TestServiceStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := New(cfg, nopOutput{}, logging.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	_, err = s.CreatePack(ctx, "Sticky")
	require.NoError(t, err)
	require.NoError(t, s.SetActivePack(ctx, "sticky"))
	s.SetMasterVolume(ctx, 0.25)
	s.SetEnabled(ctx, false)
	require.NoError(t, s.Stop(ctx))

	s2 := startService(t, cfg)
	assert.Equal(t, "sticky", s2.ActivePackID())
	assert.Equal(t, 0.25, s2.MasterVolume())
	assert.False(t, s2.Enabled())
}

func TestServiceFallbackWhenPersistedPackGone(t *testing.T) {
	cfg := testConfig(t)

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	require.NoError(t, state.NewStore(cfg.DataDir).Save(state.State{
		ActivePackID: "vanished",
		MasterVolume: 0.9,
		Enabled:      true,
	}))

	s := startService(t, cfg)
	assert.Equal(t, "default", s.ActivePackID())
	assert.Equal(t, 0.9, s.MasterVolume(), "other settings survive the fallback")
}

func TestServiceSlots(t *testing.T) {
	s := startService(t, testConfig(t))
	ctx := context.Background()

	info, err := s.CreatePack(ctx, "Slotted")
	require.NoError(t, err)

	slots, err := s.Slots(info.ID)
	require.NoError(t, err)
	require.Len(t, slots, len(manifest.FixedSlots))
	assert.Equal(t, manifest.SlotDefault, slots[0].Slot)
	assert.Empty(t, slots[0].FileName, "untouched placeholder shows no filename")

	_, err = s.Slots("ghost")
	assert.True(t, kwerrors.IsNotFound(err))
}

func TestServiceImportAndRemoveSlot(t *testing.T) {
	cfg := testConfig(t)
	s := startService(t, cfg)
	ctx := context.Background()

	info, err := s.CreatePack(ctx, "Edits")
	require.NoError(t, err)
	require.NoError(t, s.SetActivePack(ctx, info.ID))

	src := filepath.Join(t.TempDir(), "pop.wav")
	require.NoError(t, manifest.WriteSilence(src))

	require.NoError(t, s.ImportSlot(ctx, info.ID, manifest.SlotSpace, src))

	slots, err := s.Slots(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "pop.wav", slots[1].FileName)

	require.NoError(t, s.RemoveSlot(ctx, info.ID, manifest.SlotSpace))
	slots, err = s.Slots(info.ID)
	require.NoError(t, err)
	assert.Empty(t, slots[1].FileName)
}

func TestServiceVolumeAndToggleEvents(t *testing.T) {
	s := startService(t, testConfig(t))
	ctx := context.Background()

	events := s.Subscribe()
	defer s.Unsubscribe(events)

	s.SetMasterVolume(ctx, 0.5)
	ev := <-events
	assert.Equal(t, EventMasterVolume, ev.Type)
	require.NotNil(t, ev.Value)
	assert.Equal(t, 0.5, *ev.Value)

	enabled := s.Toggle(ctx)
	assert.False(t, enabled)
	ev = <-events
	assert.Equal(t, EventEnabled, ev.Type)
	require.NotNil(t, ev.Enabled)
	assert.False(t, *ev.Enabled)
}

func TestServiceKeySubmitDoesNotBlock(t *testing.T) {
	s := startService(t, testConfig(t))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			s.Key("KeyA")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Key blocked")
	}
}

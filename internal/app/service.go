// Package app wires the registry, engine, lifecycle manager, bridge, and
// watcher into one service exposing every user-facing operation. The
// control server and the CLI talk to this package only.
package app

import (
	"context"
	"os"
	"sync"

	"github.com/conneroisu/keywave/internal/bridge"
	"github.com/conneroisu/keywave/internal/config"
	"github.com/conneroisu/keywave/internal/engine"
	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/lifecycle"
	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
	"github.com/conneroisu/keywave/internal/registry"
	"github.com/conneroisu/keywave/internal/state"
	"github.com/conneroisu/keywave/internal/watcher"
)

// dataVersion stamps the data directory layout. Bump on layout changes
// that need a migration at startup.
const dataVersion = "1"

// Service owns the application state and implements the control
// operations.
type Service struct {
	log logging.Logger
	cfg *config.Config

	reg   *registry.PackRegistry
	eng   *engine.Engine
	life  *lifecycle.Manager
	store *state.Store
	keys  *bridge.KeyBridge

	fsw *watcher.PackWatcher

	mu       sync.Mutex
	watchers []chan Event

	cancel context.CancelFunc
}

// New builds a service from the configuration. The engine output is
// injected so tests and the one-shot CLI can run without a sound device.
func New(cfg *config.Config, out engine.Output, log logging.Logger) (*Service, error) {
	reg := registry.New(registry.Roots{
		Bundled: cfg.BundledPacksDir(),
		User:    cfg.UserPacksDir(),
	}, log)

	rate := cfg.Audio.SampleRate
	eng, err := engine.New(engine.Config{
		SampleRate: rate,
		BufferSize: cfg.Audio.BufferSize,
		MaxVoices:  cfg.Audio.MaxVoices,
	}, engine.NewBufferDecoder(beepRate(rate)), out, log)
	if err != nil {
		return nil, kwerrors.NewIOError(kwerrors.ErrCodeOutputFailed, "initializing audio output", err)
	}

	s := &Service{
		log:   log.WithComponent("app"),
		cfg:   cfg,
		reg:   reg,
		eng:   eng,
		life:  lifecycle.NewManager(reg, log),
		store: state.NewStore(cfg.DataDir),
	}
	s.keys = bridge.New(eng, cfg.Bridge.QueueSize, log)

	return s, nil
}

// Start prepares the data directory, syncs bundled packs, loads the
// registry, restores persisted settings, and activates the restored pack.
// The key bridge and the filesystem watcher run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, dir := range []string{s.cfg.DataDir, s.cfg.BundledPacksDir(), s.cfg.UserPacksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return kwerrors.NewIOError(kwerrors.ErrCodePackDirCreate, "creating data directory", err)
		}
	}

	if stamped := registry.ReadDataVersion(s.cfg.DataDir); stamped != dataVersion {
		s.log.Info(ctx, "stamping data directory", "from", stamped, "to", dataVersion)
		if err := registry.WriteDataVersion(s.cfg.DataDir, dataVersion); err != nil {
			return err
		}
	}

	if s.cfg.BundledSource != "" {
		if err := s.reg.SyncBundled(ctx, s.cfg.BundledSource); err != nil {
			return err
		}
	}

	if err := s.reg.Load(ctx); err != nil {
		return err
	}

	st := s.store.Load()
	s.eng.SetMasterVolume(st.MasterVolume)
	s.eng.SetEnabled(st.Enabled)

	pack, err := s.reg.Get(st.ActivePackID)
	if err != nil {
		s.log.Warn(ctx, err, "persisted pack missing, falling back", "pack", st.ActivePackID)
		pack, err = s.reg.Get(manifest.DefaultPackID)
	}
	if err == nil {
		if err := s.eng.Activate(ctx, pack); err != nil {
			return err
		}
	} else {
		s.log.Warn(ctx, err, "no activatable pack found")
	}

	go s.keys.Run(runCtx)

	if s.cfg.Watcher.Enabled {
		fsw, err := watcher.New(s.cfg.UserPacksDir(), s.cfg.Watcher.Debounce, s.onPackDirsChanged, s.log)
		if err != nil {
			return kwerrors.NewIOError(kwerrors.ErrCodeInternalError, "creating filesystem watcher", err)
		}
		if err := fsw.Start(runCtx); err != nil {
			return kwerrors.NewIOError(kwerrors.ErrCodeInternalError, "starting filesystem watcher", err)
		}
		s.fsw = fsw
	}

	s.log.Info(ctx, "keywave started",
		"data_dir", s.cfg.DataDir,
		"packs", s.reg.Count(),
		"active", s.eng.ActivePackID())

	return nil
}

// Stop persists the current settings and shuts everything down.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.fsw != nil {
		_ = s.fsw.Stop()
	}

	if err := s.saveState(); err != nil {
		s.log.Warn(ctx, err, "could not persist settings on shutdown")
	}

	s.closeWatchers()

	return s.eng.Close()
}

// onPackDirsChanged handles settled filesystem bursts under the user
// root: the index is rescanned and the active pack re-activated when it
// was among the touched directories, so external edits take effect live.
func (s *Service) onPackDirsChanged(ctx context.Context, packDirs []string) {
	if err := s.reg.Load(ctx); err != nil {
		s.log.Warn(ctx, err, "rescan after filesystem change failed")
		return
	}

	activeID := s.eng.ActivePackID()
	if activeID == "" {
		s.broadcast(Event{Type: EventPacksChanged})
		return
	}

	pack, err := s.reg.Get(activeID)
	if err != nil {
		// The active pack's directory disappeared from under us.
		s.log.Warn(ctx, err, "active pack vanished, falling back", "pack", activeID)
		if err := s.SetActivePack(ctx, manifest.DefaultPackID); err != nil {
			s.log.Error(ctx, err, "fallback activation failed")
		}
		return
	}

	for _, dir := range packDirs {
		if dir == pack.Dir() {
			if err := s.eng.Activate(ctx, pack); err != nil {
				s.log.Warn(ctx, err, "re-activation after edit failed", "pack", activeID)
			}
			break
		}
	}

	s.broadcast(Event{Type: EventPacksChanged})
}

// ListPacks returns pack summaries in display order.
func (s *Service) ListPacks() []manifest.Info {
	return s.reg.List()
}

// ActivePackID returns the id of the currently active pack.
func (s *Service) ActivePackID() string {
	return s.eng.ActivePackID()
}

// SetActivePack preloads and switches to the named pack, persisting the
// choice.
func (s *Service) SetActivePack(ctx context.Context, id string) error {
	pack, err := s.reg.Get(id)
	if err != nil {
		return err
	}

	if err := s.eng.Activate(ctx, pack); err != nil {
		return err
	}

	if err := s.saveState(); err != nil {
		s.log.Warn(ctx, err, "could not persist active pack", "pack", id)
	}

	s.broadcast(Event{Type: EventActivePack, PackID: id})
	return nil
}

// Slots lists the addressable slots of a pack.
func (s *Service) Slots(packID string) ([]manifest.SlotInfo, error) {
	pack, err := s.reg.Get(packID)
	if err != nil {
		return nil, err
	}
	return pack.Slots(), nil
}

// CreatePack makes a new user pack from a display name.
func (s *Service) CreatePack(ctx context.Context, name string) (manifest.Info, error) {
	pack, err := s.life.Create(ctx, name)
	if err != nil {
		return manifest.Info{}, err
	}

	s.broadcast(Event{Type: EventPacksChanged, PackID: pack.ID})
	return pack.Info(), nil
}

// ImportSlot assigns a sound file to a slot of a user pack, hot-reloading
// the asset when the pack is active.
func (s *Service) ImportSlot(ctx context.Context, packID, slot, sourcePath string) error {
	pack, ref, err := s.life.ImportSlot(ctx, packID, slot, sourcePath)
	if err != nil {
		return err
	}

	s.eng.ReloadAsset(ctx, pack, ref)
	s.broadcast(Event{Type: EventPacksChanged, PackID: packID})
	return nil
}

// RemoveSlot clears a slot of a user pack, hot-reloading when active.
func (s *Service) RemoveSlot(ctx context.Context, packID, slot string) error {
	pack, ref, err := s.life.RemoveSlot(ctx, packID, slot)
	if err != nil {
		return err
	}

	s.eng.ReloadAsset(ctx, pack, ref)
	s.broadcast(Event{Type: EventPacksChanged, PackID: packID})
	return nil
}

// RenamePack changes a user pack's display name.
func (s *Service) RenamePack(ctx context.Context, packID, name string) error {
	if _, err := s.life.Rename(ctx, packID, name); err != nil {
		return err
	}

	s.broadcast(Event{Type: EventPacksChanged, PackID: packID})
	return nil
}

// DeletePack removes a user pack. Deleting the active pack first falls
// back to the default pack so playback keeps a valid target.
func (s *Service) DeletePack(ctx context.Context, packID string) error {
	wasActive := s.eng.ActivePackID() == packID

	if err := s.life.Delete(ctx, packID); err != nil {
		return err
	}

	if wasActive {
		if err := s.SetActivePack(ctx, manifest.DefaultPackID); err != nil {
			s.log.Warn(ctx, err, "fallback activation after delete failed")
		}
	}

	s.broadcast(Event{Type: EventPacksChanged, PackID: packID})
	return nil
}

// Key submits a keystroke through the bounded bridge. Never blocks.
func (s *Service) Key(keyID string) {
	s.keys.Submit(keyID)
}

// Play previews the sound for a key immediately, bypassing the bridge.
func (s *Service) Play(keyID string) {
	s.eng.Play(keyID)
}

// MasterVolume returns the current master volume.
func (s *Service) MasterVolume() float64 {
	return s.eng.MasterVolume()
}

// SetMasterVolume sets and persists the master volume.
func (s *Service) SetMasterVolume(ctx context.Context, v float64) {
	s.eng.SetMasterVolume(v)

	if err := s.saveState(); err != nil {
		s.log.Warn(ctx, err, "could not persist master volume")
	}

	vol := s.eng.MasterVolume()
	s.broadcast(Event{Type: EventMasterVolume, Value: &vol})
}

// Enabled reports whether playback is on.
func (s *Service) Enabled() bool {
	return s.eng.Enabled()
}

// SetEnabled turns playback on or off and persists the flag.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) {
	s.eng.SetEnabled(enabled)

	if err := s.saveState(); err != nil {
		s.log.Warn(ctx, err, "could not persist enabled flag")
	}

	s.broadcast(Event{Type: EventEnabled, Enabled: &enabled})
}

// Toggle flips the enabled flag, persists it, and returns the new value.
func (s *Service) Toggle(ctx context.Context) bool {
	enabled := s.eng.Toggle()

	if err := s.saveState(); err != nil {
		s.log.Warn(ctx, err, "could not persist enabled flag")
	}

	s.broadcast(Event{Type: EventEnabled, Enabled: &enabled})
	return enabled
}

// DroppedKeys returns the number of key events the bridge has dropped.
func (s *Service) DroppedKeys() uint64 {
	return s.keys.Dropped()
}

func (s *Service) saveState() error {
	activeID := s.eng.ActivePackID()
	if activeID == "" {
		activeID = manifest.DefaultPackID
	}

	return s.store.Save(state.State{
		ActivePackID: activeID,
		MasterVolume: s.eng.MasterVolume(),
		Enabled:      s.eng.Enabled(),
	})
}

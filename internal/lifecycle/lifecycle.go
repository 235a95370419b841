// Package lifecycle implements the mutating operations on user sound
// packs: creation, per-slot sound import and removal, renaming, and
// deletion. Bundled packs are read-only at this boundary.
//
// Every operation validates fully before touching the disk, writes new
// files next to their destination and renames them into place, and only
// then updates the manifest, so an interrupted operation leaves at worst
// an orphaned temp file rather than a broken pack. Operations on the same
// pack are serialized per pack id.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
	"github.com/conneroisu/keywave/internal/registry"
)

// MaxImportBytes caps imported sound files at 5 MB.
const MaxImportBytes = 5 * 1024 * 1024

// allowedExtensions are the importable sound formats.
var allowedExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".ogg": true,
}

// defaultPackVolume is the defaults.volume every fresh pack starts with.
const defaultPackVolume = 0.8

// Manager performs pack mutations against the registry and the user pack
// root.
type Manager struct {
	log logging.Logger
	reg *registry.PackRegistry

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// createMu serializes id selection with directory creation so two
	// concurrent creates can never claim the same id.
	createMu sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(reg *registry.PackRegistry, log logging.Logger) *Manager {
	return &Manager{
		log:   log.WithComponent("lifecycle"),
		reg:   reg,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockPack serializes mutations per pack id and returns the unlock func.
func (m *Manager) lockPack(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Create makes a new empty user pack from a display name. The id is a
// slug of the name, suffixed with a counter when the slug is already
// taken. The pack starts with a generated silence placeholder as its
// default sound so it is immediately activatable.
func (m *Manager) Create(ctx context.Context, name string) (*manifest.Manifest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, kwerrors.NewValidationError(kwerrors.ErrCodeEmptyName, "pack name must not be empty")
	}

	// Picking the id and claiming its directory happen under one lock;
	// otherwise two concurrent creates of the same name both see the slug
	// free and collide on it.
	m.createMu.Lock()
	id := m.uniqueID(slugify(name))
	dir := m.reg.UserPackDir(id)
	err := os.MkdirAll(filepath.Join(dir, manifest.SoundsDir), 0o755)
	m.createMu.Unlock()
	if err != nil {
		return nil, kwerrors.NewIOError(kwerrors.ErrCodePackDirCreate, "creating pack directory", err).WithPack(id)
	}

	unlock := m.lockPack(id)
	defer unlock()

	if err := manifest.WriteSilence(filepath.Join(dir, filepath.FromSlash(manifest.DefaultKeydownRef))); err != nil {
		return nil, kwerrors.NewIOError(kwerrors.ErrCodeAssetCopy, "writing silence placeholder", err).WithPack(id)
	}

	pack := &manifest.Manifest{
		ID:      id,
		Name:    name,
		Author:  "User",
		Version: "1.0.0",
		Source:  manifest.SourceUser,
		Defaults: manifest.Defaults{
			Keydown: manifest.DefaultKeydownRef,
			Volume:  manifest.Float(defaultPackVolume),
		},
	}
	pack.SetDir(dir)

	if err := pack.Save(); err != nil {
		return nil, err
	}

	m.reg.Put(pack)
	m.log.Info(ctx, "pack created", "pack", id, "name", name)

	return pack, nil
}

// uniqueID finds an unused pack id derived from slug. The bare slug is
// preferred, then slug-2 through slug-99; failing all of those the unix
// timestamp is appended.
func (m *Manager) uniqueID(slug string) string {
	if slug == "" {
		slug = "pack"
	}

	if m.idFree(slug) {
		return slug
	}

	for n := 2; n < 100; n++ {
		candidate := fmt.Sprintf("%s-%d", slug, n)
		if m.idFree(candidate) {
			return candidate
		}
	}

	return fmt.Sprintf("%s-%d", slug, time.Now().Unix())
}

func (m *Manager) idFree(id string) bool {
	if _, err := m.reg.Get(id); err == nil {
		return false
	}
	if _, err := os.Stat(m.reg.UserPackDir(id)); err == nil {
		return false
	}
	return true
}

// ImportSlot copies a sound file from sourcePath into the pack and
// assigns it to slot. The returned ref is the new manifest-relative asset
// reference. Validation (pack mutability, slot shape, extension, size)
// happens before any disk write.
func (m *Manager) ImportSlot(ctx context.Context, packID, slot, sourcePath string) (*manifest.Manifest, string, error) {
	unlock := m.lockPack(packID)
	defer unlock()

	pack, err := m.mutablePack(packID)
	if err != nil {
		return nil, "", err
	}

	if err := m.checkSlot(pack, slot); err != nil {
		return nil, "", err
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if !allowedExtensions[ext] {
		return nil, "", kwerrors.NewValidationError(kwerrors.ErrCodeBadExtension,
			"unsupported sound format "+ext+" (use mp3, wav, or ogg)").WithPack(packID).WithSlot(slot)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, "", kwerrors.NewNotFoundError(kwerrors.ErrCodeFileNotFound,
			"sound file not found: "+sourcePath).WithPack(packID).WithSlot(slot)
	}
	if info.Size() > MaxImportBytes {
		return nil, "", kwerrors.NewValidationError(kwerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("sound file is %d bytes, limit is %d", info.Size(), MaxImportBytes)).
			WithPack(packID).WithSlot(slot)
	}

	ref := slotAssetRef(slot, ext)
	dst := pack.AssetPath(ref)

	if err := copyInto(sourcePath, dst); err != nil {
		return nil, "", kwerrors.NewIOError(kwerrors.ErrCodeAssetCopy, "importing sound file", err).
			WithPack(packID).WithSlot(slot)
	}

	// A previous import of this slot with a different extension leaves its
	// file behind; drop it now that the replacement is in place.
	if old, ok := pack.SlotPath(slot); ok && old != ref && old != manifest.DefaultKeydownRef {
		if !refUsedElsewhere(pack, slot, old) {
			_ = os.Remove(pack.AssetPath(old))
		}
	}

	pack.SetSlot(slot, ref)
	if pack.OriginalNames == nil {
		pack.OriginalNames = make(map[string]string)
	}
	pack.OriginalNames[slot] = filepath.Base(sourcePath)

	if err := pack.Save(); err != nil {
		return nil, "", err
	}

	m.reg.Put(pack)
	m.log.Info(ctx, "slot sound imported", "pack", packID, "slot", slot, "ref", ref)

	return pack, ref, nil
}

// RemoveSlot clears the sound assigned to a slot. For the default slot
// this resets the pack to the silence placeholder; every pack always has
// a default sound. The returned ref is the asset reference whose content
// changed or disappeared.
func (m *Manager) RemoveSlot(ctx context.Context, packID, slot string) (*manifest.Manifest, string, error) {
	unlock := m.lockPack(packID)
	defer unlock()

	pack, err := m.mutablePack(packID)
	if err != nil {
		return nil, "", err
	}

	if !manifest.ValidSlot(slot) {
		return nil, "", kwerrors.ErrSlotNotFound(slot).WithPack(packID)
	}

	old, had := pack.SlotPath(slot)

	if slot == manifest.SlotDefault {
		if had && old != manifest.DefaultKeydownRef && !refUsedElsewhere(pack, slot, old) {
			_ = os.Remove(pack.AssetPath(old))
		}
		if err := manifest.WriteSilence(pack.AssetPath(manifest.DefaultKeydownRef)); err != nil {
			return nil, "", kwerrors.NewIOError(kwerrors.ErrCodeAssetCopy, "resetting default sound", err).
				WithPack(packID)
		}
		pack.Defaults.Keydown = manifest.DefaultKeydownRef
		delete(pack.OriginalNames, slot)

		if err := pack.Save(); err != nil {
			return nil, "", err
		}

		m.reg.Put(pack)
		m.log.Info(ctx, "default sound reset", "pack", packID)

		return pack, manifest.DefaultKeydownRef, nil
	}

	pack.ClearSlot(slot)
	delete(pack.OriginalNames, slot)

	if had && !refUsedElsewhere(pack, slot, old) {
		_ = os.Remove(pack.AssetPath(old))
	}

	if err := pack.Save(); err != nil {
		return nil, "", err
	}

	m.reg.Put(pack)
	m.log.Info(ctx, "slot sound removed", "pack", packID, "slot", slot)

	return pack, old, nil
}

// Rename changes a pack's display name. The id stays stable so the active
// pack reference and the on-disk directory never move.
func (m *Manager) Rename(ctx context.Context, packID, newName string) (*manifest.Manifest, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, kwerrors.NewValidationError(kwerrors.ErrCodeEmptyName, "pack name must not be empty").WithPack(packID)
	}

	unlock := m.lockPack(packID)
	defer unlock()

	pack, err := m.mutablePack(packID)
	if err != nil {
		return nil, err
	}

	pack.Name = newName
	if err := pack.Save(); err != nil {
		return nil, err
	}

	m.reg.Put(pack)
	m.log.Info(ctx, "pack renamed", "pack", packID, "name", newName)

	return pack, nil
}

// Delete removes a user pack and its directory. The mutability check runs
// before any disk access.
func (m *Manager) Delete(ctx context.Context, packID string) error {
	unlock := m.lockPack(packID)
	defer unlock()

	pack, err := m.mutablePack(packID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(pack.Dir()); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodePackDirDelete, "deleting pack directory", err).WithPack(packID)
	}

	m.reg.Remove(packID)
	m.log.Info(ctx, "pack deleted", "pack", packID)

	return nil
}

// mutablePack resolves packID to a private copy this manager may modify.
// The registry's pointer is shared with the playback path and is read
// there without locking, so mutations go to a clone that is published
// back through reg.Put once saved.
func (m *Manager) mutablePack(packID string) (*manifest.Manifest, error) {
	pack, err := m.reg.Get(packID)
	if err != nil {
		return nil, err
	}
	if !pack.IsUser() {
		return nil, kwerrors.ErrBundledPack(packID)
	}
	return pack.Clone(), nil
}

// checkSlot validates the slot token for assignment. A per-key token is
// rejected while its key is covered by a category assignment; the key has
// to leave the category first or the category entry becomes unreachable
// dead weight.
func (m *Manager) checkSlot(pack *manifest.Manifest, slot string) error {
	if !manifest.ValidSlot(slot) {
		return kwerrors.ErrSlotNotFound(slot).WithPack(pack.ID)
	}

	if keyID, ok := manifest.ParseKeySlot(slot); ok {
		if cat, covered := pack.CategoryCovering(keyID); covered {
			return kwerrors.NewValidationError(kwerrors.ErrCodeSlotNotFound,
				"key "+keyID+" is covered by the "+cat+" category; remove it from the category first").
				WithPack(pack.ID).WithSlot(slot)
		}
	}

	return nil
}

// slotAssetRef builds the manifest-relative destination for an imported
// slot sound. Per-key tokens contain a colon, which is not portable in
// file names, so it is flattened to a dash.
func slotAssetRef(slot, ext string) string {
	safe := strings.ReplaceAll(slot, ":", "-")
	return path.Join(manifest.SoundsDir, "keydown-"+safe+ext)
}

// refUsedElsewhere reports whether ref is still referenced by any slot
// other than the one being rewritten.
func refUsedElsewhere(pack *manifest.Manifest, slot, ref string) bool {
	if pack.Defaults.Keydown == ref && slot != manifest.SlotDefault {
		return true
	}
	for keyID, ks := range pack.KeyOverrides {
		if ks.Keydown == ref && manifest.KeySlot(keyID) != slot && !fixedSlotForKey(keyID, slot) {
			return true
		}
	}
	ownCategory, _ := manifest.CategoryForSlot(slot)
	for _, cat := range pack.CategoryOverrides {
		if cat.Keydown == ref && cat.Name != ownCategory {
			return true
		}
	}
	return false
}

// fixedSlotForKey reports whether slot is the fixed slot addressing the
// key override for keyID.
func fixedSlotForKey(keyID, slot string) bool {
	return (keyID == "Space" && slot == manifest.SlotSpace) ||
		(keyID == "Return" && slot == manifest.SlotEnter)
}

// copyInto copies src to dst through a temp file in the destination
// directory, creating the directory if needed.
func copyInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}

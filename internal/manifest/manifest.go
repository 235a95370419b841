// Package manifest provides the typed representation of a sound pack's
// pack.json with loading, validation, and atomic persistence.
//
// A pack directory contains pack.json plus a sounds/ directory with the
// audio assets it references. Asset references inside the manifest are
// slash-separated paths relative to the pack directory. Category overrides
// keep their JSON declaration order because the first declared category
// containing a key wins during resolution.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/conneroisu/keywave/internal/kwerrors"
)

// FileName is the manifest file name inside every pack directory.
const FileName = "pack.json"

// SourceUser marks a user-created pack; bundled packs leave source empty.
const SourceUser = "user"

// DefaultPackID is the reserved id of the immutable bundled pack that is
// always present and always a valid activation fallback.
const DefaultPackID = "default"

// SoundsDir is the directory inside a pack holding its audio assets.
const SoundsDir = "sounds"

// DefaultKeydownRef is the asset reference every fresh user pack starts
// with; it points at the generated silence placeholder.
const DefaultKeydownRef = "sounds/keydown.wav"

// Manifest is the in-memory form of one pack.json.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`

	// Source is "user" for user-created packs, empty for bundled.
	Source string `json:"source,omitempty"`

	Defaults Defaults `json:"defaults"`

	KeyOverrides map[string]KeySound `json:"key_overrides,omitempty"`

	CategoryOverrides CategoryOverrides `json:"category_overrides,omitempty"`

	// OriginalNames maps slot key to the display filename the user
	// imported, for UI listing only.
	OriginalNames map[string]string `json:"original_names,omitempty"`

	// dir is the pack's base directory; never serialized.
	dir string
}

// Defaults holds the pack-wide fallback sound and volume.
type Defaults struct {
	Keydown string   `json:"keydown"`
	Volume  *float64 `json:"volume,omitempty"`
}

// KeySound is a per-key override. An empty Keydown or nil Volume falls
// back to the pack defaults field-by-field.
type KeySound struct {
	Keydown string   `json:"keydown,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// Info is the projection of a manifest returned by list operations.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
}

// Load reads and parses the manifest in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kwerrors.NewNotFoundError(kwerrors.ErrCodeManifestRead, "no "+FileName+" in "+dir)
		}
		return nil, kwerrors.NewIOError(kwerrors.ErrCodeManifestRead, "reading "+path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, kwerrors.NewIOError(kwerrors.ErrCodeManifestParse, "parsing "+path, err)
	}

	m.dir = dir

	return &m, nil
}

// Save writes the manifest to its pack directory atomically: the JSON is
// written to a temp file and renamed over pack.json so a crash mid-write
// cannot leave a half-written manifest.
func (m *Manifest) Save() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return kwerrors.NewInternalError(kwerrors.ErrCodeManifestWrite, "serializing manifest", err).WithPack(m.ID)
	}
	data = append(data, '\n')

	path := filepath.Join(m.dir, FileName)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "writing "+tmp, err).WithPack(m.ID)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "replacing "+path, err).WithPack(m.ID)
	}

	return nil
}

// Clone returns a deep copy of the manifest. Loaded manifests are shared
// with the playback path, which reads them without locking; anything that
// wants to mutate one must clone it, edit the copy, and publish the copy
// as a new pointer.
func (m *Manifest) Clone() *Manifest {
	c := *m

	if m.Defaults.Volume != nil {
		c.Defaults.Volume = Float(*m.Defaults.Volume)
	}

	if m.KeyOverrides != nil {
		c.KeyOverrides = make(map[string]KeySound, len(m.KeyOverrides))
		for keyID, ks := range m.KeyOverrides {
			if ks.Volume != nil {
				ks.Volume = Float(*ks.Volume)
			}
			c.KeyOverrides[keyID] = ks
		}
	}

	if m.CategoryOverrides != nil {
		c.CategoryOverrides = make(CategoryOverrides, len(m.CategoryOverrides))
		for i, cat := range m.CategoryOverrides {
			cat.Keys = append([]string(nil), cat.Keys...)
			if cat.Volume != nil {
				cat.Volume = Float(*cat.Volume)
			}
			c.CategoryOverrides[i] = cat
		}
	}

	if m.OriginalNames != nil {
		c.OriginalNames = make(map[string]string, len(m.OriginalNames))
		for slot, name := range m.OriginalNames {
			c.OriginalNames[slot] = name
		}
	}

	return &c
}

// Dir returns the pack's base directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// SetDir sets the pack's base directory. Used when constructing a manifest
// that was not loaded from disk.
func (m *Manifest) SetDir(dir string) {
	m.dir = dir
}

// IsUser reports whether the pack is user-created.
func (m *Manifest) IsUser() bool {
	return m.Source == SourceUser
}

// DefaultVolume returns the defaults volume, treating an absent value as
// full volume.
func (m *Manifest) DefaultVolume() float64 {
	if m.Defaults.Volume == nil {
		return 1.0
	}
	return *m.Defaults.Volume
}

// AssetPath resolves a manifest-relative asset reference to an absolute
// file path inside the pack directory.
func (m *Manifest) AssetPath(ref string) string {
	return filepath.Join(m.dir, filepath.FromSlash(ref))
}

// AssetRefs returns the deduplicated, sorted set of asset references the
// manifest mentions anywhere: defaults, key overrides, and category
// overrides. This is the preload set for the pack.
func (m *Manifest) AssetRefs() []string {
	seen := make(map[string]struct{})

	add := func(ref string) {
		if ref != "" {
			seen[ref] = struct{}{}
		}
	}

	add(m.Defaults.Keydown)
	for _, ks := range m.KeyOverrides {
		add(ks.Keydown)
	}
	for _, cat := range m.CategoryOverrides {
		add(cat.Keydown)
	}

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	return refs
}

// Info returns the list projection of the manifest.
func (m *Manifest) Info() Info {
	return Info{
		ID:          m.ID,
		Name:        m.Name,
		Author:      m.Author,
		Description: m.Description,
		Source:      m.Source,
	}
}

// Float returns a pointer to v, for optional volume fields.
func Float(v float64) *float64 {
	return &v
}

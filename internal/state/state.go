// Package state persists the small set of user-facing settings that
// survive restarts: the active pack, the master volume, and whether
// playback is enabled.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/manifest"
)

// FileName is the settings file stored in the data directory.
const FileName = "state.json"

// State is the persisted settings snapshot.
type State struct {
	ActivePackID string  `json:"active_pack_id"`
	MasterVolume float64 `json:"master_volume"`
	Enabled      bool    `json:"enabled"`
}

// Default returns the settings used on first run.
func Default() State {
	return State{
		ActivePackID: manifest.DefaultPackID,
		MasterVolume: 1.0,
		Enabled:      true,
	}
}

// Store reads and writes the settings file.
type Store struct {
	path string
}

// NewStore creates a store over the settings file in dataDir.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName)}
}

// Load reads the persisted settings. A missing or unreadable file yields
// the defaults; settings are never a reason to fail startup. Out-of-range
// values from a hand-edited file are clamped.
func (s *Store) Load() State {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Default()
	}

	st := Default()
	if err := json.Unmarshal(raw, &st); err != nil {
		return Default()
	}

	if st.ActivePackID == "" {
		st.ActivePackID = manifest.DefaultPackID
	}
	if st.MasterVolume < 0 {
		st.MasterVolume = 0
	}
	if st.MasterVolume > 1 {
		st.MasterVolume = 1
	}

	return st
}

// Save writes the settings atomically via a temp file.
func (s *Store) Save(st State) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return kwerrors.NewInternalError(kwerrors.ErrCodeInternalError, "encode settings", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "create data dir", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "write settings", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "publish settings", err)
	}

	return nil
}

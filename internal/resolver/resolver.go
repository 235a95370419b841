// Package resolver implements the key-to-sound resolution hierarchy.
//
// Resolution is a pure function over a manifest and never fails: whatever
// the manifest contains, every key resolves to an asset reference and a
// volume. A key override always beats a category override covering the
// same key; categories are consulted in manifest declaration order; the
// pack defaults catch everything else. Whether the resolved asset actually
// has a decoded buffer is the engine's concern, not the resolver's.
package resolver

import (
	"math"

	"github.com/conneroisu/keywave/internal/manifest"
)

// MinGainDB is the playback gain floor substituted for a zero volume,
// where the logarithm is undefined.
const MinGainDB = -60.0

// Resolution is the outcome of resolving one key against one pack.
type Resolution struct {
	// AssetRef is the manifest-relative asset reference. Empty only for a
	// nil or assetless manifest; an empty or unloadable reference plays as
	// silence.
	AssetRef string
	// Volume is the pack-level volume in [0, 1] before master compositing.
	Volume float64
}

// Resolve maps a key identifier to the pack's asset and volume.
func Resolve(m *manifest.Manifest, keyID string) Resolution {
	if m == nil {
		return Resolution{Volume: 1.0}
	}

	res := Resolution{
		AssetRef: m.Defaults.Keydown,
		Volume:   m.DefaultVolume(),
	}

	// Key override wins outright, with per-field fallback to defaults.
	if ks, ok := m.KeyOverrides[keyID]; ok {
		if ks.Keydown != "" {
			res.AssetRef = ks.Keydown
		}
		if ks.Volume != nil {
			res.Volume = *ks.Volume
		}
		return res
	}

	// First declared category containing the key. Categories are disjoint
	// by convention; declaration order settles authoring mistakes.
	for _, cat := range m.CategoryOverrides {
		if !containsKey(cat.Keys, keyID) {
			continue
		}
		if cat.Keydown != "" {
			res.AssetRef = cat.Keydown
		}
		if cat.Volume != nil {
			res.Volume = *cat.Volume
		}
		return res
	}

	return res
}

func containsKey(keys []string, keyID string) bool {
	for _, k := range keys {
		if k == keyID {
			return true
		}
	}
	return false
}

// ComposeVolume combines the master volume with a resolved pack volume,
// clamped to [0, 1].
func ComposeVolume(master, resolved float64) float64 {
	v := master * resolved
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GainDB converts a composed linear volume to a logarithmic playback gain
// in decibels. A volume of zero reports silent with the gain floor instead
// of negative infinity.
func GainDB(volume float64) (db float64, silent bool) {
	if volume <= 0 || math.IsNaN(volume) {
		return MinGainDB, true
	}
	if volume > 1 {
		volume = 1
	}

	return 20 * math.Log10(volume), false
}

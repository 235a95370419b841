package manifest

import (
	"path"
	"sort"
	"strings"
)

// Slot keys addressable from the UI. The five fixed slots map onto
// well-known manifest entries; everything else is a per-key token of the
// form "key:<KeyId>" mapping onto key_overrides directly.
const (
	SlotDefault   = "default"
	SlotSpace     = "space"
	SlotEnter     = "enter"
	SlotModifier  = "modifier"
	SlotBackspace = "backspace"

	keySlotPrefix = "key:"
)

// Manifest entries the fixed slots address.
const (
	spaceKeyID        = "Space"
	enterKeyID        = "Return"
	modifierCategory  = "modifiers"
	backspaceCategory = "delete"
)

// FixedSlots lists the fixed slot keys in display order.
var FixedSlots = []string{SlotDefault, SlotSpace, SlotEnter, SlotModifier, SlotBackspace}

// SlotInfo describes one addressable slot for UI listing.
type SlotInfo struct {
	Slot     string `json:"slot"`
	Label    string `json:"label"`
	FileName string `json:"file_name,omitempty"`
}

// KeySlot builds the per-key slot token for a key identifier.
func KeySlot(keyID string) string {
	return keySlotPrefix + keyID
}

// ParseKeySlot extracts the key identifier from a per-key slot token.
func ParseKeySlot(slot string) (string, bool) {
	keyID, ok := strings.CutPrefix(slot, keySlotPrefix)
	if !ok || keyID == "" {
		return "", false
	}
	return keyID, true
}

// ValidSlot reports whether slot is a fixed slot or a per-key token.
func ValidSlot(slot string) bool {
	for _, s := range FixedSlots {
		if slot == s {
			return true
		}
	}
	_, ok := ParseKeySlot(slot)
	return ok
}

// modifierSeedKeys is the key set a fresh "modifiers" category starts with.
var modifierSeedKeys = []string{
	"ShiftLeft", "ShiftRight",
	"ControlLeft", "ControlRight",
	"Alt", "AltGr",
	"MetaLeft", "MetaRight",
}

// backspaceSeedKeys is the key set a fresh "delete" category starts with.
var backspaceSeedKeys = []string{"Backspace", "Delete"}

// SlotPath returns the asset reference currently assigned to slot.
func (m *Manifest) SlotPath(slot string) (string, bool) {
	switch slot {
	case SlotDefault:
		return m.Defaults.Keydown, m.Defaults.Keydown != ""
	case SlotSpace:
		return m.keyOverridePath(spaceKeyID)
	case SlotEnter:
		return m.keyOverridePath(enterKeyID)
	case SlotModifier:
		return m.categoryPath(modifierCategory)
	case SlotBackspace:
		return m.categoryPath(backspaceCategory)
	}

	if keyID, ok := ParseKeySlot(slot); ok {
		return m.keyOverridePath(keyID)
	}

	return "", false
}

func (m *Manifest) keyOverridePath(keyID string) (string, bool) {
	ks, ok := m.KeyOverrides[keyID]
	if !ok || ks.Keydown == "" {
		return "", false
	}
	return ks.Keydown, true
}

func (m *Manifest) categoryPath(name string) (string, bool) {
	cat, ok := m.CategoryOverrides.Get(name)
	if !ok || cat.Keydown == "" {
		return "", false
	}
	return cat.Keydown, true
}

// SetSlot assigns an asset reference to a slot, creating the backing
// override with its seed values when it does not exist yet.
func (m *Manifest) SetSlot(slot, ref string) {
	switch slot {
	case SlotDefault:
		m.Defaults.Keydown = ref
		return
	case SlotSpace:
		m.setKeyOverride(spaceKeyID, ref)
		return
	case SlotEnter:
		m.setKeyOverride(enterKeyID, ref)
		return
	case SlotModifier:
		m.setCategory(modifierCategory, modifierSeedKeys, Float(0.6), ref)
		return
	case SlotBackspace:
		m.setCategory(backspaceCategory, backspaceSeedKeys, nil, ref)
		return
	}

	if keyID, ok := ParseKeySlot(slot); ok {
		m.setKeyOverride(keyID, ref)
	}
}

func (m *Manifest) setKeyOverride(keyID, ref string) {
	if m.KeyOverrides == nil {
		m.KeyOverrides = make(map[string]KeySound)
	}

	ks, ok := m.KeyOverrides[keyID]
	if !ok {
		ks = KeySound{Volume: Float(1.0)}
	}
	ks.Keydown = ref
	m.KeyOverrides[keyID] = ks
}

func (m *Manifest) setCategory(name string, seedKeys []string, seedVolume *float64, ref string) {
	cat, ok := m.CategoryOverrides.Get(name)
	if !ok {
		m.CategoryOverrides.Set(CategoryOverride{
			Name:    name,
			Keys:    append([]string(nil), seedKeys...),
			Keydown: ref,
			Volume:  seedVolume,
		})
		return
	}
	cat.Keydown = ref
}

// ClearSlot removes the override a slot addresses so resolution falls
// through the hierarchy. The default slot is not clearable here; removing
// it is a reset to the silence placeholder handled by the pack lifecycle.
func (m *Manifest) ClearSlot(slot string) {
	switch slot {
	case SlotDefault:
		return
	case SlotSpace:
		delete(m.KeyOverrides, spaceKeyID)
		return
	case SlotEnter:
		delete(m.KeyOverrides, enterKeyID)
		return
	case SlotModifier:
		m.CategoryOverrides.Remove(modifierCategory)
		return
	case SlotBackspace:
		m.CategoryOverrides.Remove(backspaceCategory)
		return
	}

	if keyID, ok := ParseKeySlot(slot); ok {
		delete(m.KeyOverrides, keyID)
	}
}

// CategoryForSlot returns the category name a fixed slot addresses, for
// the two slots backed by categories.
func CategoryForSlot(slot string) (string, bool) {
	switch slot {
	case SlotModifier:
		return modifierCategory, true
	case SlotBackspace:
		return backspaceCategory, true
	}
	return "", false
}

// CategoryCovering returns the first declared category containing keyID.
func (m *Manifest) CategoryCovering(keyID string) (string, bool) {
	return m.CategoryOverrides.Covering(keyID)
}

// Slots lists all addressable slots: the five fixed slots in display
// order, then per-key slots sorted by key id. Space and Return key
// overrides are suppressed from the per-key section because the fixed
// space/enter slots already address them. The default slot reports no
// filename while it still holds the untouched silence placeholder.
func (m *Manifest) Slots() []SlotInfo {
	labels := map[string]string{
		SlotDefault:   "Default Key",
		SlotSpace:     "Space",
		SlotEnter:     "Enter",
		SlotModifier:  "Modifiers",
		SlotBackspace: "Backspace / Delete",
	}

	result := make([]SlotInfo, 0, len(FixedSlots)+len(m.KeyOverrides))

	for _, slot := range FixedSlots {
		result = append(result, SlotInfo{
			Slot:     slot,
			Label:    labels[slot],
			FileName: m.slotFileName(slot),
		})
	}

	perKey := make([]string, 0, len(m.KeyOverrides))
	for keyID := range m.KeyOverrides {
		if keyID == spaceKeyID || keyID == enterKeyID {
			continue
		}
		perKey = append(perKey, keyID)
	}
	sort.Strings(perKey)

	for _, keyID := range perKey {
		slot := KeySlot(keyID)
		result = append(result, SlotInfo{
			Slot:     slot,
			Label:    keyID,
			FileName: m.slotFileName(slot),
		})
	}

	return result
}

func (m *Manifest) slotFileName(slot string) string {
	if name, ok := m.OriginalNames[slot]; ok {
		return name
	}

	ref, ok := m.SlotPath(slot)
	if !ok {
		return ""
	}

	// An untouched silence placeholder has no user-supplied name to show.
	if slot == SlotDefault && ref == DefaultKeydownRef {
		return ""
	}

	return path.Base(ref)
}

// Package registry discovers and indexes sound packs on disk.
//
// Packs live under two roots: a bundled root that ships with the
// application and a user root for packs the user created or imported. The
// registry scans both, keeps the parsed manifests in memory, and
// broadcasts a change event to watchers whenever a rescan alters the set.
package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
)

// EventType represents the type of pack event.
type EventType int

const (
	EventTypeReloaded EventType = iota
	EventTypeAdded
	EventTypeUpdated
	EventTypeRemoved
)

// PackEvent represents a change in the pack registry.
type PackEvent struct {
	Type      EventType
	PackID    string
	Timestamp time.Time
}

// Roots names the two directories packs are discovered in.
type Roots struct {
	Bundled string
	User    string
}

// PackRegistry manages all discovered sound packs.
type PackRegistry struct {
	log   logging.Logger
	roots Roots

	mutex    sync.RWMutex
	packs    map[string]*manifest.Manifest
	order    []string
	watchers []chan PackEvent
}

// New creates an empty registry over the given roots.
func New(roots Roots, log logging.Logger) *PackRegistry {
	return &PackRegistry{
		log:   log.WithComponent("registry"),
		roots: roots,
		packs: make(map[string]*manifest.Manifest),
	}
}

// Roots returns the configured pack roots.
func (r *PackRegistry) Roots() Roots {
	return r.roots
}

// UserPackDir returns the directory a user pack with the given id lives
// in (or would live in).
func (r *PackRegistry) UserPackDir(id string) string {
	return filepath.Join(r.roots.User, id)
}

// Load scans both roots and replaces the in-memory index. Directories
// whose manifest is missing or malformed are skipped with a diagnostic;
// one broken pack never hides the rest. Watchers receive a reload event.
func (r *PackRegistry) Load(ctx context.Context) error {
	packs := make(map[string]*manifest.Manifest)

	r.scanRoot(ctx, r.roots.Bundled, packs)
	r.scanRoot(ctx, r.roots.User, packs)

	order := sortedIDs(packs)

	r.mutex.Lock()
	r.packs = packs
	r.order = order
	r.mutex.Unlock()

	r.log.Info(ctx, "pack index loaded", "packs", len(packs))
	r.notify(PackEvent{Type: EventTypeReloaded, Timestamp: time.Now()})

	return nil
}

// scanRoot reads every direct subdirectory of root as a pack candidate.
// When both roots contain the same id, the later scan wins; user packs
// therefore shadow bundled packs of the same id.
func (r *PackRegistry) scanRoot(ctx context.Context, root string, packs map[string]*manifest.Manifest) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn(ctx, err, "cannot read pack root", "root", root)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		m, err := manifest.Load(dir)
		if err != nil {
			r.log.Warn(ctx, err, "skipping unreadable pack", "dir", dir)
			continue
		}

		if m.ID == "" {
			m.ID = entry.Name()
		}

		// The default pack lives in the bundled root and is never
		// editable; a user directory claiming its id would shadow it.
		if root == r.roots.User && m.ID == manifest.DefaultPackID {
			r.log.Warn(ctx, nil, "skipping user pack with reserved id",
				"dir", dir, "id", m.ID)
			continue
		}

		packs[m.ID] = m
	}
}

// sortedIDs orders packs for listing: the default pack first, then user
// packs alphabetically by display name, then bundled packs alphabetically
// by display name.
func sortedIDs(packs map[string]*manifest.Manifest) []string {
	var def, user, bundled []string
	for id, m := range packs {
		switch {
		case id == manifest.DefaultPackID:
			def = append(def, id)
		case m.IsUser():
			user = append(user, id)
		default:
			bundled = append(bundled, id)
		}
	}

	byName := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			return packs[ids[i]].Name < packs[ids[j]].Name
		})
	}
	byName(user)
	byName(bundled)

	order := make([]string, 0, len(packs))
	order = append(order, def...)
	order = append(order, user...)
	order = append(order, bundled...)
	return order
}

// Get retrieves a pack by id.
func (r *PackRegistry) Get(id string) (*manifest.Manifest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, exists := r.packs[id]
	if !exists {
		return nil, kwerrors.ErrPackNotFound(id)
	}
	return m, nil
}

// List returns pack summaries in display order.
func (r *PackRegistry) List() []manifest.Info {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	infos := make([]manifest.Info, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.packs[id].Info())
	}
	return infos
}

// Count returns the number of indexed packs.
func (r *PackRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.packs)
}

// Put inserts or replaces a single pack without a full rescan. Lifecycle
// operations use it to publish a freshly persisted manifest immediately.
func (r *PackRegistry) Put(m *manifest.Manifest) {
	r.mutex.Lock()

	eventType := EventTypeAdded
	if _, exists := r.packs[m.ID]; exists {
		eventType = EventTypeUpdated
	}

	r.packs[m.ID] = m
	r.order = sortedIDs(r.packs)
	r.mutex.Unlock()

	r.notify(PackEvent{Type: eventType, PackID: m.ID, Timestamp: time.Now()})
}

// Remove drops a pack from the index.
func (r *PackRegistry) Remove(id string) {
	r.mutex.Lock()

	if _, exists := r.packs[id]; !exists {
		r.mutex.Unlock()
		return
	}

	delete(r.packs, id)
	r.order = sortedIDs(r.packs)
	r.mutex.Unlock()

	r.notify(PackEvent{Type: EventTypeRemoved, PackID: id, Timestamp: time.Now()})
}

// Watch returns a channel that receives pack events.
func (r *PackRegistry) Watch() <-chan PackEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan PackEvent, 16)
	r.watchers = append(r.watchers, ch)
	return ch
}

// Unwatch removes a watcher channel and closes it.
func (r *PackRegistry) Unwatch(ch <-chan PackEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if (<-chan PackEvent)(watcher) == ch {
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			close(watcher)
			return
		}
	}
}

// notify fans an event out to all watchers without blocking. A watcher
// that has stopped draining its channel misses events rather than
// stalling the registry.
func (r *PackRegistry) notify(event PackEvent) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}

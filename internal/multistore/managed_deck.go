package multistore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/decksync/internal/store"
	decksync "github.com/hyperengineering/decksync/internal/sync"
)

// ManagedDeck is one user's deck opened by the server: its store, the sync
// engine over it and its metadata.
type ManagedDeck struct {
	User     string
	Name     string
	Store    *store.SQLiteStore
	Engine   *decksync.Engine
	Meta     *DeckMeta
	BasePath string

	mu        sync.Mutex
	metaDirty bool

	// syncMu serializes sync verbs on this deck.
	syncMu sync.Mutex
}

// NewManagedDeck opens the deck in basePath.
func NewManagedDeck(user, name, basePath string, opts ...decksync.EngineOption) (*ManagedDeck, error) {
	meta, err := LoadDeckMeta(filepath.Join(basePath, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("load deck metadata: %w", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(basePath, DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("open deck database: %w", err)
	}

	return &ManagedDeck{
		User:     user,
		Name:     name,
		Store:    s,
		Engine:   decksync.NewEngine(s, opts...),
		Meta:     meta,
		BasePath: basePath,
	}, nil
}

// Key returns "user/name".
func (d *ManagedDeck) Key() string {
	return d.User + "/" + d.Name
}

// Lock acquires the deck's sync lock. Every sync verb runs under it.
func (d *ManagedDeck) Lock() {
	d.syncMu.Lock()
}

// Unlock releases the deck's sync lock.
func (d *ManagedDeck) Unlock() {
	d.syncMu.Unlock()
}

// TouchAccessed updates the last_accessed timestamp in memory.
func (d *ManagedDeck) TouchAccessed() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Meta.LastAccessed = time.Now().UTC()
	d.metaDirty = true
}

// FlushMeta saves metadata to disk if dirty.
func (d *ManagedDeck) FlushMeta() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.metaDirty {
		return nil
	}
	if err := SaveDeckMeta(filepath.Join(d.BasePath, MetaFile), d.Meta); err != nil {
		return err
	}
	d.metaDirty = false
	return nil
}

// Close flushes metadata and closes the deck database.
func (d *ManagedDeck) Close() error {
	if err := d.FlushMeta(); err != nil {
		slog.Warn("failed to flush deck metadata", "deck", d.Key(), "error", err)
	}
	return d.Store.Close()
}

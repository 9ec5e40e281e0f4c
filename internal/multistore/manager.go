// Package multistore manages the server's decks: one SQLite database per
// user and deck name, opened lazily and kept open.
package multistore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	decksync "github.com/hyperengineering/decksync/internal/sync"
)

// DeckManager manages decks under a root directory laid out as
// <root>/<user>/<deck>/{deck.db,meta.yaml}.
type DeckManager struct {
	rootPath   string
	engineOpts []decksync.EngineOption

	mu    sync.RWMutex
	decks map[string]*ManagedDeck
}

// NewDeckManager creates a manager with the given root path, creating the
// directory if needed. engineOpts configure the sync engine of every deck.
func NewDeckManager(rootPath string, engineOpts ...decksync.EngineOption) (*DeckManager, error) {
	if strings.HasPrefix(rootPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		rootPath = filepath.Join(home, rootPath[2:])
	}

	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create decks root directory: %w", err)
	}

	return &DeckManager{
		rootPath:   rootPath,
		engineOpts: engineOpts,
		decks:      make(map[string]*ManagedDeck),
	}, nil
}

// RootPath returns the directory holding all decks.
func (m *DeckManager) RootPath() string {
	return m.rootPath
}

func validateKey(user, name string) error {
	if err := ValidateUser(user); err != nil {
		return err
	}
	return ValidateDeckName(name)
}

// GetDeck returns the named deck of user, opening it if necessary.
// Returns ErrDeckNotFound if it does not exist.
func (m *DeckManager) GetDeck(ctx context.Context, user, name string) (*ManagedDeck, error) {
	if err := validateKey(user, name); err != nil {
		return nil, err
	}
	key := user + "/" + name

	m.mu.RLock()
	if d, ok := m.decks[key]; ok {
		m.mu.RUnlock()
		d.TouchAccessed()
		return d, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.decks[key]; ok {
		d.TouchAccessed()
		return d, nil
	}

	path := m.deckPath(user, name)
	if _, err := os.Stat(filepath.Join(path, MetaFile)); errors.Is(err, os.ErrNotExist) {
		return nil, ErrDeckNotFound
	}

	d, err := NewManagedDeck(user, name, path, m.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("load deck %q: %w", key, err)
	}
	m.decks[key] = d

	slog.Info("deck loaded",
		"component", "multistore",
		"action", "deck_loaded",
		"deck", key,
	)

	d.TouchAccessed()
	return d, nil
}

// CreateDeck creates an empty deck. Returns ErrDeckExists if it exists.
func (m *DeckManager) CreateDeck(ctx context.Context, user, name, description string) (*ManagedDeck, error) {
	if err := validateKey(user, name); err != nil {
		return nil, err
	}
	key := user + "/" + name

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.deckPath(user, name)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrDeckExists
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create deck directory: %w", err)
	}
	if err := SaveDeckMeta(filepath.Join(path, MetaFile), NewDeckMeta(description)); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("write deck metadata: %w", err)
	}

	d, err := NewManagedDeck(user, name, path, m.engineOpts...)
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("load new deck %q: %w", key, err)
	}
	m.decks[key] = d

	slog.Info("deck created",
		"component", "multistore",
		"action", "deck_created",
		"deck", key,
	)
	return d, nil
}

// DeleteDeck closes and removes a deck. Returns ErrDeckNotFound if it does
// not exist.
func (m *DeckManager) DeleteDeck(ctx context.Context, user, name string) error {
	if err := validateKey(user, name); err != nil {
		return err
	}
	key := user + "/" + name

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.deckPath(user, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ErrDeckNotFound
	}

	if d, ok := m.decks[key]; ok {
		d.Lock()
		if err := d.Close(); err != nil {
			slog.Warn("error closing deck before deletion", "deck", key, "error", err)
		}
		d.Unlock()
		delete(m.decks, key)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove deck directory: %w", err)
	}

	slog.Info("deck deleted",
		"component", "multistore",
		"action", "deck_deleted",
		"deck", key,
	)
	return nil
}

// ListDecks returns information about every deck of user, sorted by name.
// Decks are opened to read their sync times.
func (m *DeckManager) ListDecks(ctx context.Context, user string) ([]DeckInfo, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(m.rootPath, user))
	if errors.Is(err, os.ErrNotExist) {
		return []DeckInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}

	result := []DeckInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || ValidateDeckName(entry.Name()) != nil {
			continue
		}
		info, err := m.deckInfo(ctx, user, entry.Name())
		if errors.Is(err, ErrDeckNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("error reading deck", "deck", user+"/"+entry.Name(), "error", err)
			continue
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ListAll returns information about every deck of every user.
func (m *DeckManager) ListAll(ctx context.Context) ([]DeckInfo, error) {
	entries, err := os.ReadDir(m.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read decks directory: %w", err)
	}

	var result []DeckInfo
	for _, entry := range entries {
		if !entry.IsDir() || ValidateUser(entry.Name()) != nil {
			continue
		}
		decks, err := m.ListDecks(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		result = append(result, decks...)
	}
	return result, nil
}

func (m *DeckManager) deckInfo(ctx context.Context, user, name string) (DeckInfo, error) {
	d, err := m.GetDeck(ctx, user, name)
	if err != nil {
		return DeckInfo{}, err
	}

	d.Lock()
	info, err := d.Store.Info(ctx)
	d.Unlock()
	if err != nil {
		return DeckInfo{}, err
	}

	var size int64
	if st, err := os.Stat(filepath.Join(d.BasePath, DatabaseFile)); err == nil {
		size = st.Size()
	}

	d.mu.Lock()
	meta := *d.Meta
	d.mu.Unlock()

	return DeckInfo{
		User:         user,
		Name:         name,
		Created:      meta.Created,
		LastAccessed: meta.LastAccessed,
		Description:  meta.Description,
		SizeBytes:    size,
		Modified:     info.Modified,
		LastSync:     info.LastSync,
	}, nil
}

// Loaded returns the decks currently open.
func (m *DeckManager) Loaded() []*ManagedDeck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ManagedDeck, 0, len(m.decks))
	for _, d := range m.decks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// FlushMeta writes the metadata of every open deck.
func (m *DeckManager) FlushMeta() {
	for _, d := range m.Loaded() {
		if err := d.FlushMeta(); err != nil {
			slog.Warn("failed to flush deck metadata", "deck", d.Key(), "error", err)
		}
	}
}

func (m *DeckManager) deckPath(user, name string) string {
	return filepath.Join(m.rootPath, user, name)
}

// Close closes all open decks.
func (m *DeckManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for key, d := range m.decks {
		if err := d.Close(); err != nil {
			slog.Error("error closing deck", "deck", key, "error", err)
			lastErr = err
		}
	}
	m.decks = make(map[string]*ManagedDeck)
	return lastErr
}

// Package worker runs the sync server's background jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/snapshot"
)

// DeckEnumerator provides access to every deck the server holds.
type DeckEnumerator interface {
	ListAll(ctx context.Context) ([]multistore.DeckInfo, error)
	OpenDeck(ctx context.Context, user, name string) (BackupCapableDeck, error)
}

// BackupCapableDeck writes a consistent copy of itself to a file.
type BackupCapableDeck interface {
	Backup(ctx context.Context, destPath string) error
}

// DeckManagerAdapter adapts multistore.DeckManager to DeckEnumerator.
type DeckManagerAdapter struct {
	manager *multistore.DeckManager
}

// NewDeckManagerAdapter creates an adapter for the given DeckManager.
func NewDeckManagerAdapter(manager *multistore.DeckManager) *DeckManagerAdapter {
	return &DeckManagerAdapter{manager: manager}
}

// ListAll returns every deck of every user.
func (a *DeckManagerAdapter) ListAll(ctx context.Context) ([]multistore.DeckInfo, error) {
	return a.manager.ListAll(ctx)
}

// OpenDeck returns the deck, backed up under its sync lock.
func (a *DeckManagerAdapter) OpenDeck(ctx context.Context, user, name string) (BackupCapableDeck, error) {
	d, err := a.manager.GetDeck(ctx, user, name)
	if err != nil {
		return nil, err
	}
	return lockedDeck{d}, nil
}

type lockedDeck struct {
	d *multistore.ManagedDeck
}

func (l lockedDeck) Backup(ctx context.Context, destPath string) error {
	l.d.Lock()
	defer l.d.Unlock()
	return l.d.Store.Backup(ctx, destPath)
}

// BackupCoordinator periodically backs up every deck to a local directory
// and uploads each backup.
type BackupCoordinator struct {
	decks    DeckEnumerator
	dir      string
	uploader snapshot.Uploader
	interval time.Duration
}

// NewBackupCoordinator creates a coordinator writing backups under dir as
// <user>/<deck>.db. A nil uploader keeps backups local.
func NewBackupCoordinator(decks DeckEnumerator, dir string, interval time.Duration, uploader snapshot.Uploader) *BackupCoordinator {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	return &BackupCoordinator{
		decks:    decks,
		dir:      dir,
		uploader: uploader,
		interval: interval,
	}
}

// Run backs up all decks immediately and then on every interval until ctx
// is cancelled.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.BackupAll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.BackupAll(ctx)
		}
	}
}

// BackupAll backs up every deck once. A failing deck does not stop the
// others. It returns the number of decks backed up and failed.
func (c *BackupCoordinator) BackupAll(ctx context.Context) (succeeded, failed int) {
	decks, err := c.decks.ListAll(ctx)
	if err != nil {
		slog.Error("failed to list decks for backup",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "list_decks_failed",
			"error", err,
		)
		return 0, 0
	}

	for _, info := range decks {
		if ctx.Err() != nil {
			return succeeded, failed
		}
		if err := c.backupDeck(ctx, info.User, info.Name); err != nil {
			if ctx.Err() != nil {
				return succeeded, failed
			}
			slog.Warn("deck backup failed",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "backup_failed",
				"deck", info.User+"/"+info.Name,
				"error", err,
			)
			failed++
			continue
		}
		succeeded++
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("backup cycle completed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "cycle_complete",
			"total", len(decks),
			"succeeded", succeeded,
			"failed", failed,
		)
	}
	return succeeded, failed
}

// BackupPath returns where the local backup of a deck is written.
func (c *BackupCoordinator) BackupPath(user, name string) string {
	return filepath.Join(c.dir, user, name+".db")
}

func (c *BackupCoordinator) backupDeck(ctx context.Context, user, name string) error {
	d, err := c.decks.OpenDeck(ctx, user, name)
	if err != nil {
		return fmt.Errorf("open deck: %w", err)
	}

	path := c.BackupPath(user, name)
	if err := d.Backup(ctx, path); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	// Upload failures are logged; the local backup remains valid.
	key := user + "/" + name
	if err := c.uploader.Upload(ctx, key, path); err != nil {
		slog.Warn("backup upload failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_upload_failed",
			"deck", key,
			"error", err,
		)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/decksync/internal/types"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements Repository over either the database or one transaction.
type repo struct {
	db  *sql.DB
	tx  *sql.Tx
	now func() float64
}

func (r *repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// SQLiteStore is a deck replica persisted in one SQLite database file.
type SQLiteStore struct {
	*repo
	path string
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces the wall clock used for modification and deletion
// times. Times are float epoch seconds.
func WithClock(now func() float64) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// Now returns the current time as float epoch seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// NewSQLiteStore opens (creating if needed) the deck database at dbPath.
// It initializes the database with WAL mode, applies pragmas, runs
// migrations and seeds the deck row.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if _, err := RunMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{repo: &repo{db: db, now: Now}, path: dbPath}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.seed(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed deck: %w", err)
	}

	return s, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// seed creates the deck row and the global stats row of a new database.
func (s *SQLiteStore) seed(ctx context.Context) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deck (id, created, modified) VALUES (1, ?, ?)
	`, now, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stats (type, day) VALUES (0, ?)
	`, types.DayOf(now, 0))
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the database to destPath.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(destPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// Info returns entity counts and sync times for the deck.
func (s *SQLiteStore) Info(ctx context.Context) (*types.DeckInfo, error) {
	var info types.DeckInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM models),
			(SELECT COUNT(*) FROM facts),
			(SELECT COUNT(*) FROM cards),
			modified, last_sync
		FROM deck WHERE id = 1
	`).Scan(&info.Models, &info.Facts, &info.Cards, &info.Modified, &info.LastSync)
	if err != nil {
		return nil, fmt.Errorf("query deck info: %w", err)
	}
	return &info, nil
}

// WithTx runs fn inside a transaction. Nested calls join the outer one.
func (r *repo) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{db: r.db, tx: tx, now: r.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// inTx is WithTx for callers that need the concrete repo.
func (r *repo) inTx(ctx context.Context, fn func(*repo) error) error {
	return r.WithTx(ctx, func(tr Repository) error {
		return fn(tr.(*repo))
	})
}

// Flush is a no-op: every write goes straight to the database.
func (r *repo) Flush(ctx context.Context) error {
	return nil
}

const deckColumns = `created, modified, description, new_card_order, low_priority, med_priority,
	high_priority, current_model_id, utc_offset, session_limit`

// Deck returns the deck-level fields.
func (r *repo) Deck(ctx context.Context) (*types.DeckFields, error) {
	var d types.DeckFields
	err := r.q().QueryRowContext(ctx, `SELECT `+deckColumns+` FROM deck WHERE id = 1`).Scan(
		&d.Created, &d.Modified, &d.Description, &d.NewCardOrder, &d.LowPriority, &d.MedPriority,
		&d.HighPriority, &d.CurrentModelID, &d.UTCOffset, &d.SessionLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deck: %w", err)
	}
	return &d, nil
}

// UpdateDeck overwrites every deck-level field. lastSync is untouched.
func (r *repo) UpdateDeck(ctx context.Context, d types.DeckFields) error {
	_, err := r.q().ExecContext(ctx, `
		UPDATE deck SET created = ?, modified = ?, description = ?, new_card_order = ?,
			low_priority = ?, med_priority = ?, high_priority = ?, current_model_id = ?,
			utc_offset = ?, session_limit = ?
		WHERE id = 1
	`, d.Created, d.Modified, d.Description, d.NewCardOrder, d.LowPriority, d.MedPriority,
		d.HighPriority, d.CurrentModelID, d.UTCOffset, d.SessionLimit)
	if err != nil {
		return fmt.Errorf("update deck: %w", err)
	}
	return nil
}

// Modified returns the deck's modification time.
func (r *repo) Modified(ctx context.Context) (float64, error) {
	var t float64
	if err := r.q().QueryRowContext(ctx, `SELECT modified FROM deck WHERE id = 1`).Scan(&t); err != nil {
		return 0, fmt.Errorf("query deck modified: %w", err)
	}
	return t, nil
}

// LastSync returns the time of the last completed sync.
func (r *repo) LastSync(ctx context.Context) (float64, error) {
	var t float64
	if err := r.q().QueryRowContext(ctx, `SELECT last_sync FROM deck WHERE id = 1`).Scan(&t); err != nil {
		return 0, fmt.Errorf("query deck last sync: %w", err)
	}
	return t, nil
}

// SetLastSync records the time of the last completed sync.
func (r *repo) SetLastSync(ctx context.Context, t float64) error {
	if _, err := r.q().ExecContext(ctx, `UPDATE deck SET last_sync = ? WHERE id = 1`, t); err != nil {
		return fmt.Errorf("update deck last sync: %w", err)
	}
	return nil
}

// touch marks the deck as locally modified.
func (r *repo) touch(ctx context.Context, t float64) error {
	if _, err := r.q().ExecContext(ctx, `UPDATE deck SET modified = ? WHERE id = 1`, t); err != nil {
		return fmt.Errorf("touch deck: %w", err)
	}
	return nil
}

// RefreshCurrentModel re-points the current model at the oldest remaining
// model when the current one no longer exists. The deck's modified time
// is not changed.
func (r *repo) RefreshCurrentModel(ctx context.Context) (int64, error) {
	var current int64
	var exists bool
	err := r.q().QueryRowContext(ctx, `
		SELECT current_model_id, EXISTS (SELECT 1 FROM models WHERE id = deck.current_model_id)
		FROM deck WHERE id = 1
	`).Scan(&current, &exists)
	if err != nil {
		return 0, fmt.Errorf("query current model: %w", err)
	}
	if exists {
		return current, nil
	}

	var next int64
	err = r.q().QueryRowContext(ctx, `SELECT id FROM models ORDER BY created, id LIMIT 1`).Scan(&next)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query first model: %w", err)
	}
	if next != current {
		if _, err := r.q().ExecContext(ctx, `UPDATE deck SET current_model_id = ? WHERE id = 1`, next); err != nil {
			return 0, fmt.Errorf("update current model: %w", err)
		}
	}
	return next, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// maxBatch bounds the number of bound parameters in one IN clause.
const maxBatch = 500

// chunks splits ids into slices of at most maxBatch elements.
func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > maxBatch {
		out = append(out, ids[:maxBatch])
		ids = ids[maxBatch:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// queryIDs runs a query returning a single integer column, chunked over ids
// bound to the single %s placeholder list in query.
func (r *repo) queryIDs(ctx context.Context, query string, ids []int64) ([]int64, error) {
	var out []int64
	for _, chunk := range chunks(ids) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// execIDs runs an exec statement chunked over ids.
func (r *repo) execIDs(ctx context.Context, query string, ids []int64) error {
	for _, chunk := range chunks(ids) {
		if _, err := r.q().ExecContext(ctx, fmt.Sprintf(query, placeholders(len(chunk))), int64Args(chunk)...); err != nil {
			return err
		}
	}
	return nil
}

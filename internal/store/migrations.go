package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hyperengineering/decksync/migrations"
	"github.com/pressly/goose/v3"
)

var (
	gooseOnce sync.Once
	gooseErr  error
	// gooseMu guards goose's package-level state while a deck is migrated.
	gooseMu sync.Mutex
)

func setupGoose() error {
	gooseOnce.Do(func() {
		goose.SetLogger(goose.NopLogger())
		goose.SetBaseFS(migrations.FS)
		gooseErr = goose.SetDialect("sqlite")
	})
	return gooseErr
}

// RunMigrations brings a deck database up to the embedded schema and returns
// the resulting schema version. Decks opened concurrently are migrated one
// at a time.
func RunMigrations(ctx context.Context, db *sql.DB) (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return 0, fmt.Errorf("migrate deck schema: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

package store

import (
	"context"

	"github.com/hyperengineering/decksync/internal/types"
)

// Repository is the entity store contract the sync engine runs against.
// Every method is a synchronous read or write of the local deck; a
// Repository obtained inside WithTx shares that transaction.
type Repository interface {
	// Flush persists any buffered writes so reads observe them.
	Flush(ctx context.Context) error

	// Deck returns the deck-level fields.
	Deck(ctx context.Context) (*types.DeckFields, error)
	// UpdateDeck overwrites the deck-level fields, including modified.
	// lastSync is untouched.
	UpdateDeck(ctx context.Context, d types.DeckFields) error
	// Modified returns the deck's last modification time.
	Modified(ctx context.Context) (float64, error)
	LastSync(ctx context.Context) (float64, error)
	SetLastSync(ctx context.Context, t float64) error

	// ModifiedSince returns (id, modified) for live entities of kind
	// modified strictly after since, ordered by id.
	ModifiedSince(ctx context.Context, kind types.Kind, since float64) ([]types.IDTime, error)
	// DeletedSince returns (id, deleted) tombstones of kind recorded
	// strictly after since, ordered by id.
	DeletedSince(ctx context.Context, kind types.Kind, since float64) ([]types.IDTime, error)

	// Models returns the live models among ids. Unknown ids are skipped.
	Models(ctx context.Context, ids []int64) ([]types.Model, error)
	// UpsertModels creates or replaces whole models, merging their field
	// and card models.
	UpsertModels(ctx context.Context, models []types.Model) error
	// DeleteModels deletes live models among ids together with their
	// facts and cards, tombstoning each.
	DeleteModels(ctx context.Context, ids []int64) error

	Facts(ctx context.Context, ids []int64) (*types.FactBundle, error)
	UpsertFacts(ctx context.Context, bundle *types.FactBundle) error
	// DeleteFacts deletes live facts among ids together with their cards.
	DeleteFacts(ctx context.Context, ids []int64) error

	Cards(ctx context.Context, ids []int64) ([]types.Card, error)
	UpsertCards(ctx context.Context, cards []types.Card) error
	DeleteCards(ctx context.Context, ids []int64) error

	GlobalStats(ctx context.Context) (types.StatRow, error)
	// DailyStatsSince returns daily rows whose day is on or after day.
	DailyStatsSince(ctx context.Context, day string) ([]types.StatRow, error)
	ReplaceGlobalStats(ctx context.Context, row types.StatRow) error
	// InsertMissingDailyStats inserts the daily rows whose day has no local
	// row and reports how many were inserted.
	InsertMissingDailyStats(ctx context.Context, rows []types.StatRow) (int, error)

	// HistorySince returns review history with time strictly after t.
	HistorySince(ctx context.Context, t float64) ([]types.HistoryRow, error)
	AppendHistory(ctx context.Context, rows []types.HistoryRow) error

	// RefreshCurrentModel re-points the deck's current model at an
	// existing model if it no longer exists, and returns the current id.
	RefreshCurrentModel(ctx context.Context) (int64, error)

	// WithTx runs fn inside a transaction, committing when fn returns nil.
	// Called on a Repository that is already transactional, fn joins the
	// enclosing transaction.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

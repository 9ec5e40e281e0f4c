// Package sync reconciles two replicas of a deck. It builds per-kind
// summaries of what changed since the last sync, diffs them, ships the
// changed entities in a payload and applies the peer's reply.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/decksync/internal/store"
	"github.com/hyperengineering/decksync/internal/types"
)

// Atomicity controls how much of one sync step commits together.
type Atomicity string

const (
	// AtomicityBestEffort commits each kind's batch on its own. A failure
	// leaves earlier kinds applied.
	AtomicityBestEffort Atomicity = "best-effort"
	// AtomicityAllOrNothing runs each sync step in a single transaction.
	AtomicityAllOrNothing Atomicity = "all-or-nothing"
)

// ParseAtomicity converts a configuration value into an Atomicity.
// The empty string selects best-effort.
func ParseAtomicity(s string) (Atomicity, error) {
	switch Atomicity(s) {
	case "", AtomicityBestEffort:
		return AtomicityBestEffort, nil
	case AtomicityAllOrNothing:
		return AtomicityAllOrNothing, nil
	}
	return "", fmt.Errorf("unknown atomicity %q", s)
}

// Engine runs the sync algorithm against one deck replica.
type Engine struct {
	repo      store.Repository
	atomicity Atomicity
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAtomicity sets the transaction scope of sync steps.
func WithAtomicity(a Atomicity) EngineOption {
	return func(e *Engine) {
		e.atomicity = a
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine over repo.
func NewEngine(repo store.Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:      repo,
		atomicity: AtomicityBestEffort,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repository returns the replica the engine operates on.
func (e *Engine) Repository() store.Repository {
	return e.repo
}

// Atomicity returns the configured transaction scope.
func (e *Engine) Atomicity() Atomicity {
	return e.atomicity
}

// Modified returns the replica's modification time.
func (e *Engine) Modified(ctx context.Context) (float64, error) {
	return e.repo.Modified(ctx)
}

// LastSync returns the replica's last sync time.
func (e *Engine) LastSync(ctx context.Context) (float64, error) {
	return e.repo.LastSync(ctx)
}

// step runs fn over the whole of one sync step. Under all-or-nothing fn
// receives a transactional repository, so per-kind batches opened with
// WithTx join it.
func (e *Engine) step(ctx context.Context, fn func(store.Repository) error) error {
	if e.atomicity == AtomicityAllOrNothing {
		return e.repo.WithTx(ctx, fn)
	}
	return fn(e.repo)
}

// kindHandler moves one entity kind between the store and a message.
type kindHandler struct {
	// bundle reads ids from the store into the kind's added section.
	bundle func(ctx context.Context, r store.Repository, ids []int64, into *types.Added) error
	// apply upserts the kind's added section.
	apply func(ctx context.Context, r store.Repository, from *types.Added) error
	// remove deletes ids.
	remove func(ctx context.Context, r store.Repository, ids []int64) error
}

var handlers = map[types.Kind]kindHandler{
	types.KindModels: {
		bundle: func(ctx context.Context, r store.Repository, ids []int64, into *types.Added) error {
			models, err := r.Models(ctx, ids)
			if err != nil {
				return err
			}
			into.Models = models
			return nil
		},
		apply: func(ctx context.Context, r store.Repository, from *types.Added) error {
			return r.UpsertModels(ctx, from.Models)
		},
		remove: func(ctx context.Context, r store.Repository, ids []int64) error {
			return r.DeleteModels(ctx, ids)
		},
	},
	types.KindFacts: {
		bundle: func(ctx context.Context, r store.Repository, ids []int64, into *types.Added) error {
			bundle, err := r.Facts(ctx, ids)
			if err != nil {
				return err
			}
			into.Facts = bundle
			return nil
		},
		apply: func(ctx context.Context, r store.Repository, from *types.Added) error {
			if from.Facts == nil {
				return nil
			}
			return r.UpsertFacts(ctx, from.Facts)
		},
		remove: func(ctx context.Context, r store.Repository, ids []int64) error {
			return r.DeleteFacts(ctx, ids)
		},
	},
	types.KindCards: {
		bundle: func(ctx context.Context, r store.Repository, ids []int64, into *types.Added) error {
			cards, err := r.Cards(ctx, ids)
			if err != nil {
				return err
			}
			into.Cards = cards
			return nil
		},
		apply: func(ctx context.Context, r store.Repository, from *types.Added) error {
			return r.UpsertCards(ctx, from.Cards)
		},
		remove: func(ctx context.Context, r store.Repository, ids []int64) error {
			return r.DeleteCards(ctx, ids)
		},
	},
}

// BuildSummary lists the live entities modified after since and the
// tombstones recorded after since, for every kind.
func (e *Engine) BuildSummary(ctx context.Context, since float64) (*types.Summary, error) {
	if err := e.repo.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	var s types.Summary
	for _, kind := range types.Kinds {
		live, err := e.repo.ModifiedSince(ctx, kind, since)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", kind, err)
		}
		deleted, err := e.repo.DeletedSince(ctx, kind, since)
		if err != nil {
			return nil, fmt.Errorf("summarize deleted %s: %w", kind, err)
		}
		s.Set(kind, live, deleted)
	}
	e.logger.Debug("summary built",
		"component", "sync",
		"action", "summary",
		"since", since,
		"models", len(s.Models),
		"facts", len(s.Facts),
		"cards", len(s.Cards),
	)
	return &s, nil
}

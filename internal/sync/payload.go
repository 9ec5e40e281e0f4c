package sync

import (
	"context"
	"fmt"

	"github.com/hyperengineering/decksync/internal/store"
	"github.com/hyperengineering/decksync/internal/types"
)

// GenPayload diffs the local and remote summaries and assembles the payload
// for the peer. Entities deleted on the peer are deleted here as a side
// effect, after every kind has been bundled, so a cascading delete never
// drops an edit the peer still has to receive. When the local deck is the
// newer one, the payload also carries the deck-level state and lastSync
// advances to the local modified time. The returned counts are the
// entities of each kind deleted here.
func (e *Engine) GenPayload(ctx context.Context, local, remote *types.Summary, localTime, remoteTime float64) (*types.Payload, KindCounts, error) {
	p := types.NewPayload()
	deletedHere := KindCounts{}

	err := e.step(ctx, func(r store.Repository) error {
		diffs := make(map[types.Kind]DiffResult, len(types.Kinds))
		for _, kind := range types.Kinds {
			d := Diff(local, remote, kind)
			diffs[kind] = d

			if err := handlers[kind].bundle(ctx, r, d.LocallyEdited, &p.Added); err != nil {
				return fmt.Errorf("bundle %s: %w", kind, err)
			}
			p.SetDeleted(kind, d.LocallyDeleted)
			p.SetMissing(kind, d.RemotelyEdited)

			e.logger.Debug("kind diffed",
				"component", "sync",
				"action", "gen_payload",
				"kind", kind,
				"locally_edited", len(d.LocallyEdited),
				"locally_deleted", len(d.LocallyDeleted),
				"remotely_edited", len(d.RemotelyEdited),
				"remotely_deleted", len(d.RemotelyDeleted),
			)
		}

		for _, kind := range types.Kinds {
			ids := diffs[kind].RemotelyDeleted
			deletedHere[kind] = len(ids)
			if len(ids) == 0 {
				continue
			}
			if err := r.WithTx(ctx, func(tr store.Repository) error {
				return handlers[kind].remove(ctx, tr, ids)
			}); err != nil {
				return fmt.Errorf("delete %s: %w", kind, err)
			}
		}

		if localTime > remoteTime {
			agg, err := bundleAggregate(ctx, r)
			if err != nil {
				return err
			}
			p.Aggregate = *agg
			if err := r.SetLastSync(ctx, agg.Deck.Modified); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p, deletedHere, nil
}

// bundleAggregate reads the deck fields, the global statistics, the daily
// statistics since the day of the last sync and the review history since
// the last sync.
func bundleAggregate(ctx context.Context, r store.Repository) (*types.Aggregate, error) {
	deck, err := r.Deck(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle deck: %w", err)
	}
	lastSync, err := r.LastSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle deck: %w", err)
	}

	global, err := r.GlobalStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle stats: %w", err)
	}
	daily, err := r.DailyStatsSince(ctx, types.DayOf(lastSync, deck.UTCOffset))
	if err != nil {
		return nil, fmt.Errorf("bundle stats: %w", err)
	}

	history, err := r.HistorySince(ctx, lastSync)
	if err != nil {
		return nil, fmt.Errorf("bundle history: %w", err)
	}

	return &types.Aggregate{
		Deck:    deck,
		Stats:   &types.StatsBundle{Global: global, Daily: daily},
		History: history,
	}, nil
}

// applyAggregate installs deck-level state received from the peer. The
// deck fields are overwritten and lastSync becomes their modified time,
// global statistics are replaced, daily statistics are added for days this
// replica has no row for, and history is appended.
func applyAggregate(ctx context.Context, r store.Repository, agg *types.Aggregate) error {
	return r.WithTx(ctx, func(tr store.Repository) error {
		if err := tr.UpdateDeck(ctx, *agg.Deck); err != nil {
			return err
		}
		if err := tr.SetLastSync(ctx, agg.Deck.Modified); err != nil {
			return err
		}
		if agg.Stats != nil {
			if err := tr.ReplaceGlobalStats(ctx, agg.Stats.Global); err != nil {
				return err
			}
			if _, err := tr.InsertMissingDailyStats(ctx, agg.Stats.Daily); err != nil {
				return err
			}
		}
		return tr.AppendHistory(ctx, agg.History)
	})
}

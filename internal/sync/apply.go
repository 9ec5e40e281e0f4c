package sync

import (
	"context"
	"fmt"

	"github.com/hyperengineering/decksync/internal/store"
	"github.com/hyperengineering/decksync/internal/types"
	"github.com/hyperengineering/decksync/internal/validation"
)

// Refresh reports deck state recomputed after a sync step.
type Refresh struct {
	CurrentModelID int64
}

// ApplyPayload applies a peer's payload and builds the reply. The entities
// the peer asked for are bundled first; then, for each kind in dependency
// order, the entities it sent are upserted and the ids it deleted are
// deleted. A payload without
// deck-level state gets this replica's deck-level state in the reply and
// lastSync advances to the local modified time; otherwise the incoming
// deck-level state is installed.
//
// A payload missing any section is rejected with ErrProtocol before any
// write.
func (e *Engine) ApplyPayload(ctx context.Context, p *types.Payload) (*types.Reply, error) {
	if err := validation.Payload(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	reply := types.NewReply()
	var refresh Refresh

	err := e.step(ctx, func(r store.Repository) error {
		for _, kind := range types.Kinds {
			if err := handlers[kind].bundle(ctx, r, p.Missing(kind), &reply.Added); err != nil {
				return fmt.Errorf("bundle %s: %w", kind, err)
			}
		}
		for _, kind := range types.Kinds {
			h := handlers[kind]
			if err := r.WithTx(ctx, func(tr store.Repository) error {
				if err := h.apply(ctx, tr, &p.Added); err != nil {
					return err
				}
				return h.remove(ctx, tr, p.Deleted(kind))
			}); err != nil {
				return fmt.Errorf("apply %s: %w", kind, err)
			}
		}

		if p.HasDeck() {
			if err := applyAggregate(ctx, r, &p.Aggregate); err != nil {
				return fmt.Errorf("apply deck: %w", err)
			}
		} else {
			agg, err := bundleAggregate(ctx, r)
			if err != nil {
				return err
			}
			reply.Aggregate = *agg
			if err := r.SetLastSync(ctx, agg.Deck.Modified); err != nil {
				return err
			}
		}

		current, err := r.RefreshCurrentModel(ctx)
		if err != nil {
			return err
		}
		refresh.CurrentModelID = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("payload applied",
		"component", "sync",
		"action", "apply_payload",
		"received_models", p.Count(types.KindModels),
		"received_facts", p.Count(types.KindFacts),
		"received_cards", p.Count(types.KindCards),
		"sent_deck", reply.HasDeck(),
		"current_model", refresh.CurrentModelID,
	)
	return reply, nil
}

// ApplyReply applies the peer's reply to a payload: the requested entities
// are upserted and, if the peer's deck was the newer one, its deck-level
// state is installed.
func (e *Engine) ApplyReply(ctx context.Context, reply *types.Reply) (Refresh, error) {
	if err := validation.Reply(reply); err != nil {
		return Refresh{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	var refresh Refresh
	err := e.step(ctx, func(r store.Repository) error {
		for _, kind := range types.Kinds {
			h := handlers[kind]
			if err := r.WithTx(ctx, func(tr store.Repository) error {
				return h.apply(ctx, tr, &reply.Added)
			}); err != nil {
				return fmt.Errorf("apply %s: %w", kind, err)
			}
		}

		if reply.HasDeck() {
			if err := applyAggregate(ctx, r, &reply.Aggregate); err != nil {
				return fmt.Errorf("apply deck: %w", err)
			}
		}

		current, err := r.RefreshCurrentModel(ctx)
		if err != nil {
			return err
		}
		refresh.CurrentModelID = current
		return nil
	})
	if err != nil {
		return Refresh{}, err
	}

	e.logger.Debug("reply applied",
		"component", "sync",
		"action", "apply_reply",
		"received_models", reply.Count(types.KindModels),
		"received_facts", reply.Count(types.KindFacts),
		"received_cards", reply.Count(types.KindCards),
		"received_deck", reply.HasDeck(),
		"current_model", refresh.CurrentModelID,
	)
	return refresh, nil
}

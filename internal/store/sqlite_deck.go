package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/decksync/internal/types"
)

// Local edits. Every operation in this file is a user-level change: it runs
// in one transaction and advances the deck's modified time.

var lastID atomic.Int64

// newID returns a time-ordered entity id with random low bits. Ids are
// strictly increasing within the process.
func newID() int64 {
	for {
		id := time.Now().UnixMilli()<<20 | rand.Int64N(1<<20)
		prev := lastID.Load()
		if id <= prev {
			id = prev + 1
		}
		if lastID.CompareAndSwap(prev, id) {
			return id
		}
	}
}

// AddModel creates a model with fresh ids and makes it current if the deck
// has none.
func (r *repo) AddModel(ctx context.Context, m types.Model) (*types.Model, error) {
	err := r.inTx(ctx, func(tr *repo) error {
		now := tr.now()
		m.ID = newID()
		m.Created, m.Modified = now, now
		for i := range m.FieldModels {
			m.FieldModels[i].ID = newID()
			m.FieldModels[i].ModelID = m.ID
		}
		for i := range m.CardModels {
			m.CardModels[i].ID = newID()
			m.CardModels[i].ModelID = m.ID
		}
		if err := tr.upsertModel(ctx, &m); err != nil {
			return err
		}
		if _, err := tr.q().ExecContext(ctx,
			`UPDATE deck SET current_model_id = ? WHERE id = 1 AND current_model_id = 0`, m.ID,
		); err != nil {
			return fmt.Errorf("set current model: %w", err)
		}
		return tr.touch(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddFact creates a fact of modelID from field values given in field
// ordinal order, and one card per active card model.
func (r *repo) AddFact(ctx context.Context, modelID int64, values ...string) (*types.Fact, []types.Card, error) {
	var fact types.Fact
	var cards []types.Card

	err := r.inTx(ctx, func(tr *repo) error {
		models, err := tr.Models(ctx, []int64{modelID})
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return fmt.Errorf("model %d: %w", modelID, ErrNotFound)
		}
		model := models[0]

		now := tr.now()
		fact = types.Fact{ID: newID(), ModelID: modelID, Created: now, Modified: now}

		fields := make([]types.Field, len(model.FieldModels))
		for i, fm := range model.FieldModels {
			value := ""
			if i < len(values) {
				value = values[i]
			}
			if err := tr.checkField(ctx, fm, value, 0); err != nil {
				return err
			}
			fields[i] = types.Field{ID: newID(), FactID: fact.ID, FieldModelID: fm.ID, Ordinal: fm.Ordinal, Value: value}
		}

		for _, cm := range model.CardModels {
			if !cm.Active {
				continue
			}
			cards = append(cards, newCard(fact.ID, cm, model.FieldModels, fields, now))
		}
		if len(cards) > 0 {
			fact.LastCardID = cards[len(cards)-1].ID
		}

		if err := tr.UpsertFacts(ctx, &types.FactBundle{Facts: []types.Fact{fact}, Fields: fields}); err != nil {
			return err
		}
		if err := tr.UpsertCards(ctx, cards); err != nil {
			return err
		}
		return tr.touch(ctx, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return &fact, cards, nil
}

// checkField enforces the required and unique constraints of fm for value.
// A duplicate belonging to exceptFact is allowed.
func (r *repo) checkField(ctx context.Context, fm types.FieldModel, value string, exceptFact int64) error {
	if fm.Required && strings.TrimSpace(value) == "" {
		return fmt.Errorf("field %q: %w", fm.Name, ErrEmptyField)
	}
	if !fm.Unique || value == "" {
		return nil
	}
	var exists bool
	err := r.q().QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM fields WHERE field_model_id = ? AND value = ? AND fact_id != ?)
	`, fm.ID, value, exceptFact).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check unique field: %w", err)
	}
	if exists {
		return fmt.Errorf("field %q value %q: %w", fm.Name, value, ErrDuplicate)
	}
	return nil
}

// newCard builds a new, unreviewed card of factID from cm.
func newCard(factID int64, cm types.CardModel, fieldModels []types.FieldModel, fields []types.Field, now float64) types.Card {
	q, a := render(cm, fieldModels, fields)
	return types.Card{
		ID:          newID(),
		FactID:      factID,
		CardModelID: cm.ID,
		Created:     now,
		Modified:    now,
		Ordinal:     cm.Ordinal,
		Question:    q,
		Answer:      a,
		Priority:    2,
		Due:         now,
		Factor:      2.5,
		LastFactor:  2.5,
	}
}

// render fills a card model's question and answer templates.
func render(cm types.CardModel, fieldModels []types.FieldModel, fields []types.Field) (string, string) {
	pairs := make([]string, 0, 2*len(fields))
	for i, fm := range fieldModels {
		if i < len(fields) {
			pairs = append(pairs, "{{"+fm.Name+"}}", fields[i].Value)
		}
	}
	rep := strings.NewReplacer(pairs...)
	return rep.Replace(cm.QFormat), rep.Replace(cm.AFormat)
}

// SetCardModelActive switches one of a model's card templates on or off
// and marks the model modified. Switching a template on generates its card
// for every fact of the model that has none yet; those cards are returned.
func (r *repo) SetCardModelActive(ctx context.Context, modelID, cardModelID int64, active bool) ([]types.Card, error) {
	var cards []types.Card
	err := r.inTx(ctx, func(tr *repo) error {
		model, idx, err := tr.modelWithCardModel(ctx, modelID, cardModelID)
		if err != nil {
			return err
		}

		now := tr.now()
		model.Modified = now
		model.CardModels[idx].Active = active
		if err := tr.upsertModel(ctx, model); err != nil {
			return err
		}
		if active {
			if cards, err = tr.generateCards(ctx, model, model.CardModels[idx], now); err != nil {
				return err
			}
		}
		return tr.touch(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// RemoveCardModel deletes one of a model's card templates with every card
// generated from it.
func (r *repo) RemoveCardModel(ctx context.Context, modelID, cardModelID int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		model, idx, err := tr.modelWithCardModel(ctx, modelID, cardModelID)
		if err != nil {
			return err
		}
		now := tr.now()
		model.Modified = now
		model.CardModels = append(model.CardModels[:idx], model.CardModels[idx+1:]...)
		if err := tr.upsertModel(ctx, model); err != nil {
			return err
		}
		return tr.touch(ctx, now)
	})
}

func (r *repo) modelWithCardModel(ctx context.Context, modelID, cardModelID int64) (*types.Model, int, error) {
	models, err := r.Models(ctx, []int64{modelID})
	if err != nil {
		return nil, 0, err
	}
	if len(models) == 0 {
		return nil, 0, fmt.Errorf("model %d: %w", modelID, ErrNotFound)
	}
	for i, cm := range models[0].CardModels {
		if cm.ID == cardModelID {
			return &models[0], i, nil
		}
	}
	return nil, 0, fmt.Errorf("card model %d of model %d: %w", cardModelID, modelID, ErrNotFound)
}

// generateCards creates a card from cm for each fact of model without one.
func (r *repo) generateCards(ctx context.Context, model *types.Model, cm types.CardModel, now float64) ([]types.Card, error) {
	rows, err := r.q().QueryContext(ctx, `
		SELECT id FROM facts
		WHERE model_id = ? AND id NOT IN (SELECT fact_id FROM cards WHERE card_model_id = ?)
		ORDER BY id
	`, model.ID, cm.ID)
	if err != nil {
		return nil, fmt.Errorf("query facts without card: %w", err)
	}
	var factIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan fact id: %w", err)
		}
		factIDs = append(factIDs, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate facts without card: %w", err)
	}
	if len(factIDs) == 0 {
		return nil, nil
	}

	bundle, err := r.Facts(ctx, factIDs)
	if err != nil {
		return nil, err
	}
	fieldsOf := map[int64][]types.Field{}
	for _, f := range bundle.Fields {
		fieldsOf[f.FactID] = append(fieldsOf[f.FactID], f)
	}

	cards := make([]types.Card, 0, len(bundle.Facts))
	for _, fact := range bundle.Facts {
		cards = append(cards, newCard(fact.ID, cm, model.FieldModels, fieldsOf[fact.ID], now))
	}
	if err := r.UpsertCards(ctx, cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// UpdateFact replaces a fact's field values, in ordinal order, and marks
// the fact and its cards modified.
func (r *repo) UpdateFact(ctx context.Context, factID int64, values ...string) error {
	return r.inTx(ctx, func(tr *repo) error {
		bundle, err := tr.Facts(ctx, []int64{factID})
		if err != nil {
			return err
		}
		if len(bundle.Facts) == 0 {
			return fmt.Errorf("fact %d: %w", factID, ErrNotFound)
		}
		fact := bundle.Facts[0]

		models, err := tr.Models(ctx, []int64{fact.ModelID})
		if err != nil {
			return err
		}
		byID := map[int64]types.FieldModel{}
		if len(models) > 0 {
			for _, fm := range models[0].FieldModels {
				byID[fm.ID] = fm
			}
		}

		for i := range bundle.Fields {
			f := &bundle.Fields[i]
			if f.Ordinal >= len(values) {
				continue
			}
			if fm, ok := byID[f.FieldModelID]; ok {
				if err := tr.checkField(ctx, fm, values[f.Ordinal], factID); err != nil {
					return err
				}
			}
			f.Value = values[f.Ordinal]
		}

		now := tr.now()
		bundle.Facts[0].Modified = now
		if err := tr.UpsertFacts(ctx, bundle); err != nil {
			return err
		}
		if _, err := tr.q().ExecContext(ctx, `UPDATE cards SET modified = ? WHERE fact_id = ?`, now, factID); err != nil {
			return fmt.Errorf("touch cards of fact: %w", err)
		}
		return tr.touch(ctx, now)
	})
}

// RemoveFacts deletes facts and their cards.
func (r *repo) RemoveFacts(ctx context.Context, ids ...int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		if err := tr.deleteFacts(ctx, ids); err != nil {
			return err
		}
		return tr.touch(ctx, tr.now())
	})
}

// RemoveCards deletes cards.
func (r *repo) RemoveCards(ctx context.Context, ids ...int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		if err := tr.DeleteCards(ctx, ids); err != nil {
			return err
		}
		return tr.touch(ctx, tr.now())
	})
}

// RemoveModel deletes a model with everything built on it.
func (r *repo) RemoveModel(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		if err := tr.DeleteModels(ctx, []int64{id}); err != nil {
			return err
		}
		if _, err := tr.RefreshCurrentModel(ctx); err != nil {
			return err
		}
		return tr.touch(ctx, tr.now())
	})
}

// SetDescription changes the deck description.
func (r *repo) SetDescription(ctx context.Context, description string) error {
	return r.inTx(ctx, func(tr *repo) error {
		if _, err := tr.q().ExecContext(ctx, `UPDATE deck SET description = ? WHERE id = 1`, description); err != nil {
			return fmt.Errorf("update description: %w", err)
		}
		return tr.touch(ctx, tr.now())
	})
}

// RecordReview logs one answer to a card: the card's counters, the review
// history and the statistics are updated, and the card's fact is marked
// modified with it. Scheduling is left unchanged.
func (r *repo) RecordReview(ctx context.Context, cardID int64, ease int, thinkingTime float64) error {
	if ease < 0 || ease > 4 {
		return fmt.Errorf("ease %d out of range 0-4", ease)
	}
	return r.inTx(ctx, func(tr *repo) error {
		cards, err := tr.Cards(ctx, []int64{cardID})
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			return fmt.Errorf("card %d: %w", cardID, ErrNotFound)
		}
		c := cards[0]
		deck, err := tr.Deck(ctx)
		if err != nil {
			return err
		}

		now := tr.now()
		bucket := "young"
		switch {
		case c.Reps == 0:
			bucket = "new"
		case c.Interval >= 21:
			bucket = "mature"
		}

		c.Reps++
		if ease > 1 {
			c.YesCount++
			c.Successive++
		} else {
			c.NoCount++
			c.Successive = 0
		}
		if bucket == "mature" {
			c.MatureEase[ease]++
		} else {
			c.YoungEase[ease]++
		}
		if c.FirstAnswered == 0 {
			c.FirstAnswered = now
		}
		c.ReviewTime += thinkingTime
		c.AverageTime = c.ReviewTime / float64(c.Reps)
		c.Modified = now

		if err := tr.UpsertCards(ctx, []types.Card{c}); err != nil {
			return err
		}
		// A card outlives a peer's deletion of its fact only if the fact is
		// newer than the tombstone too.
		if _, err := tr.q().ExecContext(ctx, `UPDATE facts SET modified = ? WHERE id = ?`, now, c.FactID); err != nil {
			return fmt.Errorf("touch fact of card: %w", err)
		}
		if err := tr.AppendHistory(ctx, []types.HistoryRow{{
			CardID:       c.ID,
			Time:         now,
			LastInterval: c.Interval,
			NextInterval: c.Interval,
			Ease:         ease,
			LastFactor:   c.Factor,
			NextFactor:   c.Factor,
			Reps:         float64(c.Reps),
			ThinkingTime: thinkingTime,
			YesCount:     float64(c.YesCount),
			NoCount:      float64(c.NoCount),
		}}); err != nil {
			return err
		}
		if err := tr.bumpStats(ctx, types.DayOf(now, deck.UTCOffset), bucket, ease, thinkingTime); err != nil {
			return err
		}
		return tr.touch(ctx, now)
	})
}

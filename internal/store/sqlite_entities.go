package store

import (
	"context"
	"fmt"

	"github.com/hyperengineering/decksync/internal/types"
)

type kindTables struct {
	live      string
	tombstone string
	idColumn  string
}

var tablesByKind = map[types.Kind]kindTables{
	types.KindModels: {live: "models", tombstone: "models_deleted", idColumn: "model_id"},
	types.KindFacts:  {live: "facts", tombstone: "facts_deleted", idColumn: "fact_id"},
	types.KindCards:  {live: "cards", tombstone: "cards_deleted", idColumn: "card_id"},
}

func tablesFor(kind types.Kind) (kindTables, error) {
	t, ok := tablesByKind[kind]
	if !ok {
		return kindTables{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// ModifiedSince returns live (id, modified) pairs newer than since.
func (r *repo) ModifiedSince(ctx context.Context, kind types.Kind, since float64) ([]types.IDTime, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	return r.queryPairs(ctx, `SELECT id, modified FROM `+t.live+` WHERE modified > ? ORDER BY id`, since)
}

// DeletedSince returns tombstone (id, deleted) pairs newer than since.
func (r *repo) DeletedSince(ctx context.Context, kind types.Kind, since float64) ([]types.IDTime, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	return r.queryPairs(ctx, `SELECT `+t.idColumn+`, deleted_time FROM `+t.tombstone+` WHERE deleted_time > ? ORDER BY `+t.idColumn, since)
}

func (r *repo) queryPairs(ctx context.Context, query string, since float64) ([]types.IDTime, error) {
	rows, err := r.q().QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	out := []types.IDTime{}
	for rows.Next() {
		var p types.IDTime
		if err := rows.Scan(&p.ID, &p.Time); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// liveIDs returns the ids among ids that exist in kind's live table.
func (r *repo) liveIDs(ctx context.Context, kind types.Kind, ids []int64) ([]int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	return r.queryIDs(ctx, `SELECT id FROM `+t.live+` WHERE id IN (%s) ORDER BY id`, ids)
}

// tombstone removes live rows of kind and records their deletion time.
func (r *repo) tombstone(ctx context.Context, kind types.Kind, ids []int64) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	if err := r.execIDs(ctx, `DELETE FROM `+t.live+` WHERE id IN (%s)`, ids); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	now := r.now()
	for _, id := range ids {
		if _, err := r.q().ExecContext(ctx,
			`INSERT OR REPLACE INTO `+t.tombstone+` (`+t.idColumn+`, deleted_time) VALUES (?, ?)`,
			id, now,
		); err != nil {
			return fmt.Errorf("record %s tombstone: %w", kind, err)
		}
	}
	return nil
}

// clearTombstone makes id live again for kind.
func (r *repo) clearTombstone(ctx context.Context, kind types.Kind, id int64) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	if _, err := r.q().ExecContext(ctx, `DELETE FROM `+t.tombstone+` WHERE `+t.idColumn+` = ?`, id); err != nil {
		return fmt.Errorf("clear %s tombstone: %w", kind, err)
	}
	return nil
}

// --- Models ---

// Models returns the requested models with their field and card models.
func (r *repo) Models(ctx context.Context, ids []int64) ([]types.Model, error) {
	models := []types.Model{}
	index := map[int64]int{}

	for _, chunk := range chunks(ids) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(`
			SELECT id, created, modified, name, description, tags, spacing, initial_spacing
			FROM models WHERE id IN (%s) ORDER BY id
		`, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query models: %w", err)
		}
		for rows.Next() {
			var m types.Model
			if err := rows.Scan(&m.ID, &m.Created, &m.Modified, &m.Name, &m.Description, &m.Tags, &m.Spacing, &m.InitialSpacing); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan model: %w", err)
			}
			m.FieldModels = []types.FieldModel{}
			m.CardModels = []types.CardModel{}
			index[m.ID] = len(models)
			models = append(models, m)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate models: %w", err)
		}
	}

	fieldModels, err := r.fieldModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, fm := range fieldModels {
		if i, ok := index[fm.ModelID]; ok {
			models[i].FieldModels = append(models[i].FieldModels, fm)
		}
	}

	cardModels, err := r.cardModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, cm := range cardModels {
		if i, ok := index[cm.ModelID]; ok {
			models[i].CardModels = append(models[i].CardModels, cm)
		}
	}

	return models, nil
}

func (r *repo) fieldModels(ctx context.Context, modelIDs []int64) ([]types.FieldModel, error) {
	var out []types.FieldModel
	for _, chunk := range chunks(modelIDs) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(`
			SELECT id, model_id, ordinal, name, description, required, unique_value
			FROM field_models WHERE model_id IN (%s) ORDER BY model_id, ordinal
		`, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query field models: %w", err)
		}
		for rows.Next() {
			var fm types.FieldModel
			if err := rows.Scan(&fm.ID, &fm.ModelID, &fm.Ordinal, &fm.Name, &fm.Description, &fm.Required, &fm.Unique); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan field model: %w", err)
			}
			out = append(out, fm)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate field models: %w", err)
		}
	}
	return out, nil
}

func (r *repo) cardModels(ctx context.Context, modelIDs []int64) ([]types.CardModel, error) {
	var out []types.CardModel
	for _, chunk := range chunks(modelIDs) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(`
			SELECT id, model_id, ordinal, name, description, active, qformat, aformat
			FROM card_models WHERE model_id IN (%s) ORDER BY model_id, ordinal
		`, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query card models: %w", err)
		}
		for rows.Next() {
			var cm types.CardModel
			if err := rows.Scan(&cm.ID, &cm.ModelID, &cm.Ordinal, &cm.Name, &cm.Description, &cm.Active, &cm.QFormat, &cm.AFormat); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan card model: %w", err)
			}
			out = append(out, cm)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate card models: %w", err)
		}
	}
	return out, nil
}

// UpsertModels creates or replaces each model. Local field and card
// models missing from the incoming model are removed along with the
// fields and cards that reference them.
func (r *repo) UpsertModels(ctx context.Context, models []types.Model) error {
	return r.inTx(ctx, func(tr *repo) error {
		for i := range models {
			if err := tr.upsertModel(ctx, &models[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) upsertModel(ctx context.Context, m *types.Model) error {
	_, err := r.q().ExecContext(ctx, `
		INSERT INTO models (id, created, modified, name, description, tags, spacing, initial_spacing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created = excluded.created,
			modified = excluded.modified,
			name = excluded.name,
			description = excluded.description,
			tags = excluded.tags,
			spacing = excluded.spacing,
			initial_spacing = excluded.initial_spacing
	`, m.ID, m.Created, m.Modified, m.Name, m.Description, m.Tags, m.Spacing, m.InitialSpacing)
	if err != nil {
		return fmt.Errorf("upsert model %d: %w", m.ID, err)
	}
	if err := r.clearTombstone(ctx, types.KindModels, m.ID); err != nil {
		return err
	}

	keepFields := make([]int64, 0, len(m.FieldModels))
	for _, fm := range m.FieldModels {
		_, err := r.q().ExecContext(ctx, `
			INSERT INTO field_models (id, model_id, ordinal, name, description, required, unique_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				model_id = excluded.model_id,
				ordinal = excluded.ordinal,
				name = excluded.name,
				description = excluded.description,
				required = excluded.required,
				unique_value = excluded.unique_value
		`, fm.ID, m.ID, fm.Ordinal, fm.Name, fm.Description, fm.Required, fm.Unique)
		if err != nil {
			return fmt.Errorf("upsert field model %d: %w", fm.ID, err)
		}
		keepFields = append(keepFields, fm.ID)
	}

	keepCards := make([]int64, 0, len(m.CardModels))
	for _, cm := range m.CardModels {
		_, err := r.q().ExecContext(ctx, `
			INSERT INTO card_models (id, model_id, ordinal, name, description, active, qformat, aformat)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				model_id = excluded.model_id,
				ordinal = excluded.ordinal,
				name = excluded.name,
				description = excluded.description,
				active = excluded.active,
				qformat = excluded.qformat,
				aformat = excluded.aformat
		`, cm.ID, m.ID, cm.Ordinal, cm.Name, cm.Description, cm.Active, cm.QFormat, cm.AFormat)
		if err != nil {
			return fmt.Errorf("upsert card model %d: %w", cm.ID, err)
		}
		keepCards = append(keepCards, cm.ID)
	}

	return r.pruneSubModels(ctx, m.ID, keepFields, keepCards)
}

// pruneSubModels removes the field and card models of modelID that are not
// in the keep lists.
func (r *repo) pruneSubModels(ctx context.Context, modelID int64, keepFields, keepCards []int64) error {
	staleFields, err := r.staleSubModels(ctx, "field_models", modelID, keepFields)
	if err != nil {
		return err
	}
	if len(staleFields) > 0 {
		if err := r.execIDs(ctx, `DELETE FROM fields WHERE field_model_id IN (%s)`, staleFields); err != nil {
			return fmt.Errorf("delete fields of removed field models: %w", err)
		}
		if err := r.execIDs(ctx, `DELETE FROM field_models WHERE id IN (%s)`, staleFields); err != nil {
			return fmt.Errorf("delete field models: %w", err)
		}
	}

	staleCards, err := r.staleSubModels(ctx, "card_models", modelID, keepCards)
	if err != nil {
		return err
	}
	if len(staleCards) > 0 {
		cardIDs, err := r.queryIDs(ctx, `SELECT id FROM cards WHERE card_model_id IN (%s)`, staleCards)
		if err != nil {
			return fmt.Errorf("query cards of removed card models: %w", err)
		}
		if len(cardIDs) > 0 {
			if err := r.tombstone(ctx, types.KindCards, cardIDs); err != nil {
				return err
			}
		}
		if err := r.execIDs(ctx, `DELETE FROM card_models WHERE id IN (%s)`, staleCards); err != nil {
			return fmt.Errorf("delete card models: %w", err)
		}
	}
	return nil
}

func (r *repo) staleSubModels(ctx context.Context, table string, modelID int64, keep []int64) ([]int64, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id FROM `+table+` WHERE model_id = ?`, modelID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	kept := make(map[int64]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if !kept[id] {
			stale = append(stale, id)
		}
	}
	return stale, rows.Err()
}

// DeleteModels removes live models with their facts, cards and sub-models.
func (r *repo) DeleteModels(ctx context.Context, ids []int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		live, err := tr.liveIDs(ctx, types.KindModels, ids)
		if err != nil {
			return fmt.Errorf("query live models: %w", err)
		}
		if len(live) == 0 {
			return nil
		}

		factIDs, err := tr.queryIDs(ctx, `SELECT id FROM facts WHERE model_id IN (%s)`, live)
		if err != nil {
			return fmt.Errorf("query facts of models: %w", err)
		}
		if err := tr.deleteFacts(ctx, factIDs); err != nil {
			return err
		}

		// Cards whose fact belongs to another model but whose template is
		// being removed.
		cardIDs, err := tr.queryIDs(ctx, `
			SELECT id FROM cards WHERE card_model_id IN (SELECT id FROM card_models WHERE model_id IN (%s))
		`, live)
		if err != nil {
			return fmt.Errorf("query cards of models: %w", err)
		}
		if len(cardIDs) > 0 {
			if err := tr.tombstone(ctx, types.KindCards, cardIDs); err != nil {
				return err
			}
		}

		if err := tr.execIDs(ctx, `DELETE FROM field_models WHERE model_id IN (%s)`, live); err != nil {
			return fmt.Errorf("delete field models: %w", err)
		}
		if err := tr.execIDs(ctx, `DELETE FROM card_models WHERE model_id IN (%s)`, live); err != nil {
			return fmt.Errorf("delete card models: %w", err)
		}
		return tr.tombstone(ctx, types.KindModels, live)
	})
}

// --- Facts ---

// Facts returns the requested facts and all of their fields.
func (r *repo) Facts(ctx context.Context, ids []int64) (*types.FactBundle, error) {
	bundle := &types.FactBundle{Facts: []types.Fact{}, Fields: []types.Field{}}

	for _, chunk := range chunks(ids) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(`
			SELECT id, model_id, created, modified, tags, space_until, last_card_id
			FROM facts WHERE id IN (%s) ORDER BY id
		`, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query facts: %w", err)
		}
		for rows.Next() {
			var f types.Fact
			if err := rows.Scan(&f.ID, &f.ModelID, &f.Created, &f.Modified, &f.Tags, &f.SpaceUntil, &f.LastCardID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan fact: %w", err)
			}
			bundle.Facts = append(bundle.Facts, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate facts: %w", err)
		}

		rows, err = r.q().QueryContext(ctx, fmt.Sprintf(`
			SELECT id, fact_id, field_model_id, ordinal, value
			FROM fields WHERE fact_id IN (%s) ORDER BY fact_id, ordinal
		`, placeholders(len(chunk))), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query fields: %w", err)
		}
		for rows.Next() {
			var f types.Field
			if err := rows.Scan(&f.ID, &f.FactID, &f.FieldModelID, &f.Ordinal, &f.Value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan field: %w", err)
			}
			bundle.Fields = append(bundle.Fields, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate fields: %w", err)
		}
	}

	return bundle, nil
}

// UpsertFacts creates or replaces facts. The fields of every fact in the
// bundle are replaced by the bundle's fields.
func (r *repo) UpsertFacts(ctx context.Context, bundle *types.FactBundle) error {
	if bundle == nil || len(bundle.Facts) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tr *repo) error {
		factIDs := make([]int64, 0, len(bundle.Facts))
		for _, f := range bundle.Facts {
			_, err := tr.q().ExecContext(ctx, `
				INSERT INTO facts (id, model_id, created, modified, tags, space_until, last_card_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					model_id = excluded.model_id,
					created = excluded.created,
					modified = excluded.modified,
					tags = excluded.tags,
					space_until = excluded.space_until,
					last_card_id = excluded.last_card_id
			`, f.ID, f.ModelID, f.Created, f.Modified, f.Tags, f.SpaceUntil, f.LastCardID)
			if err != nil {
				return fmt.Errorf("upsert fact %d: %w", f.ID, err)
			}
			if err := tr.clearTombstone(ctx, types.KindFacts, f.ID); err != nil {
				return err
			}
			factIDs = append(factIDs, f.ID)
		}

		if err := tr.execIDs(ctx, `DELETE FROM fields WHERE fact_id IN (%s)`, factIDs); err != nil {
			return fmt.Errorf("delete replaced fields: %w", err)
		}
		for _, f := range bundle.Fields {
			_, err := tr.q().ExecContext(ctx, `
				INSERT INTO fields (id, fact_id, field_model_id, ordinal, value)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					fact_id = excluded.fact_id,
					field_model_id = excluded.field_model_id,
					ordinal = excluded.ordinal,
					value = excluded.value
			`, f.ID, f.FactID, f.FieldModelID, f.Ordinal, f.Value)
			if err != nil {
				return fmt.Errorf("insert field %d: %w", f.ID, err)
			}
		}
		return nil
	})
}

// DeleteFacts removes live facts with their fields and cards.
func (r *repo) DeleteFacts(ctx context.Context, ids []int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		return tr.deleteFacts(ctx, ids)
	})
}

func (r *repo) deleteFacts(ctx context.Context, ids []int64) error {
	live, err := r.liveIDs(ctx, types.KindFacts, ids)
	if err != nil {
		return fmt.Errorf("query live facts: %w", err)
	}
	if len(live) == 0 {
		return nil
	}

	cardIDs, err := r.queryIDs(ctx, `SELECT id FROM cards WHERE fact_id IN (%s)`, live)
	if err != nil {
		return fmt.Errorf("query cards of facts: %w", err)
	}
	if len(cardIDs) > 0 {
		if err := r.tombstone(ctx, types.KindCards, cardIDs); err != nil {
			return err
		}
	}
	if err := r.execIDs(ctx, `DELETE FROM fields WHERE fact_id IN (%s)`, live); err != nil {
		return fmt.Errorf("delete fields: %w", err)
	}
	return r.tombstone(ctx, types.KindFacts, live)
}

// --- Cards ---

const cardColumns = `id, fact_id, card_model_id, created, modified, tags, ordinal, question, answer,
	priority, interval, last_interval, due, last_due, factor, last_factor, first_answered,
	reps, successive, average_time, review_time,
	young_ease0, young_ease1, young_ease2, young_ease3, young_ease4,
	mature_ease0, mature_ease1, mature_ease2, mature_ease3, mature_ease4,
	yes_count, no_count`

func scanCard(scanner interface{ Scan(...any) error }) (types.Card, error) {
	var c types.Card
	err := scanner.Scan(
		&c.ID, &c.FactID, &c.CardModelID, &c.Created, &c.Modified, &c.Tags, &c.Ordinal,
		&c.Question, &c.Answer, &c.Priority, &c.Interval, &c.LastInterval, &c.Due, &c.LastDue,
		&c.Factor, &c.LastFactor, &c.FirstAnswered, &c.Reps, &c.Successive, &c.AverageTime,
		&c.ReviewTime,
		&c.YoungEase[0], &c.YoungEase[1], &c.YoungEase[2], &c.YoungEase[3], &c.YoungEase[4],
		&c.MatureEase[0], &c.MatureEase[1], &c.MatureEase[2], &c.MatureEase[3], &c.MatureEase[4],
		&c.YesCount, &c.NoCount,
	)
	return c, err
}

func cardArgs(c *types.Card) []any {
	return []any{
		c.ID, c.FactID, c.CardModelID, c.Created, c.Modified, c.Tags, c.Ordinal,
		c.Question, c.Answer, c.Priority, c.Interval, c.LastInterval, c.Due, c.LastDue,
		c.Factor, c.LastFactor, c.FirstAnswered, c.Reps, c.Successive, c.AverageTime,
		c.ReviewTime,
		c.YoungEase[0], c.YoungEase[1], c.YoungEase[2], c.YoungEase[3], c.YoungEase[4],
		c.MatureEase[0], c.MatureEase[1], c.MatureEase[2], c.MatureEase[3], c.MatureEase[4],
		c.YesCount, c.NoCount,
	}
}

// Cards returns the requested cards.
func (r *repo) Cards(ctx context.Context, ids []int64) ([]types.Card, error) {
	cards := []types.Card{}
	for _, chunk := range chunks(ids) {
		rows, err := r.q().QueryContext(ctx, fmt.Sprintf(
			`SELECT `+cardColumns+` FROM cards WHERE id IN (%s) ORDER BY id`,
			placeholders(len(chunk)),
		), int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("query cards: %w", err)
		}
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan card: %w", err)
			}
			cards = append(cards, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate cards: %w", err)
		}
	}
	return cards, nil
}

var upsertCardSQL = `INSERT INTO cards (` + cardColumns + `) VALUES (` + placeholders(33) + `)
	ON CONFLICT(id) DO UPDATE SET
		fact_id = excluded.fact_id, card_model_id = excluded.card_model_id,
		created = excluded.created, modified = excluded.modified, tags = excluded.tags,
		ordinal = excluded.ordinal, question = excluded.question, answer = excluded.answer,
		priority = excluded.priority, interval = excluded.interval,
		last_interval = excluded.last_interval, due = excluded.due, last_due = excluded.last_due,
		factor = excluded.factor, last_factor = excluded.last_factor,
		first_answered = excluded.first_answered, reps = excluded.reps,
		successive = excluded.successive, average_time = excluded.average_time,
		review_time = excluded.review_time,
		young_ease0 = excluded.young_ease0, young_ease1 = excluded.young_ease1,
		young_ease2 = excluded.young_ease2, young_ease3 = excluded.young_ease3,
		young_ease4 = excluded.young_ease4,
		mature_ease0 = excluded.mature_ease0, mature_ease1 = excluded.mature_ease1,
		mature_ease2 = excluded.mature_ease2, mature_ease3 = excluded.mature_ease3,
		mature_ease4 = excluded.mature_ease4,
		yes_count = excluded.yes_count, no_count = excluded.no_count`

// UpsertCards creates or replaces cards.
func (r *repo) UpsertCards(ctx context.Context, cards []types.Card) error {
	if len(cards) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tr *repo) error {
		for i := range cards {
			if _, err := tr.q().ExecContext(ctx, upsertCardSQL, cardArgs(&cards[i])...); err != nil {
				return fmt.Errorf("upsert card %d: %w", cards[i].ID, err)
			}
			if err := tr.clearTombstone(ctx, types.KindCards, cards[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteCards removes live cards among ids. Unknown or already deleted ids
// are ignored.
func (r *repo) DeleteCards(ctx context.Context, ids []int64) error {
	return r.inTx(ctx, func(tr *repo) error {
		live, err := tr.liveIDs(ctx, types.KindCards, ids)
		if err != nil {
			return fmt.Errorf("query live cards: %w", err)
		}
		if len(live) == 0 {
			return nil
		}
		return tr.tombstone(ctx, types.KindCards, live)
	})
}

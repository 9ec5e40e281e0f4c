package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/decksync/internal/types"
)

const statColumns = `type, day, reps, average_time, review_time, distracted_time, distracted_reps,
	new_ease0, new_ease1, new_ease2, new_ease3, new_ease4,
	young_ease0, young_ease1, young_ease2, young_ease3, young_ease4,
	mature_ease0, mature_ease1, mature_ease2, mature_ease3, mature_ease4`

func scanStat(scanner interface{ Scan(...any) error }) (types.StatRow, error) {
	var s types.StatRow
	err := scanner.Scan(
		&s.Type, &s.Day, &s.Reps, &s.AverageTime, &s.ReviewTime, &s.DistractedTime, &s.DistractedReps,
		&s.NewEase[0], &s.NewEase[1], &s.NewEase[2], &s.NewEase[3], &s.NewEase[4],
		&s.YoungEase[0], &s.YoungEase[1], &s.YoungEase[2], &s.YoungEase[3], &s.YoungEase[4],
		&s.MatureEase[0], &s.MatureEase[1], &s.MatureEase[2], &s.MatureEase[3], &s.MatureEase[4],
	)
	return s, err
}

func statArgs(s *types.StatRow) []any {
	return []any{
		s.Type, s.Day, s.Reps, s.AverageTime, s.ReviewTime, s.DistractedTime, s.DistractedReps,
		s.NewEase[0], s.NewEase[1], s.NewEase[2], s.NewEase[3], s.NewEase[4],
		s.YoungEase[0], s.YoungEase[1], s.YoungEase[2], s.YoungEase[3], s.YoungEase[4],
		s.MatureEase[0], s.MatureEase[1], s.MatureEase[2], s.MatureEase[3], s.MatureEase[4],
	}
}

// GlobalStats returns the deck's global statistics row.
func (r *repo) GlobalStats(ctx context.Context) (types.StatRow, error) {
	row := r.q().QueryRowContext(ctx, `SELECT `+statColumns+` FROM stats WHERE type = 0`)
	s, err := scanStat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StatRow{Type: types.StatGlobal}, nil
	}
	if err != nil {
		return types.StatRow{}, fmt.Errorf("query global stats: %w", err)
	}
	return s, nil
}

// DailyStatsSince returns daily statistics for day and later, oldest first.
func (r *repo) DailyStatsSince(ctx context.Context, day string) ([]types.StatRow, error) {
	rows, err := r.q().QueryContext(ctx, `
		SELECT `+statColumns+` FROM stats WHERE type = 1 AND day >= ? ORDER BY day
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	out := []types.StatRow{}
	for rows.Next() {
		s, err := scanStat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceGlobalStats overwrites the global statistics row.
func (r *repo) ReplaceGlobalStats(ctx context.Context, row types.StatRow) error {
	row.Type = types.StatGlobal
	return r.inTx(ctx, func(tr *repo) error {
		if _, err := tr.q().ExecContext(ctx, `DELETE FROM stats WHERE type = 0`); err != nil {
			return fmt.Errorf("clear global stats: %w", err)
		}
		if _, err := tr.q().ExecContext(ctx,
			`INSERT INTO stats (`+statColumns+`) VALUES (`+placeholders(22)+`)`,
			statArgs(&row)...,
		); err != nil {
			return fmt.Errorf("insert global stats: %w", err)
		}
		return nil
	})
}

// InsertMissingDailyStats inserts daily rows for days not yet present.
// Existing days are left untouched.
func (r *repo) InsertMissingDailyStats(ctx context.Context, rows []types.StatRow) (int, error) {
	inserted := 0
	err := r.inTx(ctx, func(tr *repo) error {
		for i := range rows {
			row := rows[i]
			row.Type = types.StatDaily
			res, err := tr.q().ExecContext(ctx,
				`INSERT OR IGNORE INTO stats (`+statColumns+`) VALUES (`+placeholders(22)+`)`,
				statArgs(&row)...,
			)
			if err != nil {
				return fmt.Errorf("insert daily stats %s: %w", row.Day, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("daily stats rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// bumpStats adds one answer with the given ease to the global row and to
// the daily row for day, creating the daily row if needed.
func (r *repo) bumpStats(ctx context.Context, day string, bucket string, ease int, thinkingTime float64) error {
	if _, err := r.q().ExecContext(ctx,
		`INSERT OR IGNORE INTO stats (type, day) VALUES (1, ?)`, day,
	); err != nil {
		return fmt.Errorf("create daily stats: %w", err)
	}
	column := fmt.Sprintf("%s_ease%d", bucket, ease)
	_, err := r.q().ExecContext(ctx, `
		UPDATE stats SET
			reps = reps + 1,
			review_time = review_time + ?,
			average_time = (review_time + ?) / (reps + 1),
			`+column+` = `+column+` + 1
		WHERE type = 0 OR (type = 1 AND day = ?)
	`, thinkingTime, thinkingTime, day)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return nil
}

// HistorySince returns review history newer than t, oldest first.
func (r *repo) HistorySince(ctx context.Context, t float64) ([]types.HistoryRow, error) {
	rows, err := r.q().QueryContext(ctx, `
		SELECT card_id, time, last_interval, next_interval, ease, delay, last_factor,
		       next_factor, reps, thinking_time, yes_count, no_count
		FROM review_history WHERE time > ? ORDER BY time, id
	`, t)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []types.HistoryRow{}
	for rows.Next() {
		var h types.HistoryRow
		if err := rows.Scan(&h.CardID, &h.Time, &h.LastInterval, &h.NextInterval, &h.Ease, &h.Delay,
			&h.LastFactor, &h.NextFactor, &h.Reps, &h.ThinkingTime, &h.YesCount, &h.NoCount); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AppendHistory appends review history rows.
func (r *repo) AppendHistory(ctx context.Context, rows []types.HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tr *repo) error {
		for _, h := range rows {
			_, err := tr.q().ExecContext(ctx, `
				INSERT INTO review_history (card_id, time, last_interval, next_interval, ease, delay,
					last_factor, next_factor, reps, thinking_time, yes_count, no_count)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, h.CardID, h.Time, h.LastInterval, h.NextInterval, h.Ease, h.Delay,
				h.LastFactor, h.NextFactor, h.Reps, h.ThinkingTime, h.YesCount, h.NoCount)
			if err != nil {
				return fmt.Errorf("append history: %w", err)
			}
		}
		return nil
	})
}

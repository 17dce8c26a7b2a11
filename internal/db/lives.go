package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
)

const liveColumns = `id, streamer_id, title, thumbnail_url, categories, state, meta_goal, meta_progress, viewers_count, created_at, ended_at`

func scanLive(row pgx.Row) (*live.Session, error) {
	var s live.Session
	var cats []string
	var state int16
	err := row.Scan(&s.ID, &s.StreamerID, &s.Title, &s.ThumbnailURL, &cats, &state,
		&s.MetaGoal, &s.MetaProgress, &s.ViewersCount, &s.CreatedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, live.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.State = live.State(state)
	s.Categories = make([]live.Category, len(cats))
	for i, c := range cats {
		s.Categories[i] = live.Category(c)
	}
	return &s, nil
}

func categoryStrings(cats []live.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func (db *DB) CreateLive(ctx context.Context, s *live.Session) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO lives (id, streamer_id, title, thumbnail_url, categories, state, meta_goal, meta_progress, viewers_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.StreamerID, s.Title, s.ThumbnailURL, categoryStrings(s.Categories), int16(s.State),
		s.MetaGoal, s.MetaProgress, s.ViewersCount, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return live.ErrStreamerBusy
	}
	return err
}

func (db *DB) GetLive(ctx context.Context, id string) (*live.Session, error) {
	return scanLive(db.pool.QueryRow(ctx, `SELECT `+liveColumns+` FROM lives WHERE id = $1`, id))
}

func (db *DB) ListLives(ctx context.Context, f live.ListFilter) ([]*live.Session, error) {
	var where []string
	var args []any
	if f.ActiveOnly {
		args = append(args, int16(live.StateActive))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.StreamerID != "" {
		args = append(args, f.StreamerID)
		where = append(where, fmt.Sprintf("streamer_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("$%d = ANY(categories)", len(args)))
	}

	query := `SELECT ` + liveColumns + ` FROM lives`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY viewers_count DESC, created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*live.Session
	for rows.Next() {
		s, err := scanLive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) EndLive(ctx context.Context, id, streamerID string, at time.Time) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE lives SET state = $4, ended_at = $3 WHERE id = $1 AND streamer_id = $2 AND state = $5`,
		id, streamerID, at, int16(live.StateEnded), int16(live.StateActive),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		// Other instances stop billing and close sockets for this live.
		payload, err := chat.EndedPayload(id)
		if err != nil {
			return err
		}
		if _, err := db.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, chat.NotifyChannel, payload); err != nil {
			logging.Component("db").WithError(err).WithField("live_id", id).Warn("failed to announce live end")
		}
		return nil
	}
	// Report the same error the state machine would.
	s, err := db.GetLive(ctx, id)
	if err != nil {
		return err
	}
	return s.End(streamerID, at)
}

func (db *DB) SetViewers(ctx context.Context, id string, n int64) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE lives SET viewers_count = $2 WHERE id = $1 AND state = $3`,
		id, n, int16(live.StateActive),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	if _, err := db.GetLive(ctx, id); err != nil {
		return err
	}
	return live.ErrNotActive
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/model"
)

const eventColumns = `id, live_id, seq, sender_id, sender_name, kind, message, gift_icon, gift_amount, created_at`

func scanEvent(row pgx.Row) (chat.Event, error) {
	var e chat.Event
	var kind, message, icon string
	var amount int64
	if err := row.Scan(&e.ID, &e.LiveID, &e.Seq, &e.SenderID, &e.SenderName, &kind, &message, &icon, &amount, &e.CreatedAt); err != nil {
		return chat.Event{}, err
	}
	body, err := chat.NewBody(chat.Kind(kind), message, icon, amount)
	if err != nil {
		return chat.Event{}, err
	}
	e.Body = body
	return e, nil
}

// insertEvent stores e and announces it on chat.NotifyChannel. The
// notification is delivered when the surrounding transaction commits.
func insertEvent(ctx context.Context, q querier, e chat.Event) error {
	var icon string
	var amount int64
	if g, ok := e.Gift(); ok {
		icon, amount = g.Icon, g.Amount
	}
	_, err := q.Exec(ctx, `
		INSERT INTO chat_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.LiveID, e.Seq, e.SenderID, e.SenderName, string(e.Body.Kind()), e.Body.Text(), icon, amount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat event: %w", err)
	}
	payload, err := json.Marshal(struct {
		LiveID string `json:"live_id"`
		Seq    int64  `json:"seq"`
	}{e.LiveID, e.Seq})
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `SELECT pg_notify($1, $2)`, chat.NotifyChannel, string(payload))
	return err
}

// liveStatus distinguishes a missing live from an inactive one after a
// guarded update matched no rows.
func liveStatus(ctx context.Context, q querier, id string) error {
	var state int16
	err := q.QueryRow(ctx, `SELECT state FROM lives WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return live.ErrNotFound
	}
	if err != nil {
		return err
	}
	return live.ErrNotActive
}

func (db *DB) AppendMessage(ctx context.Context, liveID, senderID, senderName, text string) (chat.Event, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return chat.Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx,
		`UPDATE lives SET chat_seq = chat_seq + 1 WHERE id = $1 AND state = $2 RETURNING chat_seq`,
		liveID, int16(live.StateActive),
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Event{}, liveStatus(ctx, tx, liveID)
	}
	if err != nil {
		return chat.Event{}, err
	}

	e := chat.Event{
		ID:         uuid.New().String(),
		LiveID:     liveID,
		Seq:        seq,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       chat.PlainMessage{Message: text},
		CreatedAt:  time.Now().UTC(),
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return chat.Event{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Event{}, err
	}
	return e, nil
}

func (db *DB) queryEvents(ctx context.Context, liveID, query string, args ...any) ([]chat.Event, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := db.GetLive(ctx, liveID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// History returns the newest limit events in seq order.
func (db *DB) History(ctx context.Context, liveID string, limit int) ([]chat.Event, error) {
	return db.queryEvents(ctx, liveID, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM chat_events WHERE live_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`,
		liveID, limit,
	)
}

func (db *DB) Since(ctx context.Context, liveID string, afterSeq int64, limit int) ([]chat.Event, error) {
	return db.queryEvents(ctx, liveID, `
		SELECT `+eventColumns+` FROM chat_events
		WHERE live_id = $1 AND seq > $2
		ORDER BY seq ASC LIMIT $3`,
		liveID, afterSeq, limit,
	)
}

// ApplyGift commits the debit, the transaction record, the goal increment
// and the gift event in one transaction with the live row locked.
func (db *DB) ApplyGift(ctx context.Context, g gifting.Gift, split func(streamerID string) (model.Transaction, error)) (gifting.Receipt, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return gifting.Receipt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := scanLive(tx.QueryRow(ctx, `SELECT `+liveColumns+` FROM lives WHERE id = $1 FOR UPDATE`, g.LiveID))
	if err != nil {
		return gifting.Receipt{}, err
	}
	if !sess.IsActive() {
		return gifting.Receipt{}, live.ErrNotActive
	}
	rec, err := split(sess.StreamerID)
	if err != nil {
		return gifting.Receipt{}, err
	}
	added, err := sess.ApplyGift(g.Amount)
	if err != nil {
		return gifting.Receipt{}, err
	}

	bal, err := debitBalance(ctx, tx, g.SenderID, g.Amount)
	if err != nil {
		return gifting.Receipt{}, err
	}
	recorded, err := insertTransaction(ctx, tx, rec, bal)
	if err != nil {
		return gifting.Receipt{}, err
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`UPDATE lives SET meta_progress = $2, chat_seq = chat_seq + 1 WHERE id = $1 RETURNING chat_seq`,
		sess.ID, sess.MetaProgress,
	).Scan(&seq)
	if err != nil {
		return gifting.Receipt{}, err
	}

	at := g.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	e := chat.Event{
		ID:         uuid.New().String(),
		LiveID:     sess.ID,
		Seq:        seq,
		SenderID:   g.SenderID,
		SenderName: g.SenderName,
		Body:       chat.GiftMessage{Message: g.Message, Icon: g.Icon, Amount: g.Amount},
		CreatedAt:  at,
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return gifting.Receipt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return gifting.Receipt{}, err
	}

	return gifting.Receipt{
		Event:       e,
		Live:        *sess,
		Transaction: recorded,
		Balance:     bal,
		GoalAdded:   added,
		GoalReached: sess.GoalReached(),
	}, nil
}

// Listen holds a dedicated connection subscribed to channel and hands each
// notification payload to handle until ctx ends or the connection fails.
func (db *DB) Listen(ctx context.Context, channel string, ready func(), handle func(payload string)) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	defer func() { _, _ = conn.Exec(context.Background(), "UNLISTEN *") }()

	ready()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle(n.Payload)
	}
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/model"
)

const profileColumns = `id, username, display_name, avatar_url, balance, created_at`

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Balance, &p.CreatedAt)
	return p, err
}

// CreateProfileIfMissing inserts p unless a profile with its ID exists. It
// reports whether the row was created.
func (db *DB) CreateProfileIfMissing(ctx context.Context, p model.Profile) (model.Profile, bool, error) {
	created, err := scanProfile(db.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, username, display_name, avatar_url, balance)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+profileColumns,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.Balance,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, false, err
	}
	existing, err := db.GetProfile(ctx, p.ID)
	return existing, false, err
}

func (db *DB) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	p, err := scanProfile(db.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, ledger.ErrAccountNotFound
	}
	return p, err
}

func (db *DB) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := db.pool.QueryRow(ctx, `SELECT balance FROM profiles WHERE id = $1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	return bal, err
}

// debitBalance takes amount from userID only if the balance covers it.
func debitBalance(ctx context.Context, q querier, userID string, amount int64) (int64, error) {
	var bal int64
	err := q.QueryRow(ctx,
		`UPDATE profiles SET balance = balance - $2 WHERE id = $1 AND balance >= $2 RETURNING balance`,
		userID, amount,
	).Scan(&bal)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ledger.ErrAccountNotFound
	}
	return 0, ledger.ErrInsufficientBalance
}

func creditBalance(ctx context.Context, q querier, userID string, amount int64) (int64, error) {
	var bal int64
	err := q.QueryRow(ctx,
		`UPDATE profiles SET balance = balance + $2 WHERE id = $1 AND balance <= $3::BIGINT - $2 RETURNING balance`,
		userID, amount, ledger.MaxBalance,
	).Scan(&bal)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ledger.ErrAccountNotFound
	}
	return 0, ledger.ErrBalanceOverflow
}

func insertTransaction(ctx context.Context, q querier, tx model.Transaction, balance int64) (model.Transaction, error) {
	tx.ID = uuid.New().String()
	tx.BalanceAfter = balance
	tx.CreatedAt = time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, user_id, creator_id, live_id, kind, direction, gross_amount,
			creator_share, platform_share, reference, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.UserID, tx.CreatorID, tx.LiveID, string(tx.Kind), tx.Direction, tx.Gross,
		tx.CreatorShare, tx.PlatformShare, tx.Reference, tx.BalanceAfter, tx.CreatedAt,
	)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

func (db *DB) ApplyDebit(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bal, err := debitBalance(ctx, tx, t.UserID, t.Gross)
	if err != nil {
		return model.Transaction{}, err
	}
	rec, err := insertTransaction(ctx, tx, t, bal)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Transaction{}, err
	}
	return rec, nil
}

func (db *DB) ApplyCredit(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bal, err := creditBalance(ctx, tx, t.UserID, t.Gross)
	if err != nil {
		return model.Transaction{}, err
	}
	rec, err := insertTransaction(ctx, tx, t, bal)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Transaction{}, err
	}
	return rec, nil
}

func (db *DB) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, user_id, creator_id, live_id, kind, direction, gross_amount,
			creator_share, platform_share, reference, balance_after, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.UserID, &t.CreatorID, &t.LiveID, &kind, &t.Direction, &t.Gross,
			&t.CreatorShare, &t.PlatformShare, &t.Reference, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = model.TxKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) Earnings(ctx context.Context, creatorID string) (model.Earnings, error) {
	e := model.Earnings{CreatorID: creatorID, ByKind: make(map[model.TxKind]int64)}
	rows, err := db.pool.Query(ctx, `
		SELECT kind, SUM(creator_share)::BIGINT, SUM(platform_share)::BIGINT
		FROM transactions
		WHERE creator_id = $1 AND direction = 'debit'
		GROUP BY kind`,
		creatorID,
	)
	if err != nil {
		return e, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var creator, platform int64
		if err := rows.Scan(&kind, &creator, &platform); err != nil {
			return e, err
		}
		e.ByKind[model.TxKind(kind)] = creator
		e.Total += creator
		e.PlatformTotal += platform
	}
	return e, rows.Err()
}

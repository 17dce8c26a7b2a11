package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/susu3304/amanteslive/internal/market"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RunMigrations creates the schema and seeds the default subscription packages.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES profiles(id),
			creator_id TEXT NOT NULL DEFAULT '',
			live_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			gross_amount BIGINT NOT NULL CHECK (gross_amount >= 0),
			creator_share BIGINT NOT NULL DEFAULT 0,
			platform_share BIGINT NOT NULL DEFAULT 0,
			reference TEXT NOT NULL DEFAULT '',
			balance_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (creator_share + platform_share IN (0, gross_amount))
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_creator ON transactions(creator_id) WHERE creator_id <> '';

		CREATE TABLE IF NOT EXISTS lives (
			id TEXT PRIMARY KEY,
			streamer_id TEXT NOT NULL,
			title TEXT NOT NULL,
			thumbnail_url TEXT NOT NULL DEFAULT '',
			categories TEXT[] NOT NULL,
			state SMALLINT NOT NULL,
			meta_goal BIGINT NOT NULL CHECK (meta_goal > 0),
			meta_progress BIGINT NOT NULL DEFAULT 0 CHECK (meta_progress <= meta_goal),
			viewers_count BIGINT NOT NULL DEFAULT 0,
			chat_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_lives_one_active ON lives(streamer_id) WHERE state = 1;

		CREATE TABLE IF NOT EXISTS chat_events (
			id TEXT PRIMARY KEY,
			live_id TEXT NOT NULL REFERENCES lives(id),
			seq BIGINT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			gift_icon TEXT NOT NULL DEFAULT '',
			gift_amount BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (live_id, seq)
		);

		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			price BIGINT NOT NULL CHECK (price > 0),
			image_url TEXT NOT NULL DEFAULT '',
			badge TEXT NOT NULL DEFAULT '',
			categories TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			product_id TEXT NOT NULL REFERENCES products(id),
			product_title TEXT NOT NULL,
			product_type TEXT NOT NULL,
			product_price BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_buyer ON purchases(buyer_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS subscription_packages (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price BIGINT NOT NULL CHECK (price >= 0),
			creator_id TEXT NOT NULL DEFAULT '',
			features TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			package_id TEXT NOT NULL REFERENCES subscription_packages(id),
			creator_id TEXT NOT NULL,
			price BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			started_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(user_id, package_id) WHERE is_active;
	`)
	if err != nil {
		return err
	}

	for _, p := range market.DefaultPackages() {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO subscription_packages (id, slug, name, description, price, creator_id, features, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Slug, p.Name, p.Description, p.Price, p.CreatorID, p.Features, p.IsActive,
		)
		if err != nil {
			return fmt.Errorf("seed package %s: %w", p.ID, err)
		}
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/model"
)

const productColumns = `id, creator_id, title, description, type, price, image_url, badge, categories, is_active, created_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	var typ string
	err := row.Scan(&p.ID, &p.CreatorID, &p.Title, &p.Description, &typ, &p.Price, &p.ImageURL, &p.Badge, &p.Categories, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, market.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = model.ProductType(typ)
	return &p, nil
}

func (db *DB) CreateProduct(ctx context.Context, p *model.Product) error {
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.CreatorID, p.Title, p.Description, string(p.Type), p.Price, p.ImageURL, p.Badge, categories, p.IsActive, p.CreatedAt,
	)
	return err
}

func (db *DB) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return scanProduct(db.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (db *DB) ListProducts(ctx context.Context, productType model.ProductType, creatorID string) ([]model.Product, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE is_active AND ($1 = '' OR type = $1) AND ($2 = '' OR creator_id = $2)
		ORDER BY created_at DESC`,
		string(productType), creatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (db *DB) InsertPurchase(ctx context.Context, p *model.Purchase) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO purchases (id, buyer_id, seller_id, product_id, product_title, product_type, product_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.BuyerID, p.SellerID, p.ProductID, p.ProductTitle, string(p.ProductType), p.Price, p.CreatedAt,
	)
	return err
}

func (db *DB) ListPurchases(ctx context.Context, buyerID string) ([]model.Purchase, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, buyer_id, seller_id, product_id, product_title, product_type, product_price, created_at
		FROM purchases WHERE buyer_id = $1
		ORDER BY created_at DESC`,
		buyerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Purchase
	for rows.Next() {
		var p model.Purchase
		var typ string
		if err := rows.Scan(&p.ID, &p.BuyerID, &p.SellerID, &p.ProductID, &p.ProductTitle, &typ, &p.Price, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ProductType = model.ProductType(typ)
		out = append(out, p)
	}
	return out, rows.Err()
}

const packageColumns = `id, slug, name, description, price, creator_id, features, is_active`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var p model.Package
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &p.CreatorID, &p.Features, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, market.ErrPackageNotFound
	}
	return &p, err
}

func (db *DB) GetPackage(ctx context.Context, id string) (*model.Package, error) {
	return scanPackage(db.pool.QueryRow(ctx, `SELECT `+packageColumns+` FROM subscription_packages WHERE id = $1 OR slug = $1`, id))
}

func (db *DB) ListPackages(ctx context.Context) ([]model.Package, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+packageColumns+` FROM subscription_packages WHERE is_active ORDER BY price`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const subscriptionColumns = `id, user_id, package_id, creator_id, price, is_active, started_at, expires_at`

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PackageID, &s.CreatorID, &s.Price, &s.IsActive, &s.StartedAt, &s.ExpiresAt)
	return s, err
}

func (db *DB) ActiveSubscription(ctx context.Context, userID, packageID string, now time.Time) (*model.Subscription, error) {
	s, err := scanSubscription(db.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND package_id = $2 AND is_active AND expires_at > $3`,
		userID, packageID, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSubscription retires lapsed rows for the same package first, so the
// one-active-per-package index only rejects a genuinely concurrent subscribe.
func (db *DB) InsertSubscription(ctx context.Context, s *model.Subscription) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE user_id = $1 AND package_id = $2 AND is_active AND expires_at <= $3`,
		s.UserID, s.PackageID, s.StartedAt,
	); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.PackageID, s.CreatorID, s.Price, s.IsActive, s.StartedAt, s.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return market.ErrAlreadySubscribed
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) ListSubscriptions(ctx context.Context, userID string, now time.Time) ([]model.Subscription, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY started_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx, `UPDATE subscriptions SET is_active = FALSE WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

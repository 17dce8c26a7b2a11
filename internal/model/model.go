package model

import "time"

// TxKind tags what a ledger movement paid for.
type TxKind string

const (
	KindMimo         TxKind = "mimo"
	KindCrisex       TxKind = "crisex"
	KindReelMimo     TxKind = "reel_mimo"
	KindDiscrete     TxKind = "discrete_mode"
	KindProduct      TxKind = "product"
	KindPack         TxKind = "pack"
	KindSubscription TxKind = "subscription"
	KindRecharge     TxKind = "recharge"
	KindRefund       TxKind = "refund"
)

// Monetized reports whether the kind carries a creator/platform split.
func (k TxKind) Monetized() bool {
	switch k {
	case KindRecharge, KindRefund:
		return false
	}
	return true
}

type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction is the immutable audit record of one balance movement.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CreatorID     string    `json:"creator_id,omitempty"`
	LiveID        string    `json:"live_id,omitempty"`
	Kind          TxKind    `json:"kind"`
	Direction     string    `json:"direction"`
	Gross         int64     `json:"gross_amount"`
	CreatorShare  int64     `json:"creator_share"`
	PlatformShare int64     `json:"platform_share"`
	Reference     string    `json:"reference,omitempty"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Earnings summarizes the creator shares attributed to one creator.
type Earnings struct {
	CreatorID     string           `json:"creator_id"`
	Total         int64            `json:"total"`
	PlatformTotal int64            `json:"platform_total"`
	ByKind        map[TxKind]int64 `json:"by_kind"`
}

type ProductType string

const (
	ProductTypeProduct ProductType = "product"
	ProductTypePack    ProductType = "pack"
)

type Product struct {
	ID          string      `json:"id"`
	CreatorID   string      `json:"creator_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Type        ProductType `json:"type"`
	Price       int64       `json:"price"`
	ImageURL    string      `json:"image_url,omitempty"`
	Badge       string      `json:"badge,omitempty"`
	Categories  []string    `json:"categories,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
}

type Purchase struct {
	ID           string      `json:"id"`
	BuyerID      string      `json:"buyer_id"`
	SellerID     string      `json:"seller_id"`
	ProductID    string      `json:"product_id"`
	ProductTitle string      `json:"product_title"`
	ProductType  ProductType `json:"product_type"`
	Price        int64       `json:"product_price"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Package struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       int64    `json:"price"`
	CreatorID   string   `json:"creator_id,omitempty"`
	Features    []string `json:"features"`
	IsActive    bool     `json:"is_active"`
}

type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PackageID string    `json:"package_id"`
	CreatorID string    `json:"creator_id"`
	Price     int64     `json:"price"`
	IsActive  bool      `json:"is_active"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubscriptionPeriod is how long a package purchase grants access.
const SubscriptionPeriod = 30 * 24 * time.Hour

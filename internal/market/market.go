// Package market sells products, packs and subscription packages for CRISEX.
package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/model"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrPackageNotFound   = errors.New("package not found")
	ErrOwnProduct        = errors.New("cannot buy your own product")
	ErrAlreadySubscribed = errors.New("subscription already active")
	ErrInvalidProduct    = errors.New("invalid product")
)

type Store interface {
	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, productType model.ProductType, creatorID string) ([]model.Product, error)
	InsertPurchase(ctx context.Context, p *model.Purchase) error
	ListPurchases(ctx context.Context, buyerID string) ([]model.Purchase, error)

	GetPackage(ctx context.Context, id string) (*model.Package, error)
	ListPackages(ctx context.Context) ([]model.Package, error)
	ActiveSubscription(ctx context.Context, userID, packageID string, now time.Time) (*model.Subscription, error)
	InsertSubscription(ctx context.Context, s *model.Subscription) error
	ListSubscriptions(ctx context.Context, userID string, now time.Time) ([]model.Subscription, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	store    Store
	ledger   *ledger.Manager
	platform string
	log      *logrus.Entry
	now      func() time.Time
}

// NewService builds the market. platformAccount is the creator of record
// for packages the platform itself sells.
func NewService(store Store, ledgerMgr *ledger.Manager, platformAccount string) *Service {
	return &Service{
		store:    store,
		ledger:   ledgerMgr,
		platform: platformAccount,
		log:      logging.Component("market"),
		now:      time.Now,
	}
}

type NewProduct struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Type        model.ProductType `json:"type"`
	Price       int64             `json:"price"`
	ImageURL    string            `json:"image_url"`
	Badge       string            `json:"badge"`
	Categories  []string          `json:"categories"`
}

func (s *Service) CreateProduct(ctx context.Context, creatorID string, req NewProduct) (*model.Product, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.Price <= 0 {
		return nil, ErrInvalidProduct
	}
	if req.Type == "" {
		req.Type = model.ProductTypeProduct
	}
	if req.Type != model.ProductTypeProduct && req.Type != model.ProductTypePack {
		return nil, ErrInvalidProduct
	}
	p := &model.Product{
		ID:          uuid.New().String(),
		CreatorID:   creatorID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
		Badge:       req.Badge,
		Categories:  req.Categories,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, productType model.ProductType, creatorID string) ([]model.Product, error) {
	return s.store.ListProducts(ctx, productType, creatorID)
}

func (s *Service) Purchases(ctx context.Context, buyerID string) ([]model.Purchase, error) {
	return s.store.ListPurchases(ctx, buyerID)
}

// Purchase charges the buyer and records the purchase. If the purchase
// row cannot be written the charge is refunded.
func (s *Service) Purchase(ctx context.Context, buyerID, productID string) (*model.Purchase, int64, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, 0, err
	}
	if !p.IsActive {
		return nil, 0, ErrProductNotFound
	}
	if p.CreatorID == buyerID {
		return nil, 0, ErrOwnProduct
	}

	kind := model.KindProduct
	if p.Type == model.ProductTypePack {
		kind = model.KindPack
	}

	purchase := &model.Purchase{
		ID:           uuid.New().String(),
		BuyerID:      buyerID,
		SellerID:     p.CreatorID,
		ProductID:    p.ID,
		ProductTitle: p.Title,
		ProductType:  p.Type,
		Price:        p.Price,
	}
	debit, err := s.ledger.DebitThen(ctx, model.Transaction{
		UserID:    buyerID,
		CreatorID: p.CreatorID,
		Kind:      kind,
		Gross:     p.Price,
		Reference: purchase.ID,
	}, func(ctx context.Context, debit model.Transaction) error {
		purchase.CreatedAt = debit.CreatedAt
		return s.store.InsertPurchase(ctx, purchase)
	})
	if err != nil {
		return nil, 0, err
	}
	s.log.WithFields(logrus.Fields{"buyer_id": buyerID, "product_id": p.ID, "price": p.Price}).Info("product purchased")
	return purchase, debit.BalanceAfter, nil
}

func (s *Service) Packages(ctx context.Context) ([]model.Package, error) {
	return s.store.ListPackages(ctx)
}

func (s *Service) Subscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	return s.store.ListSubscriptions(ctx, userID, s.now().UTC())
}

// Subscribe activates a package for SubscriptionPeriod. Free packages skip
// the ledger; paid ones are charged first and refunded if the
// subscription cannot be stored.
func (s *Service) Subscribe(ctx context.Context, userID, packageID string) (*model.Subscription, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageNotFound
	}
	now := s.now().UTC()
	existing, err := s.store.ActiveSubscription(ctx, userID, pkg.ID, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadySubscribed
	}

	creator := pkg.CreatorID
	if creator == "" {
		creator = s.platform
	}
	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		PackageID: pkg.ID,
		CreatorID: creator,
		Price:     pkg.Price,
		IsActive:  true,
		StartedAt: now,
		ExpiresAt: now.Add(model.SubscriptionPeriod),
	}

	if pkg.Price == 0 {
		if err := s.store.InsertSubscription(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}

	_, err = s.ledger.DebitThen(ctx, model.Transaction{
		UserID:    userID,
		CreatorID: creator,
		Kind:      model.KindSubscription,
		Gross:     pkg.Price,
		Reference: sub.ID,
	}, func(ctx context.Context, _ model.Transaction) error {
		return s.store.InsertSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "package": pkg.Slug, "expires_at": sub.ExpiresAt}).Info("subscription activated")
	return sub, nil
}

// ExpireSubscriptions deactivates subscriptions past their expiry.
func (s *Service) ExpireSubscriptions(ctx context.Context) (int64, error) {
	return s.store.ExpireSubscriptions(ctx, s.now().UTC())
}

// DefaultPackages are the subscription packages every store starts with.
func DefaultPackages() []model.Package {
	return []model.Package{
		{
			ID:          "acesso-live",
			Slug:        "acesso-live",
			Name:        "Acesso Live",
			Description: "Assista e participe das lives",
			Price:       0,
			Features:    []string{"Assistir lives", "Chat ao vivo", "Enviar mimos"},
			IsActive:    true,
		},
		{
			ID:          "acesso-criador",
			Slug:        "acesso-criador",
			Name:        "Acesso Criador",
			Description: "Transmita suas próprias lives",
			Price:       300,
			Features:    []string{"Iniciar lives", "Meta de mimos", "Modo discreto para fãs"},
			IsActive:    true,
		},
		{
			ID:          "programa-monetizado",
			Slug:        "programa-monetizado",
			Name:        "Programa Monetizado",
			Description: "Venda produtos e packs na loja",
			Price:       1000,
			Features:    []string{"Loja de produtos", "Packs exclusivos", "Relatório de ganhos"},
			IsActive:    true,
		},
	}
}

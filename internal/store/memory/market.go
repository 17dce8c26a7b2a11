package memory

import (
	"context"
	"sort"
	"time"

	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/model"
)

func (s *Store) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, market.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(_ context.Context, productType model.ProductType, creatorID string) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Product
	for _, p := range s.products {
		if !p.IsActive {
			continue
		}
		if productType != "" && p.Type != productType {
			continue
		}
		if creatorID != "" && p.CreatorID != creatorID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) InsertPurchase(_ context.Context, p *model.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases = append(s.purchases, *p)
	return nil
}

func (s *Store) ListPurchases(_ context.Context, buyerID string) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Purchase
	for i := len(s.purchases) - 1; i >= 0; i-- {
		if s.purchases[i].BuyerID == buyerID {
			out = append(out, s.purchases[i])
		}
	}
	return out, nil
}

func (s *Store) GetPackage(_ context.Context, id string) (*model.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, market.ErrPackageNotFound
	}
	return &p, nil
}

func (s *Store) ListPackages(_ context.Context) ([]model.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Package, 0, len(s.packages))
	for _, p := range s.packages {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (s *Store) ActiveSubscription(_ context.Context, userID, packageID string, now time.Time) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.PackageID == packageID && sub.IsActive && sub.ExpiresAt.After(now) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) InsertSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions = append(s.subscriptions, &cp)
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, now time.Time) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.IsActive && sub.ExpiresAt.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *Store) ExpireSubscriptions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sub := range s.subscriptions {
		if sub.IsActive && !sub.ExpiresAt.After(now) {
			sub.IsActive = false
			n++
		}
	}
	return n, nil
}
